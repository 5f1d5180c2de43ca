// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"
	"time"
)

// ErrReadOnlySource is returned by every write method of a read-only
// provider adapter (CalDAV).
var ErrReadOnlySource = errors.New("provider: source is read-only")

// CalendarProviderPort is the small capability set every provider variant
// implements: resolve_primary_calendar, full_list, incremental_list,
// create, patch, delete, register/renew/stop channel, and free/busy. Token
// refresh is not part of it; the Account Coordinator refreshes through
// golang.org/x/oauth2. The Classifier and Projection Compiler never see this
// interface directly — the Write and Sync Pipelines and the Account
// Coordinator's channel bookkeeping dispatch against it.
//
// CalDAV is read-only: its adapter implements the read half and returns
// ErrReadOnlySource from every write method.
type CalendarProviderPort interface {
	Name() string

	ResolvePrimaryCalendar(ctx context.Context, account *ProviderAuth) (string, error)

	FullList(ctx context.Context, account *ProviderAuth, calendarID string, window TimePeriod) (*ProviderListResult, error)
	IncrementalList(ctx context.Context, account *ProviderAuth, calendarID, cursor string) (*ProviderListResult, error)

	CreateEvent(ctx context.Context, account *ProviderAuth, calendarID string, payload *ProviderEventPayload) (*ProviderWriteResult, error)
	PatchEvent(ctx context.Context, account *ProviderAuth, calendarID, remoteEventID string, payload *ProviderEventPayload) (*ProviderWriteResult, error)
	DeleteEvent(ctx context.Context, account *ProviderAuth, calendarID, remoteEventID string) error

	RegisterChannel(ctx context.Context, account *ProviderAuth, calendarID, channelToken string) (*ChannelRegistration, error)
	RenewChannel(ctx context.Context, account *ProviderAuth, calendarID string, existing *ChannelRegistration) (*ChannelRegistration, error)
	StopChannel(ctx context.Context, account *ProviderAuth, reg *ChannelRegistration) error

	FreeBusy(ctx context.Context, account *ProviderAuth, calendarIDs []string, window TimePeriod) (map[string][]TimePeriod, error)
}

// ProviderAuth carries the decrypted access token and provider-specific
// identifiers needed for one call. It never crosses the Account
// Coordinator's boundary carrying the refresh token.
type ProviderAuth struct {
	AccessToken   string
	RemoteAccount string
}

// TimePeriod is a half-open UTC instant range [Start, End).
type TimePeriod struct {
	Start time.Time
	End   time.Time
}

// ProviderAttendee is intentionally thin: the Projection Compiler strips
// attendees from every detail level, so only the Sync Pipeline's
// normalization step reads this for participant-hash computation.
type ProviderAttendee struct {
	Email string
}

// ProviderEventNormalized is what a provider adapter hands back from a
// list call, before the Classifier and normalization step in the Sync
// Pipeline run.
type ProviderEventNormalized struct {
	RemoteID       string
	Title          string
	Description    string
	Location       string
	Start          time.Time
	End            time.Time
	AllDay         bool
	Status         string
	Visibility     string
	Transparent    bool
	RecurrenceRule string
	Attendees      []ProviderAttendee
	Deleted        bool

	// ExtendedTags is populated when the provider event carries our
	// extended-property tags (tminus_canonical_id etc); nil for an
	// untagged, origin event.
	ExtendedTags *ProviderEventTags
}

// ProviderEventTags is the decoded form of the four extended-property
// keys pinned in core/projection.
type ProviderEventTags struct {
	CanonicalID  string
	OwningUserID string
	PolicyEdgeID string
	ContentHash  string
}

// ProviderListResult is returned by FullList/IncrementalList.
type ProviderListResult struct {
	Events        []ProviderEventNormalized
	NextCursor    string
	CursorInvalid bool
}

// ProviderEventPayload is what the Write Pipeline hands to a provider
// create/patch call: the output of the Projection Compiler plus the
// idempotency key.
type ProviderEventPayload struct {
	Title          string
	Description    string
	Location       string
	Start          time.Time
	End            time.Time
	AllDay         bool
	RecurrenceRule string
	Tags           ProviderEventTags
	IdempotencyKey string
}

// ProviderWriteResult is returned by CreateEvent/PatchEvent.
type ProviderWriteResult struct {
	RemoteEventID string
}

// ChannelRegistration is the result of registering or renewing a webhook
// channel with a provider.
type ChannelRegistration struct {
	ChannelID  string
	ResourceID string
	ExpiresAt  time.Time
}

// CalendarProviderFactory resolves the right adapter for an account's
// provider.
type CalendarProviderFactory interface {
	ForProvider(provider string) (CalendarProviderPort, error)
}
