package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus mirrors the provider-level status vocabulary.
type EventStatus string

const (
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusTentative EventStatus = "tentative"
	EventStatusCancelled EventStatus = "cancelled"
)

// Transparency drives whether an event contributes to busy/free computation.
type Transparency string

const (
	TransparencyOpaque      Transparency = "opaque"
	TransparencyTransparent Transparency = "transparent"
)

// EventSource distinguishes events authored through our API from events
// that originated at a provider.
type EventSource string

const (
	EventSourceSystem   EventSource = "system"
	EventSourceProvider EventSource = "provider"
)

// CanonicalEvent is the system's source-of-truth representation of one
// calendar event. Its id is assigned exactly once and never rewritten.
type CanonicalEvent struct {
	ID uuid.UUID `json:"id" db:"id"` // ULID-derived, stored as uuid.UUID for column compatibility

	UserID uuid.UUID `json:"user_id" db:"user_id"`

	OriginAccountID    uuid.UUID `json:"origin_account_id" db:"origin_account_id"`
	OriginRemoteID     string    `json:"origin_remote_event_id" db:"origin_remote_event_id"`

	Title       string  `json:"title" db:"title"`
	Description *string `json:"description,omitempty" db:"description"`
	Location    *string `json:"location,omitempty" db:"location"`

	Start    time.Time `json:"start" db:"start_time"`
	End      time.Time `json:"end" db:"end_time"`
	AllDay   bool      `json:"all_day" db:"all_day"`

	Status       EventStatus  `json:"status" db:"status"`
	Visibility   string       `json:"visibility" db:"visibility"` // default, private, public
	Transparency Transparency `json:"transparency" db:"transparency"`

	RecurrenceRule *string `json:"recurrence_rule,omitempty" db:"recurrence_rule"`

	// ParticipantHashes never stores plaintext email addresses.
	ParticipantHashes []string `json:"participant_hashes,omitempty" db:"-"`

	Source EventSource `json:"source" db:"source"`

	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// ContributesToBusy reports whether the event should be counted by the
// Interval Solver's busy merge.
func (c *CanonicalEvent) ContributesToBusy() bool {
	return c.Status != EventStatusCancelled && c.Transparency == TransparencyOpaque
}

// EventFilter narrows list_events queries.
type EventFilter struct {
	UserID    uuid.UUID
	Start     *time.Time
	End       *time.Time
	Status    *EventStatus
	AccountID *uuid.UUID
	Limit     int
	Offset    int
}

// DeletionCertificate is emitted on canonical event deletion: a hash over
// the event's final journal slice, proving what was deleted and when.
type DeletionCertificate struct {
	CanonicalID uuid.UUID `json:"canonical_id"`
	Hash        string    `json:"hash"`
	IssuedAt    time.Time `json:"issued_at"`
}

// CanonicalEventStore is the per-user persistence port for canonical events.
type CanonicalEventStore interface {
	GetByID(userID, id uuid.UUID) (*CanonicalEvent, error)
	GetByOrigin(userID, originAccountID uuid.UUID, originRemoteID string) (*CanonicalEvent, error)
	List(filter EventFilter) ([]*CanonicalEvent, error)
	Upsert(event *CanonicalEvent) error
	Delete(userID, id uuid.UUID) error
}
