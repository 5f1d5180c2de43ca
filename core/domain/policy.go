package domain

import (
	"time"

	"github.com/google/uuid"
)

// PolicyEdge is a directional (source account -> target account) rule
// specifying how much detail crosses from one account to another, and
// which calendar on the target receives it.
type PolicyEdge struct {
	ID uuid.UUID `json:"id" db:"id"`

	UserID      uuid.UUID   `json:"user_id" db:"user_id"`
	FromAccount uuid.UUID   `json:"from_account_id" db:"from_account_id"`
	ToAccount   uuid.UUID   `json:"to_account_id" db:"to_account_id"`
	Detail      DetailLevel `json:"detail_level" db:"detail_level"`
	Kind        CalendarKind `json:"calendar_kind" db:"calendar_kind"`

	// TargetCalendarID is resolved lazily: for BUSY_OVERLAY it is the
	// auto-provisioned side calendar; for PRIMARY_MIRROR it is the target
	// account's primary calendar.
	TargetCalendarID string `json:"target_calendar_id,omitempty" db:"target_calendar_id"`

	Enabled bool `json:"enabled" db:"enabled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultPolicyEdges returns the default pair of edges created when two
// accounts are freshly linked: BUSY detail into a dedicated overlay
// calendar, in both directions.
func DefaultPolicyEdges(userID, a, b uuid.UUID) []*PolicyEdge {
	now := time.Now().UTC()
	return []*PolicyEdge{
		{
			ID: uuid.New(), UserID: userID, FromAccount: a, ToAccount: b,
			Detail: DetailBusy, Kind: CalendarKindBusyOverlay, Enabled: true,
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: uuid.New(), UserID: userID, FromAccount: b, ToAccount: a,
			Detail: DetailBusy, Kind: CalendarKindBusyOverlay, Enabled: true,
			CreatedAt: now, UpdatedAt: now,
		},
	}
}

// PolicyStore is the per-user persistence port for policy edges.
type PolicyStore interface {
	GetByID(userID, id uuid.UUID) (*PolicyEdge, error)
	ListByFromAccount(userID, fromAccount uuid.UUID) ([]*PolicyEdge, error)
	ListAll(userID uuid.UUID) ([]*PolicyEdge, error)
	Upsert(edge *PolicyEdge) error
	Delete(userID, id uuid.UUID) error
}
