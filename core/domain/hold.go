package domain

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus is the Hold state machine: held -> (committed | released).
type HoldStatus string

const (
	HoldHeld      HoldStatus = "held"
	HoldCommitted HoldStatus = "committed"
	HoldReleased  HoldStatus = "released"
)

func (s HoldStatus) IsTerminal() bool {
	return s == HoldCommitted || s == HoldReleased
}

// CanTransition enforces "any transition from a terminal state fails".
func (s HoldStatus) CanTransition(next HoldStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next == HoldCommitted || next == HoldReleased
}

// Hold is a tentative, time-bounded reservation placed in a participant's
// calendar during a group scheduling session. A hold can never outlive its
// session row.
type Hold struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	UserID           uuid.UUID  `json:"user_id" db:"user_id"`
	SessionID        uuid.UUID  `json:"session_id" db:"session_id"`
	CandidateID      uuid.UUID  `json:"candidate_id" db:"candidate_id"`
	AccountID        uuid.UUID  `json:"account_id" db:"account_id"`
	Start            time.Time  `json:"start" db:"start_time"`
	End              time.Time  `json:"end" db:"end_time"`
	ProviderMirrorID *string    `json:"provider_mirror_id,omitempty" db:"provider_mirror_id"`
	Status           HoldStatus `json:"status" db:"status"`
	ExpiresAt        time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

func (h *Hold) IsExpired(now time.Time) bool {
	return !h.Status.IsTerminal() && now.After(h.ExpiresAt)
}

// HoldStore is the per-user persistence port for holds.
type HoldStore interface {
	Store(holds []*Hold) error
	ListBySession(userID, sessionID uuid.UUID) ([]*Hold, error)
	UpdateStatus(userID, id uuid.UUID, status HoldStatus) error
	Extend(userID, id uuid.UUID, newExpiry time.Time) error
	ReleaseAllForSession(userID, sessionID uuid.UUID) ([]*Hold, error)
	ListExpired(userID uuid.UUID, now time.Time) ([]*Hold, error)
	AllTerminalForSession(userID, sessionID uuid.UUID) (bool, error)
}
