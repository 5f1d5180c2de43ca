package domain

import (
	"time"

	"github.com/google/uuid"
)

// DetailLevel controls how much of a canonical event's content is exposed
// to the target calendar when a mirror is projected.
type DetailLevel string

const (
	DetailBusy  DetailLevel = "BUSY"
	DetailTitle DetailLevel = "TITLE"
	DetailFull  DetailLevel = "FULL"
)

// CalendarKind distinguishes a dedicated busy-overlay calendar from a
// direct write into the target account's primary calendar.
type CalendarKind string

const (
	CalendarKindBusyOverlay   CalendarKind = "BUSY_OVERLAY"
	CalendarKindPrimaryMirror CalendarKind = "PRIMARY_MIRROR"
)

// MirrorStatus tracks the lifecycle of a single mirror row.
type MirrorStatus string

const (
	MirrorStatusPending MirrorStatus = "pending"
	MirrorStatusWritten MirrorStatus = "written"
	MirrorStatusError   MirrorStatus = "error"
	MirrorStatusDeleted MirrorStatus = "deleted"
)

// MirrorRecord is one per (canonical event x target account x policy edge).
// A mirror is managed-own: the provider-side event it describes must carry
// the extended tags identifying canonical id, owning user and policy edge.
type MirrorRecord struct {
	ID uuid.UUID `json:"id" db:"id"`

	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	CanonicalID   uuid.UUID `json:"canonical_id" db:"canonical_id"`
	PolicyEdgeID  uuid.UUID `json:"policy_edge_id" db:"policy_edge_id"`
	TargetAccount uuid.UUID `json:"target_account_id" db:"target_account_id"`
	TargetCalID   string    `json:"target_calendar_id" db:"target_calendar_id"`

	RemoteMirrorID  string `json:"remote_mirror_event_id,omitempty" db:"remote_mirror_event_id"`
	LastWrittenHash string `json:"last_written_hash,omitempty" db:"last_written_hash"`

	DetailLevel DetailLevel  `json:"detail_level" db:"detail_level"`
	Status      MirrorStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MirrorStore is the per-user persistence port for mirror records.
type MirrorStore interface {
	GetByID(userID, id uuid.UUID) (*MirrorRecord, error)
	ListByCanonical(userID, canonicalID uuid.UUID) ([]*MirrorRecord, error)
	ListByTargetAccount(userID, targetAccountID uuid.UUID) ([]*MirrorRecord, error)
	ListAll(userID uuid.UUID) ([]*MirrorRecord, error)
	Upsert(mirror *MirrorRecord) error
	MarkWritten(userID, id uuid.UUID, hash, remoteID string) error
	Delete(userID, id uuid.UUID) error
}
