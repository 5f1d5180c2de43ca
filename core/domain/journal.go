package domain

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ChangeKind enumerates journal entry kinds. Entries are append-only: the
// journal's sequence never skips or rewrites a prior entry.
type ChangeKind string

const (
	ChangeCreate       ChangeKind = "create"
	ChangeUpdate       ChangeKind = "update"
	ChangeDelete       ChangeKind = "delete"
	ChangeDriftRepair  ChangeKind = "drift_repair"
	ChangeMirrorWrite  ChangeKind = "mirror_write"
	ChangeSessionEvent ChangeKind = "session_event"
)

// JournalEntry is an append-only record of a canonical mutation. Seq is a
// monotonic sequence number giving a stable ordering even when CreatedAt
// timestamps collide. The Graph Coordinator fills it from its snowflake
// generator; the Mongo journal store replaces that value on Append with the
// next number from its journal_counters document.
type JournalEntry struct {
	Seq            int64           `json:"seq" db:"seq"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	CanonicalID    uuid.UUID       `json:"canonical_id" db:"canonical_id"`
	Actor          string          `json:"actor" db:"actor"`
	ChangeKind     ChangeKind      `json:"change_kind" db:"change_kind"`
	Patch          json.RawMessage `json:"patch,omitempty" db:"patch"`
	Reason         string          `json:"reason,omitempty" db:"reason"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// JournalStore is the append-only persistence port for the Event Journal.
// Implemented on MongoDB in this system: schemaless documents fit an
// append-only log naturally, and nothing ever updates or deletes a row.
type JournalStore interface {
	Append(entry *JournalEntry) error
	ListByCanonical(userID, canonicalID uuid.UUID) ([]*JournalEntry, error)
	ListByUser(userID uuid.UUID, since time.Time, limit int) ([]*JournalEntry, error)
}
