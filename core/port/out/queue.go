package out

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WriteTask is one projection dispatch: write (or delete) a mirror event
// at a target account, carrying the idempotency key computed by the
// Projection Compiler.
type WriteTask struct {
	UserID        uuid.UUID             `json:"user_id"`
	CanonicalID   uuid.UUID             `json:"canonical_id"`
	MirrorID      uuid.UUID             `json:"mirror_id"`
	PolicyEdgeID  uuid.UUID             `json:"policy_edge_id"`
	TargetAccount uuid.UUID             `json:"target_account_id"`
	TargetCalID   string                `json:"target_calendar_id"`
	Op            WriteOp               `json:"op"`
	Payload       *ProviderEventPayload `json:"payload,omitempty"`
	RetryCount    int                   `json:"retry_count"`
	EnqueuedAt    time.Time             `json:"enqueued_at"`
}

type WriteOp string

const (
	WriteOpCreate WriteOp = "create"
	WriteOpPatch  WriteOp = "patch"
	WriteOpDelete WriteOp = "delete"
)

// SyncPollTask asks the Sync Pipeline to poll one account, either because
// a webhook fired or because the periodic scan cadence elapsed.
type SyncPollTask struct {
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason"` // "webhook" | "periodic" | "startup"
}

// WriteQueue is the per-account ordered queue consumed by the Write
// Pipeline. Implemented on Redis Streams, one stream per account.
type WriteQueue interface {
	Enqueue(ctx context.Context, task *WriteTask) error
	// Dead-letters a task that exceeded the retry ceiling.
	DeadLetter(ctx context.Context, task *WriteTask) error
}

// SyncQueue is consumed by the Sync Pipeline.
type SyncQueue interface {
	Enqueue(ctx context.Context, task *SyncPollTask) error
}

// QueueConsumer drains a stream with consumer-group semantics and a
// pending-entry reclaim loop.
type QueueConsumer interface {
	Run(ctx context.Context) error
}
