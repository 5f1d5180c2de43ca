package worker

import (
	"time"

	"github.com/google/uuid"

	"tminus/core/port/out"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType names one of the two job families the pipeline dispatches.
type JobType = string

const (
	// JobSyncPoll fetches and ingests provider-side changes for one account.
	JobSyncPoll JobType = "sync.poll"
	// JobWriteDispatch projects one canonical event onto one target account.
	JobWriteDispatch JobType = "write.dispatch"
)

// Message is the internal unit the Redis consumer hands to the worker
// pool. Payload carries the marshaled SyncPollPayload or WriteDispatchPayload.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// NewPriorityMessage creates a message with specific priority.
func NewPriorityMessage(jobType string, payload map[string]any, priority Priority) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// IsPriority checks if message should go to priority queue. Webhook-driven
// polls jump the queue ahead of periodic/startup catch-up polls.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// SyncPollPayload mirrors out.SyncPollTask across the JSON boundary between
// the Redis stream and the worker pool.
type SyncPollPayload struct {
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason"`
}

func syncPollPayloadFromTask(task *out.SyncPollTask) SyncPollPayload {
	return SyncPollPayload{AccountID: task.AccountID, Reason: task.Reason}
}

func (p SyncPollPayload) toTask() *out.SyncPollTask {
	return &out.SyncPollTask{AccountID: p.AccountID, Reason: p.Reason}
}

// WriteDispatchPayload mirrors out.WriteTask across the JSON boundary.
type WriteDispatchPayload struct {
	UserID        uuid.UUID                 `json:"user_id"`
	CanonicalID   uuid.UUID                 `json:"canonical_id"`
	MirrorID      uuid.UUID                 `json:"mirror_id"`
	PolicyEdgeID  uuid.UUID                 `json:"policy_edge_id"`
	TargetAccount uuid.UUID                 `json:"target_account_id"`
	TargetCalID   string                    `json:"target_calendar_id"`
	Op            out.WriteOp               `json:"op"`
	Payload       *out.ProviderEventPayload `json:"payload,omitempty"`
	RetryCount    int                       `json:"retry_count"`
	EnqueuedAt    time.Time                 `json:"enqueued_at"`
}

func writeDispatchPayloadFromTask(task *out.WriteTask) WriteDispatchPayload {
	return WriteDispatchPayload{
		UserID:        task.UserID,
		CanonicalID:   task.CanonicalID,
		MirrorID:      task.MirrorID,
		PolicyEdgeID:  task.PolicyEdgeID,
		TargetAccount: task.TargetAccount,
		TargetCalID:   task.TargetCalID,
		Op:            task.Op,
		Payload:       task.Payload,
		RetryCount:    task.RetryCount,
		EnqueuedAt:    task.EnqueuedAt,
	}
}

func (p WriteDispatchPayload) toTask() *out.WriteTask {
	return &out.WriteTask{
		UserID:        p.UserID,
		CanonicalID:   p.CanonicalID,
		MirrorID:      p.MirrorID,
		PolicyEdgeID:  p.PolicyEdgeID,
		TargetAccount: p.TargetAccount,
		TargetCalID:   p.TargetCalID,
		Op:            p.Op,
		Payload:       p.Payload,
		RetryCount:    p.RetryCount,
		EnqueuedAt:    p.EnqueuedAt,
	}
}
