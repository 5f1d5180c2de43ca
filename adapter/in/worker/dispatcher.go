package worker

import (
	"context"

	"github.com/goccy/go-json"

	"tminus/pkg/logger"
)

// Handler routes a dequeued Message to the processor for its job family.
type Handler struct {
	syncProcessor  *SyncProcessor
	writeProcessor *WriteProcessor
}

func NewHandler(syncProcessor *SyncProcessor, writeProcessor *WriteProcessor) *Handler {
	return &Handler{syncProcessor: syncProcessor, writeProcessor: writeProcessor}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("processing message: %s", msg.Type)

	switch msg.Type {
	case JobSyncPoll:
		return h.syncProcessor.Process(ctx, msg)
	case JobWriteDispatch:
		return h.writeProcessor.Process(ctx, msg)
	default:
		logger.Warn("unknown job type: %s", msg.Type)
		return nil
	}
}

// DeadLetter is invoked by the pool once a message exhausts its retry
// budget. Only write-dispatch jobs carry a queue-level dead letter; a
// failed poll simply waits for the next webhook or periodic cadence.
func (h *Handler) DeadLetter(ctx context.Context, msg *Message) {
	if msg.Type != JobWriteDispatch {
		return
	}
	payload, err := ParsePayload[WriteDispatchPayload](msg)
	if err != nil {
		logger.WithError(err).Warn("failed to parse write-dispatch payload for dead-letter")
		return
	}
	if err := h.writeProcessor.DeadLetter(ctx, payload.toTask()); err != nil {
		logger.WithError(err).Warn("failed to dead-letter write task for mirror %s", payload.MirrorID)
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
