package in

import (
	"context"

	"github.com/google/uuid"

	"tminus/core/domain"
)

// CreateSessionRequest is the Group Scheduler's create-flow input.
type CreateSessionRequest struct {
	CreatorUserID uuid.UUID
	Participants  []uuid.UUID
	Objective     domain.SchedulingObjective
	MaxCandidates int
}

// SchedulerService is the Group Scheduler's public contract.
type SchedulerService interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.SchedulingSession, error)
	CommitSession(ctx context.Context, requesterID, sessionID, candidateID uuid.UUID) (*domain.SchedulingSession, error)
	CancelSession(ctx context.Context, requesterID, sessionID uuid.UUID) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.SchedulingSession, error)
}
