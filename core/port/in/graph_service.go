package in

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tminus/core/domain"
)

// GraphService is the User Graph Coordinator's public contract: the
// single-writer authority over one user's canonical events, mirrors,
// policies, journal, scheduling sessions, holds and governance tables.
type GraphService interface {
	// Canonical
	UpsertCanonical(ctx context.Context, userID uuid.UUID, event *domain.CanonicalEvent, source domain.EventSource) (*domain.CanonicalEvent, error)
	DeleteCanonical(ctx context.Context, userID, id uuid.UUID) (*domain.DeletionCertificate, error)
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.CanonicalEvent, error)
	GetEvent(ctx context.Context, userID, id uuid.UUID) (*domain.CanonicalEvent, error)

	// Mirrors
	RecordMirror(ctx context.Context, userID uuid.UUID, mirror *domain.MirrorRecord) error
	ListMirrors(ctx context.Context, userID, canonicalID uuid.UUID) ([]*domain.MirrorRecord, error)
	MarkMirrorWritten(ctx context.Context, userID, mirrorID uuid.UUID, hash, remoteID string) error

	// Sync
	GetSyncHealth(ctx context.Context, userID uuid.UUID) ([]*domain.HealthSnapshot, error)

	// Policies
	UpsertPolicyEdge(ctx context.Context, userID uuid.UUID, edge *domain.PolicyEdge) (*domain.PolicyEdge, error)
	ListPolicies(ctx context.Context, userID uuid.UUID) ([]*domain.PolicyEdge, error)

	// Scheduling
	StoreSession(ctx context.Context, session *domain.SchedulingSession, candidates []domain.Candidate) error
	GetSession(ctx context.Context, userID, id uuid.UUID) (*domain.SchedulingSession, error)
	ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.SchedulingSession, error)
	CommitSession(ctx context.Context, userID, id, candidateID uuid.UUID) (*domain.CanonicalEvent, error)
	CancelSession(ctx context.Context, userID, id uuid.UUID) error
	ExpireStaleSessions(ctx context.Context, userID uuid.UUID, maxAge time.Duration) (int, error)

	// Holds
	StoreHolds(ctx context.Context, holds []*domain.Hold) error
	GetHoldsBySession(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error)
	UpdateHoldStatus(ctx context.Context, userID, holdID uuid.UUID, status domain.HoldStatus) error
	ExtendHolds(ctx context.Context, userID uuid.UUID, holdIDs []uuid.UUID, newExpiry time.Time) error
	CommitSessionHolds(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error)
	ReleaseSessionHolds(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error)
	ExpireSessionIfAllHoldsTerminal(ctx context.Context, userID, sessionID uuid.UUID) (bool, error)
	GetExpiredHolds(ctx context.Context, userID uuid.UUID) ([]*domain.Hold, error)

	// Governance
	UpsertAllocation(ctx context.Context, userID uuid.UUID, a *domain.Allocation) error
	DeleteAllocation(ctx context.Context, userID, id uuid.UUID) error
	ListAllocations(ctx context.Context, userID uuid.UUID) ([]*domain.Allocation, error)
	UpsertCommitment(ctx context.Context, userID uuid.UUID, c *domain.Commitment) error
	DeleteCommitment(ctx context.Context, userID, id uuid.UUID) error
	ListCommitments(ctx context.Context, userID uuid.UUID) ([]*domain.Commitment, error)
	UpsertVIPPolicy(ctx context.Context, userID uuid.UUID, v *domain.VIPPolicy) error
	DeleteVIPPolicy(ctx context.Context, userID, id uuid.UUID) error
	ListVIPPolicies(ctx context.Context, userID uuid.UUID) ([]*domain.VIPPolicy, error)
	GetCommitmentStatus(ctx context.Context, userID, commitmentID uuid.UUID, now time.Time) (*domain.CommitmentStatus, error)
	GetCommitmentProofData(ctx context.Context, userID, commitmentID uuid.UUID, now time.Time) ([]byte, error)

	// Relationships
	UpsertRelationship(ctx context.Context, userID uuid.UUID, r *domain.Relationship) error
	GetRelationship(ctx context.Context, userID uuid.UUID, participantHash string) (*domain.Relationship, error)
	RecordInteraction(ctx context.Context, userID uuid.UUID, participantHash string, entry domain.InteractionEntry) error
	ListRelationships(ctx context.Context, userID uuid.UUID) ([]*domain.Relationship, error)

	// Briefing
	GetEventBriefing(ctx context.Context, userID, eventID uuid.UUID) (*domain.EventBriefing, error)

	// BusyIntervals is the sole cross-user data path used by the Group
	// Scheduler: it returns only (start, end) pairs, never titles or real
	// account ids.
	BusyIntervals(ctx context.Context, userID uuid.UUID, window domain.TimeWindow, requiredAccountID *uuid.UUID) ([]domain.BusyInterval, error)
}
