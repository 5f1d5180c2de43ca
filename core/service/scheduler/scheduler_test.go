package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tminus/core/domain"
	"tminus/core/port/in"
)

func createSessionRequest(creator, other uuid.UUID, windowStart time.Time) in.CreateSessionRequest {
	return in.CreateSessionRequest{
		CreatorUserID: creator,
		Participants:  []uuid.UUID{other},
		Objective: domain.SchedulingObjective{
			Title:       "Sync",
			Duration:    30 * time.Minute,
			WindowStart: windowStart,
			WindowEnd:   windowStart.Add(8 * time.Hour),
		},
		MaxCandidates: 5,
	}
}

// fakeGraph implements in.GraphService, exercising only the subset the
// Group Scheduler calls; everything else panics so an accidental new call
// site shows up immediately in test output instead of silently no-oping.
type fakeGraph struct {
	busy     map[uuid.UUID][]domain.BusyInterval
	sessions map[uuid.UUID]map[uuid.UUID]*domain.SchedulingSession // sessionID -> userID -> session
	holds    map[uuid.UUID][]*domain.Hold                          // sessionID -> holds
	failCommitFor uuid.UUID
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		busy:     map[uuid.UUID][]domain.BusyInterval{},
		sessions: map[uuid.UUID]map[uuid.UUID]*domain.SchedulingSession{},
		holds:    map[uuid.UUID][]*domain.Hold{},
	}
}

func (f *fakeGraph) BusyIntervals(ctx context.Context, userID uuid.UUID, window domain.TimeWindow, requiredAccountID *uuid.UUID) ([]domain.BusyInterval, error) {
	return f.busy[userID], nil
}

func (f *fakeGraph) StoreSession(ctx context.Context, session *domain.SchedulingSession, candidates []domain.Candidate) error {
	session.Candidates = candidates
	byUser, ok := f.sessions[session.ID]
	if !ok {
		byUser = map[uuid.UUID]*domain.SchedulingSession{}
		f.sessions[session.ID] = byUser
	}
	cp := *session
	byUser[session.OwnerUserID] = &cp
	for _, p := range session.ParticipantUserIDs {
		pcp := *session
		byUser[p] = &pcp
	}
	return nil
}

func (f *fakeGraph) GetSession(ctx context.Context, userID, id uuid.UUID) (*domain.SchedulingSession, error) {
	byUser, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	s, ok := byUser[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func (f *fakeGraph) CommitSession(ctx context.Context, userID, id, candidateID uuid.UUID) (*domain.CanonicalEvent, error) {
	if userID == f.failCommitFor {
		return nil, errors.New("simulated provider failure")
	}
	s := f.sessions[id][userID]
	s.State = domain.SessionCommitted
	return &domain.CanonicalEvent{ID: uuid.New(), UserID: userID}, nil
}

func (f *fakeGraph) CancelSession(ctx context.Context, userID, id uuid.UUID) error {
	if s, ok := f.sessions[id][userID]; ok {
		s.State = domain.SessionCancelled
	}
	return nil
}

func (f *fakeGraph) StoreHolds(ctx context.Context, holds []*domain.Hold) error {
	for _, h := range holds {
		f.holds[h.SessionID] = append(f.holds[h.SessionID], h)
	}
	return nil
}

func (f *fakeGraph) CommitSessionHolds(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	var out []*domain.Hold
	for _, h := range f.holds[sessionID] {
		if h.UserID == userID {
			h.Status = domain.HoldCommitted
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeGraph) ReleaseSessionHolds(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	var out []*domain.Hold
	for _, h := range f.holds[sessionID] {
		if h.UserID == userID {
			h.Status = domain.HoldReleased
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeGraph) UpsertCanonical(ctx context.Context, userID uuid.UUID, event *domain.CanonicalEvent, source domain.EventSource) (*domain.CanonicalEvent, error) {
	panic("not used")
}
func (f *fakeGraph) DeleteCanonical(ctx context.Context, userID, id uuid.UUID) (*domain.DeletionCertificate, error) {
	panic("not used")
}
func (f *fakeGraph) ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.CanonicalEvent, error) {
	panic("not used")
}
func (f *fakeGraph) GetEvent(ctx context.Context, userID, id uuid.UUID) (*domain.CanonicalEvent, error) {
	panic("not used")
}
func (f *fakeGraph) RecordMirror(ctx context.Context, userID uuid.UUID, mirror *domain.MirrorRecord) error {
	panic("not used")
}
func (f *fakeGraph) ListMirrors(ctx context.Context, userID, canonicalID uuid.UUID) ([]*domain.MirrorRecord, error) {
	panic("not used")
}
func (f *fakeGraph) MarkMirrorWritten(ctx context.Context, userID, mirrorID uuid.UUID, hash, remoteID string) error {
	panic("not used")
}
func (f *fakeGraph) GetSyncHealth(ctx context.Context, userID uuid.UUID) ([]*domain.HealthSnapshot, error) {
	panic("not used")
}
func (f *fakeGraph) UpsertPolicyEdge(ctx context.Context, userID uuid.UUID, edge *domain.PolicyEdge) (*domain.PolicyEdge, error) {
	panic("not used")
}
func (f *fakeGraph) ListPolicies(ctx context.Context, userID uuid.UUID) ([]*domain.PolicyEdge, error) {
	panic("not used")
}
func (f *fakeGraph) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.SchedulingSession, error) {
	panic("not used")
}
func (f *fakeGraph) ExpireStaleSessions(ctx context.Context, userID uuid.UUID, maxAge time.Duration) (int, error) {
	panic("not used")
}
func (f *fakeGraph) GetHoldsBySession(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	panic("not used")
}
func (f *fakeGraph) UpdateHoldStatus(ctx context.Context, userID, holdID uuid.UUID, status domain.HoldStatus) error {
	panic("not used")
}
func (f *fakeGraph) ExtendHolds(ctx context.Context, userID uuid.UUID, holdIDs []uuid.UUID, newExpiry time.Time) error {
	panic("not used")
}
func (f *fakeGraph) ExpireSessionIfAllHoldsTerminal(ctx context.Context, userID, sessionID uuid.UUID) (bool, error) {
	panic("not used")
}
func (f *fakeGraph) GetExpiredHolds(ctx context.Context, userID uuid.UUID) ([]*domain.Hold, error) {
	panic("not used")
}
func (f *fakeGraph) UpsertAllocation(ctx context.Context, userID uuid.UUID, a *domain.Allocation) error {
	panic("not used")
}
func (f *fakeGraph) DeleteAllocation(ctx context.Context, userID, id uuid.UUID) error {
	panic("not used")
}
func (f *fakeGraph) ListAllocations(ctx context.Context, userID uuid.UUID) ([]*domain.Allocation, error) {
	panic("not used")
}
func (f *fakeGraph) UpsertCommitment(ctx context.Context, userID uuid.UUID, cm *domain.Commitment) error {
	panic("not used")
}
func (f *fakeGraph) DeleteCommitment(ctx context.Context, userID, id uuid.UUID) error {
	panic("not used")
}
func (f *fakeGraph) ListCommitments(ctx context.Context, userID uuid.UUID) ([]*domain.Commitment, error) {
	panic("not used")
}
func (f *fakeGraph) UpsertVIPPolicy(ctx context.Context, userID uuid.UUID, v *domain.VIPPolicy) error {
	panic("not used")
}
func (f *fakeGraph) DeleteVIPPolicy(ctx context.Context, userID, id uuid.UUID) error {
	panic("not used")
}
func (f *fakeGraph) ListVIPPolicies(ctx context.Context, userID uuid.UUID) ([]*domain.VIPPolicy, error) {
	panic("not used")
}
func (f *fakeGraph) GetCommitmentStatus(ctx context.Context, userID, commitmentID uuid.UUID, now time.Time) (*domain.CommitmentStatus, error) {
	panic("not used")
}
func (f *fakeGraph) GetCommitmentProofData(ctx context.Context, userID, commitmentID uuid.UUID, now time.Time) ([]byte, error) {
	panic("not used")
}
func (f *fakeGraph) UpsertRelationship(ctx context.Context, userID uuid.UUID, r *domain.Relationship) error {
	panic("not used")
}
func (f *fakeGraph) GetRelationship(ctx context.Context, userID uuid.UUID, participantHash string) (*domain.Relationship, error) {
	panic("not used")
}
func (f *fakeGraph) RecordInteraction(ctx context.Context, userID uuid.UUID, participantHash string, entry domain.InteractionEntry) error {
	panic("not used")
}
func (f *fakeGraph) ListRelationships(ctx context.Context, userID uuid.UUID) ([]*domain.Relationship, error) {
	panic("not used")
}
func (f *fakeGraph) GetEventBriefing(ctx context.Context, userID, eventID uuid.UUID) (*domain.EventBriefing, error) {
	panic("not used")
}

type memRegistry struct{ rows map[uuid.UUID]*domain.SessionRegistryEntry }

func newMemRegistry() *memRegistry {
	return &memRegistry{rows: map[uuid.UUID]*domain.SessionRegistryEntry{}}
}
func (m *memRegistry) Register(entry *domain.SessionRegistryEntry) error {
	m.rows[entry.SessionID] = entry
	return nil
}
func (m *memRegistry) Get(sessionID uuid.UUID) (*domain.SessionRegistryEntry, error) {
	if e, ok := m.rows[sessionID]; ok {
		return e, nil
	}
	return nil, errors.New("not found")
}
func (m *memRegistry) Delete(sessionID uuid.UUID) error { delete(m.rows, sessionID); return nil }

func TestCreateSession_SolvesAgainstMergedAvailability(t *testing.T) {
	fg := newFakeGraph()
	reg := newMemRegistry()
	creator, other := uuid.New(), uuid.New()

	coord := New(fg, reg)
	window := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	session, err := coord.CreateSession(context.Background(), createSessionRequest(creator, other, window))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCandidatesReady, session.State)
	assert.NotEmpty(t, session.Candidates)
}

func TestCreateSession_NoSlotWhenFullyBooked(t *testing.T) {
	fg := newFakeGraph()
	reg := newMemRegistry()
	creator, other := uuid.New(), uuid.New()
	window := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	fg.busy[other] = []domain.BusyInterval{{Start: window, End: window.Add(8 * time.Hour)}}

	coord := New(fg, reg)
	_, err := coord.CreateSession(context.Background(), createSessionRequest(creator, other, window))
	assert.Error(t, err)
}

func TestCommitSession_RollsBackOnParticipantFailure(t *testing.T) {
	fg := newFakeGraph()
	reg := newMemRegistry()
	creator, other := uuid.New(), uuid.New()
	window := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	coord := New(fg, reg)
	session, err := coord.CreateSession(context.Background(), createSessionRequest(creator, other, window))
	require.NoError(t, err)

	fg.failCommitFor = other
	_, err = coord.CommitSession(context.Background(), creator, session.ID, session.Candidates[0].ID)
	assert.Error(t, err)

	creatorSession := fg.sessions[session.ID][creator]
	assert.Equal(t, domain.SessionCancelled, creatorSession.State)
}

func TestCommitSession_Succeeds(t *testing.T) {
	fg := newFakeGraph()
	reg := newMemRegistry()
	creator, other := uuid.New(), uuid.New()
	window := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

	coord := New(fg, reg)
	session, err := coord.CreateSession(context.Background(), createSessionRequest(creator, other, window))
	require.NoError(t, err)

	committed, err := coord.CommitSession(context.Background(), creator, session.ID, session.Candidates[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCommitted, committed.State)
}
