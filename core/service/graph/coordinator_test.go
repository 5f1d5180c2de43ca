package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tminus/core/domain"
)

// ---- in-memory fakes -------------------------------------------------

type memEvents struct{ rows map[uuid.UUID]*domain.CanonicalEvent }

func newMemEvents() *memEvents { return &memEvents{rows: map[uuid.UUID]*domain.CanonicalEvent{}} }

func (m *memEvents) GetByID(userID, id uuid.UUID) (*domain.CanonicalEvent, error) {
	if e, ok := m.rows[id]; ok && e.UserID == userID {
		cp := *e
		return &cp, nil
	}
	return nil, errors.New("not found")
}
func (m *memEvents) GetByOrigin(userID, originAccountID uuid.UUID, originRemoteID string) (*domain.CanonicalEvent, error) {
	return nil, errors.New("not found")
}
func (m *memEvents) List(filter domain.EventFilter) ([]*domain.CanonicalEvent, error) {
	var out []*domain.CanonicalEvent
	for _, e := range m.rows {
		if e.UserID == filter.UserID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *memEvents) Upsert(event *domain.CanonicalEvent) error {
	cp := *event
	m.rows[event.ID] = &cp
	return nil
}
func (m *memEvents) Delete(userID, id uuid.UUID) error { delete(m.rows, id); return nil }

type memMirrors struct{ rows map[uuid.UUID]*domain.MirrorRecord }

func newMemMirrors() *memMirrors { return &memMirrors{rows: map[uuid.UUID]*domain.MirrorRecord{}} }
func (m *memMirrors) GetByID(userID, id uuid.UUID) (*domain.MirrorRecord, error) {
	return m.rows[id], nil
}
func (m *memMirrors) ListByCanonical(userID, canonicalID uuid.UUID) ([]*domain.MirrorRecord, error) {
	var out []*domain.MirrorRecord
	for _, r := range m.rows {
		if r.CanonicalID == canonicalID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memMirrors) ListByTargetAccount(userID, targetAccountID uuid.UUID) ([]*domain.MirrorRecord, error) {
	return nil, nil
}
func (m *memMirrors) ListAll(userID uuid.UUID) ([]*domain.MirrorRecord, error) { return nil, nil }
func (m *memMirrors) Upsert(mirror *domain.MirrorRecord) error {
	m.rows[mirror.ID] = mirror
	return nil
}
func (m *memMirrors) MarkWritten(userID, id uuid.UUID, hash, remoteID string) error {
	if r, ok := m.rows[id]; ok {
		r.LastWrittenHash = hash
		r.RemoteMirrorID = remoteID
		r.Status = domain.MirrorStatusWritten
	}
	return nil
}
func (m *memMirrors) Delete(userID, id uuid.UUID) error { delete(m.rows, id); return nil }

type memPolicies struct{ rows map[uuid.UUID]*domain.PolicyEdge }

func newMemPolicies() *memPolicies { return &memPolicies{rows: map[uuid.UUID]*domain.PolicyEdge{}} }
func (m *memPolicies) GetByID(userID, id uuid.UUID) (*domain.PolicyEdge, error) { return m.rows[id], nil }
func (m *memPolicies) ListByFromAccount(userID, fromAccount uuid.UUID) ([]*domain.PolicyEdge, error) {
	return nil, nil
}
func (m *memPolicies) ListAll(userID uuid.UUID) ([]*domain.PolicyEdge, error) {
	var out []*domain.PolicyEdge
	for _, e := range m.rows {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *memPolicies) Upsert(edge *domain.PolicyEdge) error { m.rows[edge.ID] = edge; return nil }
func (m *memPolicies) Delete(userID, id uuid.UUID) error    { delete(m.rows, id); return nil }

type memJournal struct{ entries []*domain.JournalEntry }

func (m *memJournal) Append(entry *domain.JournalEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}
func (m *memJournal) ListByCanonical(userID, canonicalID uuid.UUID) ([]*domain.JournalEntry, error) {
	var out []*domain.JournalEntry
	for _, e := range m.entries {
		if e.CanonicalID == canonicalID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m *memJournal) ListByUser(userID uuid.UUID, since time.Time, limit int) ([]*domain.JournalEntry, error) {
	return nil, nil
}

type memSessions struct{ rows map[uuid.UUID]*domain.SchedulingSession }

func newMemSessions() *memSessions {
	return &memSessions{rows: map[uuid.UUID]*domain.SchedulingSession{}}
}
func (m *memSessions) Get(userID, id uuid.UUID) (*domain.SchedulingSession, error) {
	if s, ok := m.rows[id]; ok {
		return s, nil
	}
	return nil, errors.New("not found")
}
func (m *memSessions) List(filter domain.SessionFilter) ([]*domain.SchedulingSession, error) {
	return nil, nil
}
func (m *memSessions) Store(session *domain.SchedulingSession, candidates []domain.Candidate) error {
	session.Candidates = candidates
	m.rows[session.ID] = session
	return nil
}
func (m *memSessions) Commit(userID, id, candidateID, eventID uuid.UUID) error {
	s, ok := m.rows[id]
	if !ok {
		return errors.New("not found")
	}
	s.State = domain.SessionCommitted
	s.CommittedCandidateID = &candidateID
	s.CommittedEventID = &eventID
	return nil
}
func (m *memSessions) Cancel(userID, id uuid.UUID) error {
	if s, ok := m.rows[id]; ok {
		s.State = domain.SessionCancelled
	}
	return nil
}
func (m *memSessions) TransitionState(userID, id uuid.UUID, next domain.SessionState) error {
	if s, ok := m.rows[id]; ok {
		s.State = next
	}
	return nil
}
func (m *memSessions) ExpireStale(userID uuid.UUID, maxAge time.Duration) ([]uuid.UUID, error) {
	return nil, nil
}

type memHolds struct{ rows map[uuid.UUID]*domain.Hold }

func newMemHolds() *memHolds { return &memHolds{rows: map[uuid.UUID]*domain.Hold{}} }
func (m *memHolds) Store(holds []*domain.Hold) error {
	for _, h := range holds {
		m.rows[h.ID] = h
	}
	return nil
}
func (m *memHolds) ListBySession(userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	var out []*domain.Hold
	for _, h := range m.rows {
		if h.SessionID == sessionID {
			out = append(out, h)
		}
	}
	return out, nil
}
func (m *memHolds) UpdateStatus(userID, id uuid.UUID, status domain.HoldStatus) error {
	if h, ok := m.rows[id]; ok {
		h.Status = status
	}
	return nil
}
func (m *memHolds) Extend(userID, id uuid.UUID, newExpiry time.Time) error {
	if h, ok := m.rows[id]; ok {
		h.ExpiresAt = newExpiry
	}
	return nil
}
func (m *memHolds) ReleaseAllForSession(userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	var out []*domain.Hold
	for _, h := range m.rows {
		if h.SessionID == sessionID {
			h.Status = domain.HoldReleased
			out = append(out, h)
		}
	}
	return out, nil
}
func (m *memHolds) ListExpired(userID uuid.UUID, now time.Time) ([]*domain.Hold, error) {
	return nil, nil
}
func (m *memHolds) AllTerminalForSession(userID, sessionID uuid.UUID) (bool, error) {
	for _, h := range m.rows {
		if h.SessionID == sessionID && !h.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

type memGovernance struct {
	allocations map[uuid.UUID]*domain.Allocation
	commitments map[uuid.UUID]*domain.Commitment
	vips        map[uuid.UUID]*domain.VIPPolicy
}

func newMemGovernance() *memGovernance {
	return &memGovernance{
		allocations: map[uuid.UUID]*domain.Allocation{},
		commitments: map[uuid.UUID]*domain.Commitment{},
		vips:        map[uuid.UUID]*domain.VIPPolicy{},
	}
}
func (m *memGovernance) UpsertAllocation(a *domain.Allocation) error {
	m.allocations[a.ID] = a
	return nil
}
func (m *memGovernance) GetAllocationByEvent(userID, eventID uuid.UUID) (*domain.Allocation, error) {
	for _, a := range m.allocations {
		if a.EventID == eventID {
			return a, nil
		}
	}
	return nil, errors.New("not found")
}
func (m *memGovernance) DeleteAllocation(userID, id uuid.UUID) error {
	delete(m.allocations, id)
	return nil
}
func (m *memGovernance) ListAllocations(userID uuid.UUID) ([]*domain.Allocation, error) {
	var out []*domain.Allocation
	for _, a := range m.allocations {
		out = append(out, a)
	}
	return out, nil
}
func (m *memGovernance) UpsertCommitment(c *domain.Commitment) error {
	m.commitments[c.ID] = c
	return nil
}
func (m *memGovernance) GetCommitment(userID, id uuid.UUID) (*domain.Commitment, error) {
	if c, ok := m.commitments[id]; ok {
		return c, nil
	}
	return nil, errors.New("not found")
}
func (m *memGovernance) DeleteCommitment(userID, id uuid.UUID) error {
	delete(m.commitments, id)
	return nil
}
func (m *memGovernance) ListCommitments(userID uuid.UUID) ([]*domain.Commitment, error) {
	var out []*domain.Commitment
	for _, c := range m.commitments {
		out = append(out, c)
	}
	return out, nil
}
func (m *memGovernance) ListAllocationsInWindow(userID uuid.UUID, client string, start, end time.Time) ([]*domain.Allocation, error) {
	var out []*domain.Allocation
	for _, a := range m.allocations {
		if a.Client == client {
			out = append(out, a)
		}
	}
	return out, nil
}
func (m *memGovernance) UpsertVIPPolicy(v *domain.VIPPolicy) error { m.vips[v.ID] = v; return nil }
func (m *memGovernance) GetVIPPolicy(userID uuid.UUID, participantHash string) (*domain.VIPPolicy, error) {
	for _, v := range m.vips {
		if v.ParticipantHash == participantHash {
			return v, nil
		}
	}
	return nil, errors.New("not found")
}
func (m *memGovernance) DeleteVIPPolicy(userID, id uuid.UUID) error { delete(m.vips, id); return nil }
func (m *memGovernance) ListVIPPolicies(userID uuid.UUID) ([]*domain.VIPPolicy, error) {
	var out []*domain.VIPPolicy
	for _, v := range m.vips {
		out = append(out, v)
	}
	return out, nil
}

type memRelationships struct{ rows map[string]*domain.Relationship }

func newMemRelationships() *memRelationships {
	return &memRelationships{rows: map[string]*domain.Relationship{}}
}
func (m *memRelationships) Upsert(userID string, r *domain.Relationship) error {
	m.rows[userID+"|"+r.ParticipantHash] = r
	return nil
}
func (m *memRelationships) Get(userID, participantHash string) (*domain.Relationship, error) {
	if r, ok := m.rows[userID+"|"+participantHash]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}
func (m *memRelationships) List(userID string) ([]*domain.Relationship, error) { return nil, nil }
func (m *memRelationships) RecordInteraction(userID, participantHash string, entry domain.InteractionEntry) error {
	r, ok := m.rows[userID+"|"+participantHash]
	if !ok {
		r = &domain.Relationship{ParticipantHash: participantHash}
		m.rows[userID+"|"+participantHash] = r
	}
	r.Ledger = append(r.Ledger, entry)
	return nil
}
func (m *memRelationships) MutualConnectionCount(userID string, participantHashes []string) (map[string]int, error) {
	out := make(map[string]int, len(participantHashes))
	for _, h := range participantHashes {
		out[h] = 0
	}
	return out, nil
}

type memAccounts struct{ rows map[uuid.UUID]*domain.Account }

func (m *memAccounts) GetByID(id uuid.UUID) (*domain.Account, error) { return m.rows[id], nil }
func (m *memAccounts) GetByRemoteAccount(provider domain.AccountProvider, remoteAccount string) (*domain.Account, error) {
	return nil, errors.New("not found")
}
func (m *memAccounts) ListByUser(userID uuid.UUID) ([]*domain.Account, error) {
	var out []*domain.Account
	for _, a := range m.rows {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (m *memAccounts) ListAllActive() ([]*domain.Account, error)         { return nil, nil }
func (m *memAccounts) Create(a *domain.Account) error                    { m.rows[a.ID] = a; return nil }
func (m *memAccounts) Update(a *domain.Account) error                    { m.rows[a.ID] = a; return nil }
func (m *memAccounts) Delete(id uuid.UUID) error                        { delete(m.rows, id); return nil }
func (m *memAccounts) CreateChannel(c *domain.WebhookChannel) error      { return nil }
func (m *memAccounts) UpdateChannel(c *domain.WebhookChannel) error      { return nil }
func (m *memAccounts) GetChannelByChannelID(channelID string) (*domain.WebhookChannel, error) {
	return nil, errors.New("not found")
}
func (m *memAccounts) ListChannelsByAccount(accountID uuid.UUID) ([]*domain.WebhookChannel, error) {
	return nil, nil
}
func (m *memAccounts) ListChannelsExpiring(before time.Time) ([]*domain.WebhookChannel, error) {
	return nil, nil
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	stores := Stores{
		Events:        newMemEvents(),
		Mirrors:       newMemMirrors(),
		Policies:      newMemPolicies(),
		Journal:       &memJournal{},
		Sessions:      newMemSessions(),
		Holds:         newMemHolds(),
		Governance:    newMemGovernance(),
		Relationships: newMemRelationships(),
		Accounts:      &memAccounts{rows: map[uuid.UUID]*domain.Account{}},
	}
	coord, err := New(stores, 1)
	require.NoError(t, err)
	return coord
}

// ---- tests -------------------------------------------------------------

func TestUpsertCanonical_AssignsIDAndJournals(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	event := &domain.CanonicalEvent{
		Title: "Standup",
		Start: time.Now(),
		End:   time.Now().Add(time.Hour),
	}
	saved, err := coord.UpsertCanonical(ctx, userID, event, domain.EventSourceSystem)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.EqualValues(t, 1, saved.Version)

	j := coord.stores.Journal.(*memJournal)
	assert.Len(t, j.entries, 1)
	assert.Equal(t, domain.ChangeCreate, j.entries[0].ChangeKind)
}

func TestUpsertCanonical_UpdateBumpsVersion(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	created, err := coord.UpsertCanonical(ctx, userID, &domain.CanonicalEvent{
		Title: "Standup", Start: time.Now(), End: time.Now().Add(time.Hour),
	}, domain.EventSourceSystem)
	require.NoError(t, err)

	created.Title = "Standup (renamed)"
	updated, err := coord.UpsertCanonical(ctx, userID, created, domain.EventSourceSystem)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)
}

func TestDeleteCanonical_IssuesCertificate(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	created, err := coord.UpsertCanonical(ctx, userID, &domain.CanonicalEvent{
		Title: "One-off", Start: time.Now(), End: time.Now().Add(time.Hour),
	}, domain.EventSourceSystem)
	require.NoError(t, err)

	cert, err := coord.DeleteCanonical(ctx, userID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, cert.CanonicalID)
	assert.NotEmpty(t, cert.Hash)

	_, err = coord.GetEvent(ctx, userID, created.ID)
	require.NoError(t, err) // soft-deleted row is still fetchable, just marked
}

func TestCommitSession_CreatesEventAndTransitionsState(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	candidateID := uuid.New()
	session := &domain.SchedulingSession{
		OwnerUserID: userID,
		State:       domain.SessionCandidatesReady,
		Objective:   domain.SchedulingObjective{Title: "Sync"},
	}
	candidates := []domain.Candidate{{ID: candidateID, Start: time.Now(), End: time.Now().Add(30 * time.Minute)}}
	require.NoError(t, coord.StoreSession(ctx, session, candidates))

	event, err := coord.CommitSession(ctx, userID, session.ID, candidateID)
	require.NoError(t, err)
	assert.Equal(t, "Sync", event.Title)

	got, err := coord.GetSession(ctx, userID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCommitted, got.State)
}

func TestCommitSession_RejectsIllegalTransition(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	session := &domain.SchedulingSession{OwnerUserID: userID, State: domain.SessionOpen}
	require.NoError(t, coord.StoreSession(ctx, session, nil))

	_, err := coord.CommitSession(ctx, userID, session.ID, uuid.New())
	assert.Error(t, err)
}

func TestHoldLifecycle_CommitThenExpireSession(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	session := &domain.SchedulingSession{OwnerUserID: userID, State: domain.SessionCandidatesReady}
	require.NoError(t, coord.StoreSession(ctx, session, nil))

	hold := &domain.Hold{UserID: userID, SessionID: session.ID, AccountID: uuid.New(), ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, coord.StoreHolds(ctx, []*domain.Hold{hold}))

	committed, err := coord.CommitSessionHolds(ctx, userID, session.ID)
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Equal(t, domain.HoldCommitted, committed[0].Status)

	allTerminal, err := coord.ExpireSessionIfAllHoldsTerminal(ctx, userID, session.ID)
	require.NoError(t, err)
	assert.True(t, allTerminal)
}

func TestGetSession_LazyExpiryReleasesHolds(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	session := &domain.SchedulingSession{OwnerUserID: userID, State: domain.SessionCandidatesReady}
	require.NoError(t, coord.StoreSession(ctx, session, nil))
	session.CreatedAt = time.Now().UTC().Add(-25 * time.Hour)

	hold := &domain.Hold{UserID: userID, SessionID: session.ID, AccountID: uuid.New(), Status: domain.HoldHeld, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, coord.StoreHolds(ctx, []*domain.Hold{hold}))

	got, err := coord.GetSession(ctx, userID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.State)

	holds, err := coord.GetHoldsBySession(ctx, userID, session.ID)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, domain.HoldReleased, holds[0].Status)
}

func TestGetSession_NotYetStaleStaysOpen(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	session := &domain.SchedulingSession{OwnerUserID: userID, State: domain.SessionOpen}
	require.NoError(t, coord.StoreSession(ctx, session, nil))
	session.CreatedAt = time.Now().UTC().Add(-23 * time.Hour)

	got, err := coord.GetSession(ctx, userID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionOpen, got.State)
}

func TestBusyIntervals_MergesOverlappingOpaqueEvents(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	_, err := coord.UpsertCanonical(ctx, userID, &domain.CanonicalEvent{
		Title: "A", Start: base, End: base.Add(time.Hour),
		Status: domain.EventStatusConfirmed, Transparency: domain.TransparencyOpaque,
	}, domain.EventSourceSystem)
	require.NoError(t, err)
	_, err = coord.UpsertCanonical(ctx, userID, &domain.CanonicalEvent{
		Title: "B", Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute),
		Status: domain.EventStatusConfirmed, Transparency: domain.TransparencyOpaque,
	}, domain.EventSourceSystem)
	require.NoError(t, err)

	window := domain.TimeWindow{Start: base.Add(-time.Hour), End: base.Add(3 * time.Hour)}
	busy, err := coord.BusyIntervals(ctx, userID, window, nil)
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, base, busy[0].Start)
	assert.Equal(t, base.Add(90*time.Minute), busy[0].End)
}

func TestGovernance_RejectsDuplicateAllocationPerEvent(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()
	eventID := uuid.New()

	require.NoError(t, coord.UpsertAllocation(ctx, userID, &domain.Allocation{EventID: eventID, Category: "billable"}))
	err := coord.UpsertAllocation(ctx, userID, &domain.Allocation{EventID: eventID, Category: "internal"})
	assert.Error(t, err)
}

func TestGetCommitmentStatus_SumsWindowHours(t *testing.T) {
	coord := newTestCoordinator(t)
	userID := uuid.New()
	ctx := context.Background()
	now := time.Now()

	commitment := &domain.Commitment{Client: "acme", TargetHours: 10, WindowLength: 7 * 24 * time.Hour}
	require.NoError(t, coord.UpsertCommitment(ctx, userID, commitment))

	require.NoError(t, coord.stores.Governance.UpsertAllocation(&domain.Allocation{
		ID: uuid.New(), UserID: userID, EventID: uuid.New(), Client: "acme", Hours: 6,
	}))
	require.NoError(t, coord.stores.Governance.UpsertAllocation(&domain.Allocation{
		ID: uuid.New(), UserID: userID, EventID: uuid.New(), Client: "acme", Hours: 5,
	}))

	status, err := coord.GetCommitmentStatus(ctx, userID, commitment.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 11.0, status.ActualHours)
	assert.True(t, status.Compliant)
}
