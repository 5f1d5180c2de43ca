package maintainer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tminus/core/domain"
)

// fakeAccounts implements in.AccountService, exercising only the methods
// the Maintainer calls; everything else panics.
type fakeAccounts struct {
	renewCalledWith   time.Time
	refreshCalledWith time.Duration
	renewErr          error
	refreshErr         error
}

func (f *fakeAccounts) RenewChannels(ctx context.Context, before time.Time) error {
	f.renewCalledWith = before
	return f.renewErr
}
func (f *fakeAccounts) RefreshExpiringTokens(ctx context.Context, within time.Duration) error {
	f.refreshCalledWith = within
	return f.refreshErr
}
func (f *fakeAccounts) GetAccessToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	panic("not used")
}
func (f *fakeAccounts) SetSyncCursor(ctx context.Context, accountID uuid.UUID, cursor string) error {
	panic("not used")
}
func (f *fakeAccounts) GetSyncCursor(ctx context.Context, accountID uuid.UUID) (string, error) {
	panic("not used")
}
func (f *fakeAccounts) RegisterChannel(ctx context.Context, accountID uuid.UUID, calendarID string) (*domain.WebhookChannel, error) {
	panic("not used")
}
func (f *fakeAccounts) ListChannelStatus(ctx context.Context, accountID uuid.UUID) ([]*domain.WebhookChannel, error) {
	panic("not used")
}
func (f *fakeAccounts) Revoke(ctx context.Context, accountID uuid.UUID) error { panic("not used") }
func (f *fakeAccounts) MarkSyncSuccess(ctx context.Context, accountID uuid.UUID, ts time.Time) error {
	panic("not used")
}
func (f *fakeAccounts) MarkSyncFailure(ctx context.Context, accountID uuid.UUID, reason string) error {
	panic("not used")
}
func (f *fakeAccounts) GetHealth(ctx context.Context, accountID uuid.UUID) (*domain.HealthSnapshot, error) {
	panic("not used")
}
func (f *fakeAccounts) LinkAccount(ctx context.Context, userID uuid.UUID, provider domain.AccountProvider, remoteAccount, refreshToken string) (*domain.Account, error) {
	panic("not used")
}

// fakeAccountDirectory implements domain.AccountRepository, exercising only
// ListAllActive (the one method the Maintainer calls to enumerate users).
type fakeAccountDirectory struct {
	active []*domain.Account
}

func (f *fakeAccountDirectory) ListAllActive() ([]*domain.Account, error) { return f.active, nil }
func (f *fakeAccountDirectory) GetByID(id uuid.UUID) (*domain.Account, error)     { panic("not used") }
func (f *fakeAccountDirectory) GetByRemoteAccount(provider domain.AccountProvider, remoteAccount string) (*domain.Account, error) {
	panic("not used")
}
func (f *fakeAccountDirectory) ListByUser(userID uuid.UUID) ([]*domain.Account, error) {
	panic("not used")
}
func (f *fakeAccountDirectory) Create(account *domain.Account) error { panic("not used") }
func (f *fakeAccountDirectory) Update(account *domain.Account) error { panic("not used") }
func (f *fakeAccountDirectory) Delete(id uuid.UUID) error            { panic("not used") }
func (f *fakeAccountDirectory) CreateChannel(channel *domain.WebhookChannel) error {
	panic("not used")
}
func (f *fakeAccountDirectory) UpdateChannel(channel *domain.WebhookChannel) error {
	panic("not used")
}
func (f *fakeAccountDirectory) GetChannelByChannelID(channelID string) (*domain.WebhookChannel, error) {
	panic("not used")
}
func (f *fakeAccountDirectory) ListChannelsByAccount(accountID uuid.UUID) ([]*domain.WebhookChannel, error) {
	panic("not used")
}
func (f *fakeAccountDirectory) ListChannelsExpiring(before time.Time) ([]*domain.WebhookChannel, error) {
	panic("not used")
}

// fakeGraph implements in.GraphService, exercising only the per-user
// maintenance methods; everything else panics.
type fakeGraph struct {
	expiredHolds      map[uuid.UUID][]*domain.Hold
	releasedHoldIDs   []uuid.UUID
	expiredSessionIDs map[uuid.UUID]bool
	staleExpiredCount int
	staleCalledFor    []uuid.UUID
}

func (f *fakeGraph) GetExpiredHolds(ctx context.Context, userID uuid.UUID) ([]*domain.Hold, error) {
	return f.expiredHolds[userID], nil
}
func (f *fakeGraph) UpdateHoldStatus(ctx context.Context, userID, holdID uuid.UUID, status domain.HoldStatus) error {
	f.releasedHoldIDs = append(f.releasedHoldIDs, holdID)
	return nil
}
func (f *fakeGraph) ExpireSessionIfAllHoldsTerminal(ctx context.Context, userID, sessionID uuid.UUID) (bool, error) {
	f.expiredSessionIDs[sessionID] = true
	return true, nil
}
func (f *fakeGraph) ExpireStaleSessions(ctx context.Context, userID uuid.UUID, maxAge time.Duration) (int, error) {
	f.staleCalledFor = append(f.staleCalledFor, userID)
	return f.staleExpiredCount, nil
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
func (f *fakeGraph) StoreSession(ctx context.Context, session *domain.SchedulingSession, candidates []domain.Candidate) error {
	panic("not used")
}
func (f *fakeGraph) GetSession(ctx context.Context, userID, id uuid.UUID) (*domain.SchedulingSession, error) {
	panic("not used")
}
func (f *fakeGraph) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.SchedulingSession, error) {
	panic("not used")
}
func (f *fakeGraph) CommitSession(ctx context.Context, userID, id, candidateID uuid.UUID) (*domain.CanonicalEvent, error) {
	panic("not used")
}
func (f *fakeGraph) CancelSession(ctx context.Context, userID, id uuid.UUID) error {
	panic("not used")
}
func (f *fakeGraph) StoreHolds(ctx context.Context, holds []*domain.Hold) error { panic("not used") }
func (f *fakeGraph) GetHoldsBySession(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	panic("not used")
}
func (f *fakeGraph) ExtendHolds(ctx context.Context, userID uuid.UUID, holdIDs []uuid.UUID, newExpiry time.Time) error {
	panic("not used")
}
func (f *fakeGraph) CommitSessionHolds(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	panic("not used")
}
func (f *fakeGraph) ReleaseSessionHolds(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
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
func (f *fakeGraph) BusyIntervals(ctx context.Context, userID uuid.UUID, window domain.TimeWindow, requiredAccountID *uuid.UUID) ([]domain.BusyInterval, error) {
	panic("not used")
}

type fakeReaper struct{ reaped, calls int }

func (f *fakeReaper) ReapIdleMailboxes(maxIdle time.Duration) int { f.calls++; return f.reaped }

type fakeDrift struct {
	calledFor []uuid.UUID
	err       error
}

func (f *fakeDrift) ReconcileUser(ctx context.Context, userID uuid.UUID) error {
	f.calledFor = append(f.calledFor, userID)
	return f.err
}

func TestRenewChannels_DelegatesToAccountService(t *testing.T) {
	accts := &fakeAccounts{}
	m := New(Deps{Accounts: accts, AccountRegistry: &fakeAccountDirectory{}, Graph: &fakeGraph{expiredHolds: map[uuid.UUID][]*domain.Hold{}, expiredSessionIDs: map[uuid.UUID]bool{}}})

	before := time.Now()
	m.renewChannels(context.Background())
	assert.True(t, accts.renewCalledWith.After(before.Add(channelRenewalWindow-time.Minute)))
}

func TestRefreshExpiringTokens_UsesHealthWindow(t *testing.T) {
	accts := &fakeAccounts{}
	m := New(Deps{Accounts: accts, AccountRegistry: &fakeAccountDirectory{}, Graph: &fakeGraph{expiredHolds: map[uuid.UUID][]*domain.Hold{}, expiredSessionIDs: map[uuid.UUID]bool{}}})

	m.refreshExpiringTokens(context.Background())
	assert.Equal(t, tokenHealthWindow, accts.refreshCalledWith)
}

func TestGarbageCollectHolds_ExpiresAffectedSessions(t *testing.T) {
	userID, sessionID, holdID := uuid.New(), uuid.New(), uuid.New()
	graph := &fakeGraph{
		expiredHolds:      map[uuid.UUID][]*domain.Hold{userID: {{ID: holdID, SessionID: sessionID}}},
		expiredSessionIDs: map[uuid.UUID]bool{},
	}
	accountDir := &fakeAccountDirectory{active: []*domain.Account{{UserID: userID}}}
	m := New(Deps{Accounts: &fakeAccounts{}, AccountRegistry: accountDir, Graph: graph})

	m.garbageCollectHolds(context.Background())

	assert.Contains(t, graph.releasedHoldIDs, holdID)
	assert.True(t, graph.expiredSessionIDs[sessionID])
}

func TestGarbageCollectHolds_NoActiveUsersIsNoop(t *testing.T) {
	graph := &fakeGraph{expiredHolds: map[uuid.UUID][]*domain.Hold{}, expiredSessionIDs: map[uuid.UUID]bool{}}
	accountDir := &fakeAccountDirectory{}
	m := New(Deps{Accounts: &fakeAccounts{}, AccountRegistry: accountDir, Graph: graph})

	// No active accounts: the sweep should simply do nothing, not error.
	m.garbageCollectHolds(context.Background())
	assert.Empty(t, graph.releasedHoldIDs)
}

func TestExpireStaleSessions_WalksEveryActiveUser(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	graph := &fakeGraph{expiredHolds: map[uuid.UUID][]*domain.Hold{}, expiredSessionIDs: map[uuid.UUID]bool{}, staleExpiredCount: 2}
	accountDir := &fakeAccountDirectory{active: []*domain.Account{{UserID: u1}, {UserID: u1}, {UserID: u2}}}
	m := New(Deps{Accounts: &fakeAccounts{}, AccountRegistry: accountDir, Graph: graph})

	require.NotPanics(t, func() { m.expireStaleSessions(context.Background()) })
	assert.Equal(t, []uuid.UUID{u1, u2}, graph.staleCalledFor)
}

func TestReconcileDrift_SkipsWhenNoReconcilerWired(t *testing.T) {
	graph := &fakeGraph{expiredHolds: map[uuid.UUID][]*domain.Hold{}, expiredSessionIDs: map[uuid.UUID]bool{}}
	m := New(Deps{Accounts: &fakeAccounts{}, AccountRegistry: &fakeAccountDirectory{}, Graph: graph})

	require.NotPanics(t, func() { m.reconcileDrift(context.Background()) })
}

func TestReconcileDrift_CallsReconcilerPerActiveUser(t *testing.T) {
	userID := uuid.New()
	graph := &fakeGraph{expiredHolds: map[uuid.UUID][]*domain.Hold{}, expiredSessionIDs: map[uuid.UUID]bool{}}
	accountDir := &fakeAccountDirectory{active: []*domain.Account{{UserID: userID}}}
	drift := &fakeDrift{}
	m := New(Deps{Accounts: &fakeAccounts{}, AccountRegistry: accountDir, Graph: graph, Drift: drift})

	m.reconcileDrift(context.Background())
	assert.Equal(t, []uuid.UUID{userID}, drift.calledFor)
}

func TestReapMailboxes_NoopWhenNilReaper(t *testing.T) {
	m := New(Deps{Accounts: &fakeAccounts{}, AccountRegistry: &fakeAccountDirectory{}, Graph: &fakeGraph{}})
	require.NotPanics(t, func() {
		m.reapUserMailboxes(context.Background())
		m.reapSessionMailboxes(context.Background())
	})
}

func TestReapMailboxes_DelegatesToReapers(t *testing.T) {
	userReaper := &fakeReaper{reaped: 3}
	sessReaper := &fakeReaper{reaped: 1}
	m := New(Deps{
		Accounts:         &fakeAccounts{},
		AccountRegistry:  &fakeAccountDirectory{},
		Graph:            &fakeGraph{},
		UserMailboxes:    userReaper,
		SessionMailboxes: sessReaper,
	})
	require.NotPanics(t, func() {
		m.reapUserMailboxes(context.Background())
		m.reapSessionMailboxes(context.Background())
	})
	assert.Equal(t, 1, userReaper.calls)
	assert.Equal(t, 1, sessReaper.calls)
}
