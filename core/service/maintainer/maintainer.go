// Package maintainer implements the Periodic Maintainer: the background
// cron that keeps webhook channels alive, OAuth tokens fresh, provider
// mirrors drift-free, and session/hold state from leaking forever on an
// abandoned client.
//
// Start/Stop wraps a cancellable background loop, one bounded-deadline
// context per run, with a robfig/cron/v3.Cron instance so every job gets
// its own schedule instead of sharing one interval.
package maintainer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/pkg/logger"
	"tminus/pkg/metrics"
)

const (
	channelRenewalWindow = 24 * time.Hour
	// Access tokens typically live far less than 12h, so this job mostly
	// surfaces accounts whose refresh token has gone bad (via the reactive
	// refresh path's terminal-error handling) before a real caller hits it;
	// the window just needs to comfortably cover one run interval.
	tokenHealthWindow  = 6 * time.Hour
	staleSessionMaxAge = 24 * time.Hour
	mailboxIdleTimeout = 30 * time.Minute
)

// mailboxReaper is implemented by both the Graph Coordinator and the Group
// Scheduler; the Maintainer only needs this one maintenance hook from each.
type mailboxReaper interface {
	ReapIdleMailboxes(maxIdle time.Duration) int
}

// DriftReconciler walks one user's mirror registry against live provider
// state and repairs whatever has drifted. The concrete implementation
// belongs to the Sync Pipeline; a nil reconciler simply disables the daily
// drift job rather than failing startup.
type DriftReconciler interface {
	ReconcileUser(ctx context.Context, userID uuid.UUID) error
}

// Maintainer owns the cron schedule for every background maintenance job.
type Maintainer struct {
	accounts   in.AccountService
	accountDir domain.AccountRepository
	graph      in.GraphService
	userMail   mailboxReaper
	sessMail   mailboxReaper
	drift      DriftReconciler

	cron *cron.Cron
	log  *logger.Logger
}

// Deps bundles the Maintainer's collaborators. Drift is optional; a nil
// Drift disables the daily drift job.
type Deps struct {
	Accounts        in.AccountService
	AccountRegistry domain.AccountRepository
	Graph           in.GraphService
	UserMailboxes   mailboxReaper
	SessionMailboxes mailboxReaper
	Drift           DriftReconciler
}

func New(deps Deps) *Maintainer {
	return &Maintainer{
		accounts:   deps.Accounts,
		accountDir: deps.AccountRegistry,
		graph:      deps.Graph,
		userMail:   deps.UserMailboxes,
		sessMail:   deps.SessionMailboxes,
		drift:      deps.Drift,
		cron:       cron.New(),
		log:        logger.WithField("component", "periodic_maintainer"),
	}
}

// Start registers every job and begins running the cron scheduler on its
// own goroutine. Returns an error only if a cron spec fails to parse, which
// would indicate a programming error rather than a runtime condition.
func (m *Maintainer) Start() error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context)
	}{
		{"0 */6 * * *", "channel_renewal", m.renewChannels},
		{"0 */12 * * *", "token_health", m.refreshExpiringTokens},
		{"0 2 * * *", "drift_reconciliation", m.reconcileDrift},
		{"*/5 * * * *", "hold_gc", m.garbageCollectHolds},
		{"0 3 * * *", "stale_session_expiry", m.expireStaleSessions},
		{"*/5 * * * *", "user_mailbox_reap", m.reapUserMailboxes},
		{"*/5 * * * *", "session_mailbox_reap", m.reapSessionMailboxes},
	}

	for _, j := range jobs {
		name := j.name
		run := j.run
		if _, err := m.cron.AddFunc(j.spec, func() { run(context.Background()) }); err != nil {
			return err
		}
		m.log.WithField("job", name).WithField("spec", j.spec).Info("registered maintenance job")
	}

	m.cron.Start()
	return nil
}

// Stop waits for any in-flight job to finish, bounded by ctx.
func (m *Maintainer) Stop(ctx context.Context) {
	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

func (m *Maintainer) renewChannels(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaintainerCycleDuration.WithLabelValues("channel_renewal"))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := m.accounts.RenewChannels(ctx, time.Now().Add(channelRenewalWindow)); err != nil {
		m.log.WithError(err).Warn("channel renewal sweep failed")
		return
	}
	metrics.ChannelsRenewedTotal.Inc()
}

func (m *Maintainer) refreshExpiringTokens(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaintainerCycleDuration.WithLabelValues("token_health"))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := m.accounts.RefreshExpiringTokens(ctx, tokenHealthWindow); err != nil {
		m.log.WithError(err).Warn("token health sweep failed")
		return
	}
	metrics.TokensRefreshedTotal.Inc()
}

// activeUsers derives the set of users with at least one active calendar
// account — the population every per-user sweep (hold GC, stale session
// expiry, drift reconciliation) needs to walk.
func (m *Maintainer) activeUsers() ([]uuid.UUID, error) {
	accounts, err := m.accountDir.ListAllActive()
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(accounts))
	users := make([]uuid.UUID, 0, len(accounts))
	for _, a := range accounts {
		if !seen[a.UserID] {
			seen[a.UserID] = true
			users = append(users, a.UserID)
		}
	}
	return users, nil
}

func (m *Maintainer) garbageCollectHolds(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaintainerCycleDuration.WithLabelValues("hold_gc"))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	users, err := m.activeUsers()
	if err != nil {
		m.log.WithError(err).Warn("hold GC: list active users failed")
		return
	}
	for _, userID := range users {
		expired, err := m.graph.GetExpiredHolds(ctx, userID)
		if err != nil {
			m.log.WithError(err).WithField("user_id", userID).Warn("hold GC: list expired holds failed")
			continue
		}
		affectedSessions := make(map[uuid.UUID]bool)
		for _, h := range expired {
			// Holds have no separate "expired" status: an expired hold is
			// released, same as an explicit cancel, and it's the
			// session's ExpireSessionIfAllHoldsTerminal check below that
			// decides whether the session itself is now done for.
			if err := m.graph.UpdateHoldStatus(ctx, userID, h.ID, domain.HoldReleased); err != nil {
				m.log.WithError(err).WithField("hold_id", h.ID).Warn("hold GC: release failed")
				continue
			}
			metrics.HoldsExpiredTotal.Inc()
			affectedSessions[h.SessionID] = true
		}
		for sessionID := range affectedSessions {
			if _, err := m.graph.ExpireSessionIfAllHoldsTerminal(ctx, userID, sessionID); err != nil {
				m.log.WithError(err).WithField("session_id", sessionID).Warn("hold GC: session expiry check failed")
			}
		}
	}
}

func (m *Maintainer) expireStaleSessions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	users, err := m.activeUsers()
	if err != nil {
		m.log.WithError(err).Warn("stale session expiry: list active users failed")
		return
	}
	for _, userID := range users {
		n, err := m.graph.ExpireStaleSessions(ctx, userID, staleSessionMaxAge)
		if err != nil {
			m.log.WithError(err).WithField("user_id", userID).Warn("stale session expiry failed")
			continue
		}
		if n > 0 {
			m.log.WithField("user_id", userID).WithField("count", n).Info("expired stale sessions")
		}
	}
}

func (m *Maintainer) reconcileDrift(ctx context.Context) {
	if m.drift == nil {
		return
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaintainerCycleDuration.WithLabelValues("drift_reconciliation"))

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	users, err := m.activeUsers()
	if err != nil {
		m.log.WithError(err).Warn("drift reconciliation: list active users failed")
		return
	}
	for _, userID := range users {
		if err := m.drift.ReconcileUser(ctx, userID); err != nil {
			m.log.WithError(err).WithField("user_id", userID).Warn("drift reconciliation failed")
			continue
		}
		metrics.DriftReconciledTotal.Inc()
	}
}

func (m *Maintainer) reapUserMailboxes(context.Context) {
	if m.userMail == nil {
		return
	}
	if n := m.userMail.ReapIdleMailboxes(mailboxIdleTimeout); n > 0 {
		m.log.WithField("count", n).Debug("reaped idle user mailboxes")
	}
}

func (m *Maintainer) reapSessionMailboxes(context.Context) {
	if m.sessMail == nil {
		return
	}
	if n := m.sessMail.ReapIdleMailboxes(mailboxIdleTimeout); n > 0 {
		m.log.WithField("count", n).Debug("reaped idle session mailboxes")
	}
}
