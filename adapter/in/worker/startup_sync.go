package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tminus/core/domain"
	"tminus/core/port/out"
	"tminus/pkg/logger"
)

// StartupSyncScheduler runs a full catch-up poll for every active account
// once on startup, then periodically re-polls accounts that have gone
// quiet (no successful sync in staleThreshold) in case a webhook or
// channel renewal was missed.
type StartupSyncScheduler struct {
	accounts       domain.AccountRepository
	syncQ          out.SyncQueue
	checkInterval  time.Duration
	staleThreshold time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
}

func NewStartupSyncScheduler(accounts domain.AccountRepository, syncQ out.SyncQueue) *StartupSyncScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &StartupSyncScheduler{
		accounts:       accounts,
		syncQ:          syncQ,
		checkInterval:  5 * time.Minute,
		staleThreshold: 30 * time.Minute,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (s *StartupSyncScheduler) Start() {
	logger.Info("starting sync scheduler with interval %v", s.checkInterval)
	go s.run()
}

func (s *StartupSyncScheduler) Stop() {
	s.cancel()
}

func (s *StartupSyncScheduler) run() {
	s.runStartupSync()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkStaleAccounts()
		}
	}
}

// runStartupSync enqueues a full poll for every active account, bounded
// to five concurrent enqueues so a large fleet doesn't hammer the queue
// client all at once.
func (s *StartupSyncScheduler) runStartupSync() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Minute)
	defer cancel()

	accounts, err := s.accounts.ListAllActive()
	if err != nil {
		logger.WithError(err).Warn("failed to list active accounts for startup sync")
		return
	}
	if len(accounts) == 0 {
		return
	}

	logger.Info("enqueueing startup sync for %d accounts", len(accounts))
	semaphore := make(chan struct{}, 5)
	for _, account := range accounts {
		semaphore <- struct{}{}
		go func(accountID uuid.UUID) {
			defer func() { <-semaphore }()
			s.enqueue(ctx, accountID, "startup")
		}(account.ID)
	}
	for i := 0; i < cap(semaphore); i++ {
		semaphore <- struct{}{}
	}
}

func (s *StartupSyncScheduler) checkStaleAccounts() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	accounts, err := s.accounts.ListAllActive()
	if err != nil {
		logger.WithError(err).Warn("failed to list active accounts for stale check")
		return
	}

	cutoff := time.Now().Add(-s.staleThreshold)
	for _, account := range accounts {
		if account.LastSuccessAt != nil && account.LastSuccessAt.After(cutoff) {
			continue
		}
		go s.enqueue(ctx, account.ID, "periodic")
	}
}

func (s *StartupSyncScheduler) enqueue(ctx context.Context, accountID uuid.UUID, reason string) {
	task := &out.SyncPollTask{AccountID: accountID, Reason: reason}
	if err := s.syncQ.Enqueue(ctx, task); err != nil {
		logger.WithError(err).Warn("failed to enqueue %s sync for account %s", reason, accountID)
	}
}
