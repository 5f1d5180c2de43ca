package worker

import (
	"context"

	"github.com/google/uuid"

	"tminus/core/domain"
	"tminus/core/port/out"
)

// DriftReconciler satisfies maintainer.DriftReconciler: it re-polls every
// active account belonging to a user, the same full-vs-incremental path a
// webhook or periodic poll would take, so any state that drifted out from
// under a missed notification gets repaired by the ordinary sync path
// rather than a bespoke diffing pass.
type DriftReconciler struct {
	accounts domain.AccountRepository
	syncQ    out.SyncQueue
}

func NewDriftReconciler(accounts domain.AccountRepository, syncQ out.SyncQueue) *DriftReconciler {
	return &DriftReconciler{accounts: accounts, syncQ: syncQ}
}

func (d *DriftReconciler) ReconcileUser(ctx context.Context, userID uuid.UUID) error {
	accounts, err := d.accounts.ListByUser(userID)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if account.Revoked {
			continue
		}
		task := &out.SyncPollTask{AccountID: account.ID, Reason: "periodic"}
		if err := d.syncQ.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}
