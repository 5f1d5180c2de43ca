package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tminus/core/domain"
)

// HoldAdapter implements domain.HoldStore using PostgreSQL.
type HoldAdapter struct {
	db *sqlx.DB
}

func NewHoldAdapter(db *sqlx.DB) *HoldAdapter {
	return &HoldAdapter{db: db}
}

const holdColumns = `id, user_id, session_id, candidate_id, account_id, start_time, end_time,
	provider_mirror_id, status, expires_at, created_at, updated_at`

func (a *HoldAdapter) Store(holds []*domain.Hold) error {
	if len(holds) == 0 {
		return nil
	}
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO holds (id, user_id, session_id, candidate_id, account_id, start_time, end_time,
			provider_mirror_id, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, h := range holds {
		if _, err := tx.Exec(query,
			h.ID, h.UserID, h.SessionID, h.CandidateID, h.AccountID, h.Start, h.End,
			h.ProviderMirrorID, h.Status, h.ExpiresAt, h.CreatedAt, h.UpdatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (a *HoldAdapter) ListBySession(userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	var holds []*domain.Hold
	query := `SELECT ` + holdColumns + ` FROM holds WHERE user_id = $1 AND session_id = $2 ORDER BY created_at`
	if err := a.db.Select(&holds, query, userID, sessionID); err != nil {
		return nil, err
	}
	return holds, nil
}

func (a *HoldAdapter) UpdateStatus(userID, id uuid.UUID, status domain.HoldStatus) error {
	query := `UPDATE holds SET status = $1, updated_at = $2 WHERE user_id = $3 AND id = $4`
	_, err := a.db.Exec(query, status, time.Now(), userID, id)
	return err
}

func (a *HoldAdapter) Extend(userID, id uuid.UUID, newExpiry time.Time) error {
	query := `UPDATE holds SET expires_at = $1, updated_at = $2 WHERE user_id = $3 AND id = $4`
	_, err := a.db.Exec(query, newExpiry, time.Now(), userID, id)
	return err
}

func (a *HoldAdapter) ReleaseAllForSession(userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	var holds []*domain.Hold
	query := `UPDATE holds SET status = $1, updated_at = $2
		WHERE user_id = $3 AND session_id = $4 AND status NOT IN ($5, $6)
		RETURNING ` + holdColumns
	err := a.db.Select(&holds, query, domain.HoldReleased, time.Now(), userID, sessionID, domain.HoldCommitted, domain.HoldReleased)
	if err != nil {
		return nil, err
	}
	return holds, nil
}

func (a *HoldAdapter) ListExpired(userID uuid.UUID, now time.Time) ([]*domain.Hold, error) {
	var holds []*domain.Hold
	query := `SELECT ` + holdColumns + ` FROM holds
		WHERE user_id = $1 AND status NOT IN ($2, $3) AND expires_at < $4
		ORDER BY expires_at`
	err := a.db.Select(&holds, query, userID, domain.HoldCommitted, domain.HoldReleased, now)
	if err != nil {
		return nil, err
	}
	return holds, nil
}

func (a *HoldAdapter) AllTerminalForSession(userID, sessionID uuid.UUID) (bool, error) {
	var count int
	query := `SELECT count(*) FROM holds WHERE user_id = $1 AND session_id = $2 AND status NOT IN ($3, $4)`
	if err := a.db.Get(&count, query, userID, sessionID, domain.HoldCommitted, domain.HoldReleased); err != nil {
		return false, err
	}
	return count == 0, nil
}

var _ domain.HoldStore = (*HoldAdapter)(nil)
