package persistence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tminus/core/domain"
)

// MirrorAdapter implements domain.MirrorStore using PostgreSQL.
type MirrorAdapter struct {
	db *sqlx.DB
}

func NewMirrorAdapter(db *sqlx.DB) *MirrorAdapter {
	return &MirrorAdapter{db: db}
}

const mirrorColumns = `id, user_id, canonical_id, policy_edge_id, target_account_id, target_calendar_id,
	remote_mirror_event_id, last_written_hash, detail_level, status, created_at, updated_at`

func (a *MirrorAdapter) GetByID(userID, id uuid.UUID) (*domain.MirrorRecord, error) {
	var m domain.MirrorRecord
	query := `SELECT ` + mirrorColumns + ` FROM mirror_records WHERE user_id = $1 AND id = $2`
	if err := a.db.Get(&m, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (a *MirrorAdapter) ListByCanonical(userID, canonicalID uuid.UUID) ([]*domain.MirrorRecord, error) {
	var mirrors []*domain.MirrorRecord
	query := `SELECT ` + mirrorColumns + ` FROM mirror_records WHERE user_id = $1 AND canonical_id = $2 ORDER BY created_at`
	if err := a.db.Select(&mirrors, query, userID, canonicalID); err != nil {
		return nil, err
	}
	return mirrors, nil
}

func (a *MirrorAdapter) ListByTargetAccount(userID, targetAccountID uuid.UUID) ([]*domain.MirrorRecord, error) {
	var mirrors []*domain.MirrorRecord
	query := `SELECT ` + mirrorColumns + ` FROM mirror_records WHERE user_id = $1 AND target_account_id = $2 ORDER BY created_at`
	if err := a.db.Select(&mirrors, query, userID, targetAccountID); err != nil {
		return nil, err
	}
	return mirrors, nil
}

func (a *MirrorAdapter) ListAll(userID uuid.UUID) ([]*domain.MirrorRecord, error) {
	var mirrors []*domain.MirrorRecord
	query := `SELECT ` + mirrorColumns + ` FROM mirror_records WHERE user_id = $1 ORDER BY created_at`
	if err := a.db.Select(&mirrors, query, userID); err != nil {
		return nil, err
	}
	return mirrors, nil
}

func (a *MirrorAdapter) Upsert(mirror *domain.MirrorRecord) error {
	query := `
		INSERT INTO mirror_records (id, user_id, canonical_id, policy_edge_id, target_account_id, target_calendar_id,
			remote_mirror_event_id, last_written_hash, detail_level, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			target_calendar_id = EXCLUDED.target_calendar_id,
			remote_mirror_event_id = EXCLUDED.remote_mirror_event_id,
			last_written_hash = EXCLUDED.last_written_hash,
			detail_level = EXCLUDED.detail_level,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`
	_, err := a.db.Exec(query,
		mirror.ID, mirror.UserID, mirror.CanonicalID, mirror.PolicyEdgeID, mirror.TargetAccount, mirror.TargetCalID,
		mirror.RemoteMirrorID, mirror.LastWrittenHash, mirror.DetailLevel, mirror.Status, mirror.CreatedAt, mirror.UpdatedAt,
	)
	return err
}

func (a *MirrorAdapter) MarkWritten(userID, id uuid.UUID, hash, remoteID string) error {
	query := `UPDATE mirror_records SET last_written_hash = $1, remote_mirror_event_id = $2, status = $3, updated_at = $4
		WHERE user_id = $5 AND id = $6`
	_, err := a.db.Exec(query, hash, remoteID, domain.MirrorStatusWritten, time.Now(), userID, id)
	return err
}

func (a *MirrorAdapter) Delete(userID, id uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM mirror_records WHERE user_id = $1 AND id = $2`, userID, id)
	return err
}

var _ domain.MirrorStore = (*MirrorAdapter)(nil)
