package persistence

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tminus/core/domain"
)

// PolicyAdapter implements domain.PolicyStore using PostgreSQL.
type PolicyAdapter struct {
	db *sqlx.DB
}

func NewPolicyAdapter(db *sqlx.DB) *PolicyAdapter {
	return &PolicyAdapter{db: db}
}

const policyColumns = `id, user_id, from_account_id, to_account_id, detail_level, calendar_kind,
	target_calendar_id, enabled, created_at, updated_at`

func (a *PolicyAdapter) GetByID(userID, id uuid.UUID) (*domain.PolicyEdge, error) {
	var p domain.PolicyEdge
	query := `SELECT ` + policyColumns + ` FROM policy_edges WHERE user_id = $1 AND id = $2`
	if err := a.db.Get(&p, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (a *PolicyAdapter) ListByFromAccount(userID, fromAccount uuid.UUID) ([]*domain.PolicyEdge, error) {
	var edges []*domain.PolicyEdge
	query := `SELECT ` + policyColumns + ` FROM policy_edges WHERE user_id = $1 AND from_account_id = $2 ORDER BY created_at`
	if err := a.db.Select(&edges, query, userID, fromAccount); err != nil {
		return nil, err
	}
	return edges, nil
}

func (a *PolicyAdapter) ListAll(userID uuid.UUID) ([]*domain.PolicyEdge, error) {
	var edges []*domain.PolicyEdge
	query := `SELECT ` + policyColumns + ` FROM policy_edges WHERE user_id = $1 ORDER BY created_at`
	if err := a.db.Select(&edges, query, userID); err != nil {
		return nil, err
	}
	return edges, nil
}

func (a *PolicyAdapter) Upsert(edge *domain.PolicyEdge) error {
	query := `
		INSERT INTO policy_edges (id, user_id, from_account_id, to_account_id, detail_level, calendar_kind,
			target_calendar_id, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			detail_level = EXCLUDED.detail_level,
			calendar_kind = EXCLUDED.calendar_kind,
			target_calendar_id = EXCLUDED.target_calendar_id,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`
	_, err := a.db.Exec(query,
		edge.ID, edge.UserID, edge.FromAccount, edge.ToAccount, edge.Detail, edge.Kind,
		edge.TargetCalendarID, edge.Enabled, edge.CreatedAt, edge.UpdatedAt,
	)
	return err
}

func (a *PolicyAdapter) Delete(userID, id uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM policy_edges WHERE user_id = $1 AND id = $2`, userID, id)
	return err
}

var _ domain.PolicyStore = (*PolicyAdapter)(nil)
