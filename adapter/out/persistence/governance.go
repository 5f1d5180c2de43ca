package persistence

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tminus/core/domain"
)

// GovernanceAdapter implements domain.GovernanceStore using PostgreSQL.
type GovernanceAdapter struct {
	db *sqlx.DB
}

func NewGovernanceAdapter(db *sqlx.DB) *GovernanceAdapter {
	return &GovernanceAdapter{db: db}
}

const allocationColumns = `id, user_id, event_id, category, client, rate_cents, hours, created_at, updated_at`

func (a *GovernanceAdapter) UpsertAllocation(alloc *domain.Allocation) error {
	query := `
		INSERT INTO allocations (` + allocationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category, client = EXCLUDED.client, rate_cents = EXCLUDED.rate_cents,
			hours = EXCLUDED.hours, updated_at = EXCLUDED.updated_at`
	_, err := a.db.Exec(query,
		alloc.ID, alloc.UserID, alloc.EventID, alloc.Category, alloc.Client, alloc.RateCents,
		alloc.Hours, alloc.CreatedAt, alloc.UpdatedAt,
	)
	return err
}

func (a *GovernanceAdapter) GetAllocationByEvent(userID, eventID uuid.UUID) (*domain.Allocation, error) {
	var alloc domain.Allocation
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE user_id = $1 AND event_id = $2`
	if err := a.db.Get(&alloc, query, userID, eventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &alloc, nil
}

func (a *GovernanceAdapter) DeleteAllocation(userID, id uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM allocations WHERE user_id = $1 AND id = $2`, userID, id)
	return err
}

func (a *GovernanceAdapter) ListAllocations(userID uuid.UUID) ([]*domain.Allocation, error) {
	var allocs []*domain.Allocation
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE user_id = $1 ORDER BY created_at`
	if err := a.db.Select(&allocs, query, userID); err != nil {
		return nil, err
	}
	return allocs, nil
}

const allocationColumnsAliased = `a.id, a.user_id, a.event_id, a.category, a.client, a.rate_cents, a.hours, a.created_at, a.updated_at`

func (a *GovernanceAdapter) ListAllocationsInWindow(userID uuid.UUID, client string, start, end time.Time) ([]*domain.Allocation, error) {
	var allocs []*domain.Allocation
	query := `
		SELECT ` + allocationColumnsAliased + `
		FROM allocations a
		JOIN canonical_events e ON e.id = a.event_id AND e.user_id = a.user_id
		WHERE a.user_id = $1 AND a.client = $2 AND e.start_time >= $3 AND e.start_time < $4
		ORDER BY e.start_time`
	if err := a.db.Select(&allocs, query, userID, client, start, end); err != nil {
		return nil, err
	}
	return allocs, nil
}

const commitmentColumns = `id, user_id, client, target_hours, window_length, active, created_at, updated_at`

func (a *GovernanceAdapter) UpsertCommitment(c *domain.Commitment) error {
	query := `
		INSERT INTO commitments (` + commitmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			target_hours = EXCLUDED.target_hours, window_length = EXCLUDED.window_length,
			active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`
	_, err := a.db.Exec(query,
		c.ID, c.UserID, c.Client, c.TargetHours, c.WindowLength, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (a *GovernanceAdapter) GetCommitment(userID, id uuid.UUID) (*domain.Commitment, error) {
	var c domain.Commitment
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE user_id = $1 AND id = $2`
	if err := a.db.Get(&c, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (a *GovernanceAdapter) DeleteCommitment(userID, id uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM commitments WHERE user_id = $1 AND id = $2`, userID, id)
	return err
}

func (a *GovernanceAdapter) ListCommitments(userID uuid.UUID) ([]*domain.Commitment, error) {
	var commitments []*domain.Commitment
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE user_id = $1 ORDER BY created_at`
	if err := a.db.Select(&commitments, query, userID); err != nil {
		return nil, err
	}
	return commitments, nil
}

const vipColumns = `id, user_id, participant_hash, priority_weight, conditions, created_at, updated_at`

func (a *GovernanceAdapter) UpsertVIPPolicy(v *domain.VIPPolicy) error {
	query := `
		INSERT INTO vip_policies (` + vipColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			priority_weight = EXCLUDED.priority_weight, conditions = EXCLUDED.conditions,
			updated_at = EXCLUDED.updated_at`
	_, err := a.db.Exec(query, v.ID, v.UserID, v.ParticipantHash, v.PriorityWeight, v.Conditions, v.CreatedAt, v.UpdatedAt)
	return err
}

func (a *GovernanceAdapter) GetVIPPolicy(userID uuid.UUID, participantHash string) (*domain.VIPPolicy, error) {
	var v domain.VIPPolicy
	query := `SELECT ` + vipColumns + ` FROM vip_policies WHERE user_id = $1 AND participant_hash = $2`
	if err := a.db.Get(&v, query, userID, participantHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (a *GovernanceAdapter) DeleteVIPPolicy(userID, id uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM vip_policies WHERE user_id = $1 AND id = $2`, userID, id)
	return err
}

func (a *GovernanceAdapter) ListVIPPolicies(userID uuid.UUID) ([]*domain.VIPPolicy, error) {
	var policies []*domain.VIPPolicy
	query := `SELECT ` + vipColumns + ` FROM vip_policies WHERE user_id = $1 ORDER BY created_at`
	if err := a.db.Select(&policies, query, userID); err != nil {
		return nil, err
	}
	return policies, nil
}
var _ domain.GovernanceStore = (*GovernanceAdapter)(nil)
