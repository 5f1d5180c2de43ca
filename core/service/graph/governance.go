package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tminus/core/domain"
	"tminus/pkg/apperr"
)

func (c *Coordinator) UpsertAllocation(ctx context.Context, userID uuid.UUID, a *domain.Allocation) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		if existing, lookupErr := c.stores.Governance.GetAllocationByEvent(userID, a.EventID); lookupErr == nil && existing != nil && existing.ID != a.ID {
			return struct{}{}, apperr.Conflict("an allocation already exists for this event")
		}
		now := time.Now().UTC()
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
			a.CreatedAt = now
		}
		a.UserID = userID
		a.UpdatedAt = now
		if err := c.stores.Governance.UpsertAllocation(a); err != nil {
			return struct{}{}, apperr.DatabaseError("upsert allocation", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) DeleteAllocation(ctx context.Context, userID, id uuid.UUID) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		if err := c.stores.Governance.DeleteAllocation(userID, id); err != nil {
			return struct{}{}, apperr.DatabaseError("delete allocation", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) ListAllocations(ctx context.Context, userID uuid.UUID) ([]*domain.Allocation, error) {
	allocations, err := c.stores.Governance.ListAllocations(userID)
	if err != nil {
		return nil, apperr.DatabaseError("list allocations", err)
	}
	return allocations, nil
}

func (c *Coordinator) UpsertCommitment(ctx context.Context, userID uuid.UUID, commitment *domain.Commitment) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		now := time.Now().UTC()
		if commitment.ID == uuid.Nil {
			commitment.ID = uuid.New()
			commitment.CreatedAt = now
			commitment.Active = true
		}
		commitment.UserID = userID
		commitment.UpdatedAt = now
		if err := c.stores.Governance.UpsertCommitment(commitment); err != nil {
			return struct{}{}, apperr.DatabaseError("upsert commitment", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) DeleteCommitment(ctx context.Context, userID, id uuid.UUID) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		if err := c.stores.Governance.DeleteCommitment(userID, id); err != nil {
			return struct{}{}, apperr.DatabaseError("delete commitment", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) ListCommitments(ctx context.Context, userID uuid.UUID) ([]*domain.Commitment, error) {
	commitments, err := c.stores.Governance.ListCommitments(userID)
	if err != nil {
		return nil, apperr.DatabaseError("list commitments", err)
	}
	return commitments, nil
}

func (c *Coordinator) UpsertVIPPolicy(ctx context.Context, userID uuid.UUID, v *domain.VIPPolicy) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		now := time.Now().UTC()
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
			v.CreatedAt = now
		}
		v.UserID = userID
		v.UpdatedAt = now
		if err := c.stores.Governance.UpsertVIPPolicy(v); err != nil {
			return struct{}{}, apperr.DatabaseError("upsert vip policy", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) DeleteVIPPolicy(ctx context.Context, userID, id uuid.UUID) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		if err := c.stores.Governance.DeleteVIPPolicy(userID, id); err != nil {
			return struct{}{}, apperr.DatabaseError("delete vip policy", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) ListVIPPolicies(ctx context.Context, userID uuid.UUID) ([]*domain.VIPPolicy, error) {
	policies, err := c.stores.Governance.ListVIPPolicies(userID)
	if err != nil {
		return nil, apperr.DatabaseError("list vip policies", err)
	}
	return policies, nil
}

// GetCommitmentStatus sums allocated hours for the commitment's client over
// the trailing window ending at now and compares against its target.
func (c *Coordinator) GetCommitmentStatus(ctx context.Context, userID, commitmentID uuid.UUID, now time.Time) (*domain.CommitmentStatus, error) {
	commitment, err := c.stores.Governance.GetCommitment(userID, commitmentID)
	if err != nil {
		return nil, apperr.NotFound("commitment")
	}
	windowStart := now.Add(-commitment.WindowLength)
	allocations, err := c.stores.Governance.ListAllocationsInWindow(userID, commitment.Client, windowStart, now)
	if err != nil {
		return nil, apperr.DatabaseError("list allocations in window", err)
	}
	var actual float64
	for _, a := range allocations {
		actual += a.Hours
	}
	return &domain.CommitmentStatus{
		CommitmentID: commitment.ID,
		Client:       commitment.Client,
		TargetHours:  commitment.TargetHours,
		ActualHours:  actual,
		Compliant:    actual >= commitment.TargetHours,
		WindowStart:  windowStart,
		WindowEnd:    now,
	}, nil
}

// GetCommitmentProofData returns the deterministic, canonically-ordered
// JSON export backing a commitment's compliance proof: every allocation
// that contributed to the window, so an auditor can recompute ActualHours
// independently.
func (c *Coordinator) GetCommitmentProofData(ctx context.Context, userID, commitmentID uuid.UUID, now time.Time) ([]byte, error) {
	commitment, err := c.stores.Governance.GetCommitment(userID, commitmentID)
	if err != nil {
		return nil, apperr.NotFound("commitment")
	}
	windowStart := now.Add(-commitment.WindowLength)
	allocations, err := c.stores.Governance.ListAllocationsInWindow(userID, commitment.Client, windowStart, now)
	if err != nil {
		return nil, apperr.DatabaseError("list allocations in window", err)
	}
	var actual float64
	for _, a := range allocations {
		actual += a.Hours
	}
	proof := domain.CommitmentProofData{
		CommitmentID: commitment.ID,
		WindowStart:  windowStart,
		WindowEnd:    now,
		Allocations:  dereferenceAllocations(allocations),
		ActualHours:  actual,
	}
	return marshalDeterministic(proof)
}

func dereferenceAllocations(in []*domain.Allocation) []domain.Allocation {
	out := make([]domain.Allocation, len(in))
	for i, a := range in {
		out[i] = *a
	}
	return out
}
