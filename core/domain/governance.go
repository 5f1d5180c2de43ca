package domain

import (
	"time"

	"github.com/google/uuid"
)

// Allocation attributes one canonical event to a billing category/client
// for a given rate. At most one live allocation exists per event.
type Allocation struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	EventID     uuid.UUID `json:"event_id" db:"event_id"`
	Category    string    `json:"category" db:"category"`
	Client      string    `json:"client" db:"client"`
	RateCents   int64     `json:"rate_cents" db:"rate_cents"`
	Hours       float64   `json:"hours" db:"hours"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Commitment is a target of hours for a client over a rolling window.
// At most one live commitment exists per client.
type Commitment struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	UserID       uuid.UUID     `json:"user_id" db:"user_id"`
	Client       string        `json:"client" db:"client"`
	TargetHours  float64       `json:"target_hours" db:"target_hours"`
	WindowLength time.Duration `json:"window_length" db:"window_length"`
	Active       bool          `json:"active" db:"active"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// CommitmentStatus is the rolling-window compliance view (get_commitment_status).
type CommitmentStatus struct {
	CommitmentID uuid.UUID `json:"commitment_id"`
	Client       string    `json:"client"`
	TargetHours  float64   `json:"target_hours"`
	ActualHours  float64   `json:"actual_hours"`
	Compliant    bool      `json:"compliant"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
}

// CommitmentProofData is the deterministic export backing get_commitment_proof_data.
type CommitmentProofData struct {
	CommitmentID uuid.UUID    `json:"commitment_id"`
	WindowStart  time.Time    `json:"window_start"`
	WindowEnd    time.Time    `json:"window_end"`
	Allocations  []Allocation `json:"allocations"`
	ActualHours  float64      `json:"actual_hours"`
}

// VIPPolicy assigns a priority weight and optional conditions to a
// participant, keyed by participant hash rather than raw email.
type VIPPolicy struct {
	ID              uuid.UUID `json:"id" db:"id"`
	UserID          uuid.UUID `json:"user_id" db:"user_id"`
	ParticipantHash string    `json:"participant_hash" db:"participant_hash"`
	PriorityWeight  float64   `json:"priority_weight" db:"priority_weight"`
	Conditions      string    `json:"conditions,omitempty" db:"conditions"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// GovernanceStore is the per-user persistence port for allocations,
// commitments and VIP policies.
type GovernanceStore interface {
	UpsertAllocation(a *Allocation) error
	GetAllocationByEvent(userID, eventID uuid.UUID) (*Allocation, error)
	DeleteAllocation(userID, id uuid.UUID) error
	ListAllocations(userID uuid.UUID) ([]*Allocation, error)

	UpsertCommitment(c *Commitment) error
	GetCommitment(userID, id uuid.UUID) (*Commitment, error)
	DeleteCommitment(userID, id uuid.UUID) error
	ListCommitments(userID uuid.UUID) ([]*Commitment, error)
	ListAllocationsInWindow(userID uuid.UUID, client string, start, end time.Time) ([]*Allocation, error)

	UpsertVIPPolicy(v *VIPPolicy) error
	GetVIPPolicy(userID uuid.UUID, participantHash string) (*VIPPolicy, error)
	DeleteVIPPolicy(userID, id uuid.UUID) error
	ListVIPPolicies(userID uuid.UUID) ([]*VIPPolicy, error)
}
