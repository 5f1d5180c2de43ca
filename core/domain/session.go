package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the Group Scheduler session state machine:
// open -> candidates_ready -> (committed | cancelled | expired).
type SessionState string

const (
	SessionOpen             SessionState = "open"
	SessionCandidatesReady  SessionState = "candidates_ready"
	SessionCommitted        SessionState = "committed"
	SessionCancelled        SessionState = "cancelled"
	SessionExpired          SessionState = "expired"
)

// IsTerminal reports whether no further transitions are legal.
func (s SessionState) IsTerminal() bool {
	return s == SessionCommitted || s == SessionCancelled || s == SessionExpired
}

// sessionTransitions enumerates every legal state-machine edge.
var sessionTransitions = map[SessionState]map[SessionState]bool{
	SessionOpen:            {SessionCandidatesReady: true, SessionCancelled: true, SessionExpired: true},
	SessionCandidatesReady: {SessionCommitted: true, SessionCancelled: true, SessionExpired: true},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s SessionState) CanTransition(next SessionState) bool {
	edges, ok := sessionTransitions[s]
	if !ok {
		return false
	}
	return edges[next]
}

// SchedulingObjective describes what the Group Scheduler is trying to book.
type SchedulingObjective struct {
	Title             string        `json:"title"`
	Duration          time.Duration `json:"duration"`
	WindowStart       time.Time     `json:"window_start"`
	WindowEnd         time.Time     `json:"window_end"`
	RequiredAccountID *uuid.UUID    `json:"required_account_id,omitempty"`
}

// Candidate is one proposed (session, start, end) slot with its score.
type Candidate struct {
	ID          uuid.UUID `json:"id" db:"id"`
	SessionID   uuid.UUID `json:"session_id" db:"session_id"`
	Start       time.Time `json:"start" db:"start_time"`
	End         time.Time `json:"end" db:"end_time"`
	Score       float64   `json:"score" db:"score"`
	Explanation string    `json:"explanation" db:"explanation"`
}

// SchedulingSession tracks one group-scheduling attempt across multiple
// User Graph Coordinators. Rows are duplicated per participant and linked via the cross-user session registry.
type SchedulingSession struct {
	ID                 uuid.UUID           `json:"id" db:"id"`
	OwnerUserID        uuid.UUID           `json:"owner_user_id" db:"owner_user_id"`
	ParticipantUserIDs []uuid.UUID         `json:"participant_user_ids" db:"-"`
	Objective          SchedulingObjective `json:"objective" db:"-"`
	State              SessionState        `json:"state" db:"state"`
	Candidates         []Candidate         `json:"candidates,omitempty" db:"-"`

	CommittedCandidateID *uuid.UUID `json:"committed_candidate_id,omitempty" db:"committed_candidate_id"`
	CommittedEventID     *uuid.UUID `json:"committed_event_id,omitempty" db:"committed_event_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsExpiredAt checks lazy-expiry eligibility at the given instant.
func (s *SchedulingSession) IsExpiredAt(now time.Time, maxAge time.Duration) bool {
	return !s.State.IsTerminal() && s.CreatedAt.Add(maxAge).Before(now)
}

// SessionFilter narrows list_sessions queries.
type SessionFilter struct {
	UserID uuid.UUID
	State  *SessionState
}

// SessionStore is the per-user persistence port for scheduling sessions
// and their candidates.
type SessionStore interface {
	Get(userID, id uuid.UUID) (*SchedulingSession, error)
	List(filter SessionFilter) ([]*SchedulingSession, error)
	Store(session *SchedulingSession, candidates []Candidate) error
	Commit(userID, id, candidateID, eventID uuid.UUID) error
	Cancel(userID, id uuid.UUID) error
	TransitionState(userID, id uuid.UUID, next SessionState) error
	ExpireStale(userID uuid.UUID, maxAge time.Duration) ([]uuid.UUID, error)
}

// SessionRegistryEntry is the cross-user record the Group Scheduler
// consults to find every participant of a session without knowing in
// advance which user owns it.
type SessionRegistryEntry struct {
	SessionID    uuid.UUID   `json:"session_id" db:"session_id"`
	OwnerUserID  uuid.UUID   `json:"owner_user_id" db:"owner_user_id"`
	Participants []uuid.UUID `json:"participant_user_ids" db:"-"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// SessionRegistryStore is the global (not per-user) persistence port
// backing the cross-user session registry: one row per group
// scheduling attempt, living in the global Postgres schema rather than
// any single user's partition.
type SessionRegistryStore interface {
	Register(entry *SessionRegistryEntry) error
	Get(sessionID uuid.UUID) (*SessionRegistryEntry, error)
	Delete(sessionID uuid.UUID) error
}
