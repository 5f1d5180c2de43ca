package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tminus/core/domain"
)

// SessionAdapter implements domain.SessionStore using PostgreSQL. A
// session's objective and participant list never fit the struct's own
// column mapping (both are db:"-"), so they're split across a jsonb
// column and a join table respectively.
type SessionAdapter struct {
	db *sqlx.DB
}

func NewSessionAdapter(db *sqlx.DB) *SessionAdapter {
	return &SessionAdapter{db: db}
}

const sessionColumns = `id, owner_user_id, state, committed_candidate_id, committed_event_id, created_at, updated_at`
const candidateColumns = `id, session_id, start_time, end_time, score, explanation`

func (a *SessionAdapter) loadParticipants(id uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `SELECT participant_user_id FROM session_participants WHERE session_id = $1`
	if err := a.db.Select(&ids, query, id); err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *SessionAdapter) loadCandidates(id uuid.UUID) ([]domain.Candidate, error) {
	var candidates []domain.Candidate
	query := `SELECT ` + candidateColumns + ` FROM session_candidates WHERE session_id = $1 ORDER BY score DESC`
	if err := a.db.Select(&candidates, query, id); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (a *SessionAdapter) hydrate(s *domain.SchedulingSession) error {
	var objectiveJSON []byte
	if err := a.db.Get(&objectiveJSON, `SELECT objective FROM scheduling_sessions WHERE id = $1`, s.ID); err != nil {
		return err
	}
	if len(objectiveJSON) > 0 {
		if err := json.Unmarshal(objectiveJSON, &s.Objective); err != nil {
			return err
		}
	}
	participants, err := a.loadParticipants(s.ID)
	if err != nil {
		return err
	}
	s.ParticipantUserIDs = participants

	candidates, err := a.loadCandidates(s.ID)
	if err != nil {
		return err
	}
	s.Candidates = candidates
	return nil
}

func (a *SessionAdapter) Get(userID, id uuid.UUID) (*domain.SchedulingSession, error) {
	var s domain.SchedulingSession
	query := `SELECT ` + sessionColumns + ` FROM scheduling_sessions WHERE owner_user_id = $1 AND id = $2`
	if err := a.db.Get(&s, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := a.hydrate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *SessionAdapter) List(filter domain.SessionFilter) ([]*domain.SchedulingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM scheduling_sessions WHERE owner_user_id = $1`
	args := []any{filter.UserID}
	if filter.State != nil {
		query += ` AND state = $2`
		args = append(args, *filter.State)
	}
	query += ` ORDER BY created_at DESC`

	var sessions []*domain.SchedulingSession
	if err := a.db.Select(&sessions, query, args...); err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if err := a.hydrate(s); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (a *SessionAdapter) Store(session *domain.SchedulingSession, candidates []domain.Candidate) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	objectiveJSON, err := json.Marshal(session.Objective)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scheduling_sessions (id, owner_user_id, objective, state, committed_candidate_id,
			committed_event_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			committed_candidate_id = EXCLUDED.committed_candidate_id,
			committed_event_id = EXCLUDED.committed_event_id,
			updated_at = EXCLUDED.updated_at`
	_, err = tx.Exec(query,
		session.ID, session.OwnerUserID, objectiveJSON, session.State,
		session.CommittedCandidateID, session.CommittedEventID, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM session_participants WHERE session_id = $1`, session.ID); err != nil {
		return err
	}
	for _, p := range session.ParticipantUserIDs {
		if _, err := tx.Exec(`INSERT INTO session_participants (session_id, participant_user_id) VALUES ($1, $2)`, session.ID, p); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM session_candidates WHERE session_id = $1`, session.ID); err != nil {
		return err
	}
	insertCandidate := `INSERT INTO session_candidates (id, session_id, start_time, end_time, score, explanation)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, c := range candidates {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.Exec(insertCandidate, id, session.ID, c.Start, c.End, c.Score, c.Explanation); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (a *SessionAdapter) Commit(userID, id, candidateID, eventID uuid.UUID) error {
	query := `UPDATE scheduling_sessions SET state = $1, committed_candidate_id = $2, committed_event_id = $3, updated_at = $4
		WHERE owner_user_id = $5 AND id = $6`
	_, err := a.db.Exec(query, domain.SessionCommitted, candidateID, eventID, time.Now(), userID, id)
	return err
}

func (a *SessionAdapter) Cancel(userID, id uuid.UUID) error {
	query := `UPDATE scheduling_sessions SET state = $1, updated_at = $2 WHERE owner_user_id = $3 AND id = $4`
	_, err := a.db.Exec(query, domain.SessionCancelled, time.Now(), userID, id)
	return err
}

func (a *SessionAdapter) TransitionState(userID, id uuid.UUID, next domain.SessionState) error {
	query := `UPDATE scheduling_sessions SET state = $1, updated_at = $2 WHERE owner_user_id = $3 AND id = $4`
	_, err := a.db.Exec(query, next, time.Now(), userID, id)
	return err
}

func (a *SessionAdapter) ExpireStale(userID uuid.UUID, maxAge time.Duration) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `UPDATE scheduling_sessions SET state = $1, updated_at = $2
		WHERE owner_user_id = $3 AND state NOT IN ($4, $5, $6) AND created_at < $7
		RETURNING id`
	cutoff := time.Now().Add(-maxAge)
	err := a.db.Select(&ids, query, domain.SessionExpired, time.Now(), userID,
		domain.SessionCommitted, domain.SessionCancelled, domain.SessionExpired, cutoff)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

var _ domain.SessionStore = (*SessionAdapter)(nil)

// SessionRegistryAdapter implements domain.SessionRegistryStore using the
// global Postgres schema: one row per scheduling attempt, independent of
// any participant's own per-user partition.
type SessionRegistryAdapter struct {
	db *sqlx.DB
}

func NewSessionRegistryAdapter(db *sqlx.DB) *SessionRegistryAdapter {
	return &SessionRegistryAdapter{db: db}
}

func (a *SessionRegistryAdapter) Register(entry *domain.SessionRegistryEntry) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO session_registry (session_id, owner_user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET owner_user_id = EXCLUDED.owner_user_id`
	if _, err := tx.Exec(query, entry.SessionID, entry.OwnerUserID, entry.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM session_registry_participants WHERE session_id = $1`, entry.SessionID); err != nil {
		return err
	}
	for _, p := range entry.Participants {
		query := `INSERT INTO session_registry_participants (session_id, participant_user_id) VALUES ($1, $2)`
		if _, err := tx.Exec(query, entry.SessionID, p); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (a *SessionRegistryAdapter) Get(sessionID uuid.UUID) (*domain.SessionRegistryEntry, error) {
	var entry domain.SessionRegistryEntry
	query := `SELECT session_id, owner_user_id, created_at FROM session_registry WHERE session_id = $1`
	if err := a.db.Get(&entry, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var participants []uuid.UUID
	query = `SELECT participant_user_id FROM session_registry_participants WHERE session_id = $1`
	if err := a.db.Select(&participants, query, sessionID); err != nil {
		return nil, err
	}
	entry.Participants = participants
	return &entry, nil
}

func (a *SessionRegistryAdapter) Delete(sessionID uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM session_registry WHERE session_id = $1`, sessionID)
	return err
}

var _ domain.SessionRegistryStore = (*SessionRegistryAdapter)(nil)
