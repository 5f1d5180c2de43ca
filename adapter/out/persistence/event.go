package persistence

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tminus/core/domain"
)

// EventAdapter implements domain.CanonicalEventStore using PostgreSQL.
// Participant hashes live in a side table (canonical_event_participants)
// since the canonical event row itself never carries the array column —
// keeping the hash set queryable without a GIN index on every row.
type EventAdapter struct {
	db *sqlx.DB
}

func NewEventAdapter(db *sqlx.DB) *EventAdapter {
	return &EventAdapter{db: db}
}

const eventColumns = `id, user_id, origin_account_id, origin_remote_event_id, title, description, location,
	start_time, end_time, all_day, status, visibility, transparency, recurrence_rule,
	source, version, created_at, updated_at, deleted_at`

func (a *EventAdapter) loadParticipants(userID, id uuid.UUID) ([]string, error) {
	var hashes []string
	query := `SELECT participant_hash FROM canonical_event_participants WHERE user_id = $1 AND canonical_id = $2`
	if err := a.db.Select(&hashes, query, userID, id); err != nil {
		return nil, err
	}
	return hashes, nil
}

func (a *EventAdapter) GetByID(userID, id uuid.UUID) (*domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	query := `SELECT ` + eventColumns + ` FROM canonical_events WHERE user_id = $1 AND id = $2`
	if err := a.db.Get(&ev, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	hashes, err := a.loadParticipants(userID, id)
	if err != nil {
		return nil, err
	}
	ev.ParticipantHashes = hashes
	return &ev, nil
}

func (a *EventAdapter) GetByOrigin(userID, originAccountID uuid.UUID, originRemoteID string) (*domain.CanonicalEvent, error) {
	var ev domain.CanonicalEvent
	query := `SELECT ` + eventColumns + ` FROM canonical_events
		WHERE user_id = $1 AND origin_account_id = $2 AND origin_remote_event_id = $3`
	if err := a.db.Get(&ev, query, userID, originAccountID, originRemoteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	hashes, err := a.loadParticipants(userID, ev.ID)
	if err != nil {
		return nil, err
	}
	ev.ParticipantHashes = hashes
	return &ev, nil
}

func (a *EventAdapter) List(filter domain.EventFilter) ([]*domain.CanonicalEvent, error) {
	var clauses []string
	args := []any{filter.UserID}
	clauses = append(clauses, "user_id = $1")

	if filter.Start != nil {
		args = append(args, *filter.Start)
		clauses = append(clauses, "end_time >= $"+strconv.Itoa(len(args)))
	}
	if filter.End != nil {
		args = append(args, *filter.End)
		clauses = append(clauses, "start_time < $"+strconv.Itoa(len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		clauses = append(clauses, "origin_account_id = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM canonical_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY start_time`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	var events []*domain.CanonicalEvent
	if err := a.db.Select(&events, query, args...); err != nil {
		return nil, err
	}
	return events, nil
}

func (a *EventAdapter) Upsert(event *domain.CanonicalEvent) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO canonical_events (id, user_id, origin_account_id, origin_remote_event_id, title, description,
			location, start_time, end_time, all_day, status, visibility, transparency, recurrence_rule,
			source, version, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description, location = EXCLUDED.location,
			start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, all_day = EXCLUDED.all_day,
			status = EXCLUDED.status, visibility = EXCLUDED.visibility, transparency = EXCLUDED.transparency,
			recurrence_rule = EXCLUDED.recurrence_rule, version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at`
	_, err = tx.Exec(query,
		event.ID, event.UserID, event.OriginAccountID, event.OriginRemoteID, event.Title, event.Description,
		event.Location, event.Start, event.End, event.AllDay, event.Status, event.Visibility, event.Transparency,
		event.RecurrenceRule, event.Source, event.Version, event.CreatedAt, event.UpdatedAt, event.DeletedAt,
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM canonical_event_participants WHERE user_id = $1 AND canonical_id = $2`, event.UserID, event.ID); err != nil {
		return err
	}
	if len(event.ParticipantHashes) > 0 {
		query := `INSERT INTO canonical_event_participants (user_id, canonical_id, participant_hash) VALUES ($1, $2, $3)`
		for _, hash := range event.ParticipantHashes {
			if _, err := tx.Exec(query, event.UserID, event.ID, hash); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (a *EventAdapter) Delete(userID, id uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM canonical_events WHERE user_id = $1 AND id = $2`, userID, id)
	return err
}

var _ domain.CanonicalEventStore = (*EventAdapter)(nil)
