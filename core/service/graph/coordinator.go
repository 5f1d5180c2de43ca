package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"tminus/core/domain"
	"tminus/core/interval"
	"tminus/pkg/apperr"
	"tminus/pkg/idgen"
	"tminus/pkg/logger"
	"tminus/pkg/snowflake"
)

// sessionLazyExpiryMaxAge is the age at which GetSession treats a
// non-terminal scheduling session as expired on read, matching the
// periodic maintainer's own stale-session sweep interval so a session
// never appears live to one path and expired to the other.
const sessionLazyExpiryMaxAge = 24 * time.Hour

// Stores bundles the per-user persistence ports the Coordinator composes.
// One Stores value is shared across every user; per-user isolation comes
// from the mailbox, not from separate store instances.
type Stores struct {
	Events        domain.CanonicalEventStore
	Mirrors       domain.MirrorStore
	Policies      domain.PolicyStore
	Journal       domain.JournalStore
	Sessions      domain.SessionStore
	Holds         domain.HoldStore
	Governance    domain.GovernanceStore
	Relationships domain.RelationshipStore
	Accounts      domain.AccountRepository
}

// Coordinator implements in.GraphService: the User Graph Coordinator.
type Coordinator struct {
	stores Stores
	seq    *snowflake.Generator
	mail   *mailboxRegistry
	log    *logger.Logger
}

// New builds a Coordinator. workerID identifies this process instance to
// the journal's snowflake sequence generator (must be unique per running
// coordinator instance when more than one is deployed).
func New(stores Stores, workerID int64) (*Coordinator, error) {
	seq, err := snowflake.NewGenerator(workerID)
	if err != nil {
		return nil, fmt.Errorf("graph: init sequence generator: %w", err)
	}
	return &Coordinator{
		stores: stores,
		seq:    seq,
		mail:   newMailboxRegistry(),
		log:    logger.WithField("component", "graph_coordinator"),
	}, nil
}

func (c *Coordinator) appendJournal(userID, canonicalID uuid.UUID, actor string, kind domain.ChangeKind, patch interface{}, reason string) {
	seq, err := c.seq.Generate()
	if err != nil {
		c.log.WithError(err).Error("journal sequence generation failed")
		return
	}
	var raw json.RawMessage
	if patch != nil {
		if b, err := json.Marshal(patch); err == nil {
			raw = b
		}
	}
	entry := &domain.JournalEntry{
		Seq:         seq,
		UserID:      userID,
		CanonicalID: canonicalID,
		Actor:       actor,
		ChangeKind:  kind,
		Patch:       raw,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.stores.Journal.Append(entry); err != nil {
		c.log.WithError(err).Error("journal append failed")
	}
}

// ---------------------------------------------------------------- Canonical

func (c *Coordinator) UpsertCanonical(ctx context.Context, userID uuid.UUID, event *domain.CanonicalEvent, source domain.EventSource) (*domain.CanonicalEvent, error) {
	return submit(ctx, c.mail.get(userID), func() (*domain.CanonicalEvent, error) {
		now := time.Now().UTC()
		kind := domain.ChangeUpdate
		if event.ID == uuid.Nil {
			event.ID = idgen.NewCanonicalEventID()
			event.CreatedAt = now
			event.Version = 1
			kind = domain.ChangeCreate
		} else {
			existing, err := c.stores.Events.GetByID(userID, event.ID)
			if err != nil {
				return nil, apperr.NotFound("canonical event")
			}
			event.CreatedAt = existing.CreatedAt
			event.Version = existing.Version + 1
		}
		event.UserID = userID
		event.Source = source
		event.UpdatedAt = now

		if err := c.stores.Events.Upsert(event); err != nil {
			return nil, apperr.DatabaseError("upsert canonical event", err)
		}
		c.appendJournal(userID, event.ID, "graph_coordinator", kind, event, "")
		return event, nil
	})
}

func (c *Coordinator) DeleteCanonical(ctx context.Context, userID, id uuid.UUID) (*domain.DeletionCertificate, error) {
	return submit(ctx, c.mail.get(userID), func() (*domain.DeletionCertificate, error) {
		event, err := c.stores.Events.GetByID(userID, id)
		if err != nil {
			return nil, apperr.NotFound("canonical event")
		}
		now := time.Now().UTC()
		event.DeletedAt = &now
		event.Status = domain.EventStatusCancelled
		event.Version++
		event.UpdatedAt = now
		if err := c.stores.Events.Upsert(event); err != nil {
			return nil, apperr.DatabaseError("delete canonical event", err)
		}

		seq, err := c.seq.Generate()
		if err != nil {
			return nil, apperr.Internal("sequence generation failed")
		}
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userID, id, seq)))
		cert := &domain.DeletionCertificate{
			CanonicalID: id,
			Hash:        hex.EncodeToString(sum[:]),
			IssuedAt:    now,
		}
		c.appendJournal(userID, id, "graph_coordinator", domain.ChangeDelete, cert, "")
		return cert, nil
	})
}

func (c *Coordinator) ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.CanonicalEvent, error) {
	events, err := c.stores.Events.List(filter)
	if err != nil {
		return nil, apperr.DatabaseError("list canonical events", err)
	}
	return events, nil
}

func (c *Coordinator) GetEvent(ctx context.Context, userID, id uuid.UUID) (*domain.CanonicalEvent, error) {
	event, err := c.stores.Events.GetByID(userID, id)
	if err != nil {
		return nil, apperr.NotFound("canonical event")
	}
	return event, nil
}

// ------------------------------------------------------------------ Mirrors

func (c *Coordinator) RecordMirror(ctx context.Context, userID uuid.UUID, mirror *domain.MirrorRecord) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		now := time.Now().UTC()
		if mirror.ID == uuid.Nil {
			mirror.ID = uuid.New()
			mirror.CreatedAt = now
		}
		mirror.UserID = userID
		mirror.UpdatedAt = now
		if err := c.stores.Mirrors.Upsert(mirror); err != nil {
			return struct{}{}, apperr.DatabaseError("upsert mirror", err)
		}
		c.appendJournal(userID, mirror.CanonicalID, "graph_coordinator", domain.ChangeMirrorWrite, mirror, "")
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) ListMirrors(ctx context.Context, userID, canonicalID uuid.UUID) ([]*domain.MirrorRecord, error) {
	mirrors, err := c.stores.Mirrors.ListByCanonical(userID, canonicalID)
	if err != nil {
		return nil, apperr.DatabaseError("list mirrors", err)
	}
	return mirrors, nil
}

func (c *Coordinator) MarkMirrorWritten(ctx context.Context, userID, mirrorID uuid.UUID, hash, remoteID string) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		if err := c.stores.Mirrors.MarkWritten(userID, mirrorID, hash, remoteID); err != nil {
			return struct{}{}, apperr.DatabaseError("mark mirror written", err)
		}
		return struct{}{}, nil
	})
	return err
}

// --------------------------------------------------------------------- Sync

func (c *Coordinator) GetSyncHealth(ctx context.Context, userID uuid.UUID) ([]*domain.HealthSnapshot, error) {
	accounts, err := c.stores.Accounts.ListByUser(userID)
	if err != nil {
		return nil, apperr.DatabaseError("list accounts for health", err)
	}
	snapshots := make([]*domain.HealthSnapshot, 0, len(accounts))
	for _, a := range accounts {
		snapshots = append(snapshots, &domain.HealthSnapshot{
			AccountID:          a.ID,
			Provider:           a.Provider,
			LastSuccessAt:      a.LastSuccessAt,
			LastAttemptAt:      a.LastAttemptAt,
			ConsecutiveFailure: a.ConsecutiveFailure,
			LastFailureReason:  a.LastFailureReason,
		})
	}
	return snapshots, nil
}

// ----------------------------------------------------------------- Policies

func (c *Coordinator) UpsertPolicyEdge(ctx context.Context, userID uuid.UUID, edge *domain.PolicyEdge) (*domain.PolicyEdge, error) {
	if edge.FromAccount == edge.ToAccount {
		return nil, apperr.InvalidInput("to_account", "policy edge cannot mirror an account onto itself")
	}
	return submit(ctx, c.mail.get(userID), func() (*domain.PolicyEdge, error) {
		now := time.Now().UTC()
		if edge.ID == uuid.Nil {
			edge.ID = uuid.New()
			edge.CreatedAt = now
		}
		edge.UserID = userID
		edge.UpdatedAt = now
		if err := c.stores.Policies.Upsert(edge); err != nil {
			return nil, apperr.DatabaseError("upsert policy edge", err)
		}
		return edge, nil
	})
}

func (c *Coordinator) ListPolicies(ctx context.Context, userID uuid.UUID) ([]*domain.PolicyEdge, error) {
	edges, err := c.stores.Policies.ListAll(userID)
	if err != nil {
		return nil, apperr.DatabaseError("list policy edges", err)
	}
	return edges, nil
}

// --------------------------------------------------------------- Scheduling

func (c *Coordinator) StoreSession(ctx context.Context, session *domain.SchedulingSession, candidates []domain.Candidate) error {
	_, err := submit(ctx, c.mail.get(session.OwnerUserID), func() (struct{}, error) {
		now := time.Now().UTC()
		if session.ID == uuid.Nil {
			session.ID = uuid.New()
		}
		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
		if session.State == "" {
			session.State = domain.SessionOpen
		}
		session.UpdatedAt = now
		if err := c.stores.Sessions.Store(session, candidates); err != nil {
			return struct{}{}, apperr.DatabaseError("store session", err)
		}
		return struct{}{}, nil
	})
	return err
}

// GetSession fetches a session and lazily expires it first if it has sat
// non-terminal past sessionLazyExpiryMaxAge: a caller must never observe a
// session as still open/candidates_ready once it is older than the
// maintainer's own stale-session cutoff, regardless of whether the
// periodic sweep has reached it yet. The check and the expire-and-release
// run inside the same mailbox turn as the read so a concurrent commit
// can't race the expiry.
func (c *Coordinator) GetSession(ctx context.Context, userID, id uuid.UUID) (*domain.SchedulingSession, error) {
	return submit(ctx, c.mail.get(userID), func() (*domain.SchedulingSession, error) {
		session, err := c.stores.Sessions.Get(userID, id)
		if err != nil {
			return nil, apperr.NotFound("scheduling session")
		}
		if !session.IsExpiredAt(time.Now().UTC(), sessionLazyExpiryMaxAge) {
			return session, nil
		}
		if err := c.stores.Sessions.TransitionState(userID, id, domain.SessionExpired); err != nil {
			return nil, apperr.DatabaseError("expire session", err)
		}
		if _, err := c.stores.Holds.ReleaseAllForSession(userID, id); err != nil {
			return nil, apperr.DatabaseError("release holds for expired session", err)
		}
		session.State = domain.SessionExpired
		return session, nil
	})
}

func (c *Coordinator) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.SchedulingSession, error) {
	sessions, err := c.stores.Sessions.List(filter)
	if err != nil {
		return nil, apperr.DatabaseError("list sessions", err)
	}
	return sessions, nil
}

func (c *Coordinator) CommitSession(ctx context.Context, userID, id, candidateID uuid.UUID) (*domain.CanonicalEvent, error) {
	return submit(ctx, c.mail.get(userID), func() (*domain.CanonicalEvent, error) {
		session, err := c.stores.Sessions.Get(userID, id)
		if err != nil {
			return nil, apperr.NotFound("scheduling session")
		}
		if !session.State.CanTransition(domain.SessionCommitted) {
			return nil, apperr.InvalidTransition(string(session.State), string(domain.SessionCommitted))
		}
		var chosen *domain.Candidate
		for i := range session.Candidates {
			if session.Candidates[i].ID == candidateID {
				chosen = &session.Candidates[i]
				break
			}
		}
		if chosen == nil {
			return nil, apperr.NotFound("candidate")
		}

		event := &domain.CanonicalEvent{
			ID:           idgen.NewCanonicalEventID(),
			UserID:       userID,
			Title:        session.Objective.Title,
			Start:        chosen.Start,
			End:          chosen.End,
			Status:       domain.EventStatusConfirmed,
			Transparency: domain.TransparencyOpaque,
			Source:       domain.EventSourceSystem,
			Version:      1,
			CreatedAt:    time.Now().UTC(),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := c.stores.Events.Upsert(event); err != nil {
			return nil, apperr.DatabaseError("create committed event", err)
		}
		if err := c.stores.Sessions.Commit(userID, id, candidateID, event.ID); err != nil {
			return nil, apperr.DatabaseError("commit session", err)
		}
		c.appendJournal(userID, event.ID, "graph_coordinator", domain.ChangeSessionEvent, session, "session_committed")
		return event, nil
	})
}

func (c *Coordinator) CancelSession(ctx context.Context, userID, id uuid.UUID) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		session, err := c.stores.Sessions.Get(userID, id)
		if err != nil {
			return struct{}{}, apperr.NotFound("scheduling session")
		}
		if !session.State.CanTransition(domain.SessionCancelled) {
			return struct{}{}, apperr.InvalidTransition(string(session.State), string(domain.SessionCancelled))
		}
		if err := c.stores.Sessions.Cancel(userID, id); err != nil {
			return struct{}{}, apperr.DatabaseError("cancel session", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) ExpireStaleSessions(ctx context.Context, userID uuid.UUID, maxAge time.Duration) (int, error) {
	return submit(ctx, c.mail.get(userID), func() (int, error) {
		expired, err := c.stores.Sessions.ExpireStale(userID, maxAge)
		if err != nil {
			return 0, apperr.DatabaseError("expire stale sessions", err)
		}
		return len(expired), nil
	})
}

// -------------------------------------------------------------------- Holds

func (c *Coordinator) StoreHolds(ctx context.Context, holds []*domain.Hold) error {
	if len(holds) == 0 {
		return nil
	}
	_, err := submit(ctx, c.mail.get(holds[0].UserID), func() (struct{}, error) {
		now := time.Now().UTC()
		for _, h := range holds {
			if h.ID == uuid.Nil {
				h.ID = uuid.New()
				h.CreatedAt = now
			}
			h.UpdatedAt = now
			if h.Status == "" {
				h.Status = domain.HoldHeld
			}
		}
		if err := c.stores.Holds.Store(holds); err != nil {
			return struct{}{}, apperr.DatabaseError("store holds", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) GetHoldsBySession(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	holds, err := c.stores.Holds.ListBySession(userID, sessionID)
	if err != nil {
		return nil, apperr.DatabaseError("list holds", err)
	}
	return holds, nil
}

func (c *Coordinator) UpdateHoldStatus(ctx context.Context, userID, holdID uuid.UUID, status domain.HoldStatus) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		if err := c.stores.Holds.UpdateStatus(userID, holdID, status); err != nil {
			return struct{}{}, apperr.DatabaseError("update hold status", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) ExtendHolds(ctx context.Context, userID uuid.UUID, holdIDs []uuid.UUID, newExpiry time.Time) error {
	_, err := submit(ctx, c.mail.get(userID), func() (struct{}, error) {
		for _, id := range holdIDs {
			if err := c.stores.Holds.Extend(userID, id, newExpiry); err != nil {
				return struct{}{}, apperr.DatabaseError("extend hold", err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) CommitSessionHolds(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	return submit(ctx, c.mail.get(userID), func() ([]*domain.Hold, error) {
		holds, err := c.stores.Holds.ListBySession(userID, sessionID)
		if err != nil {
			return nil, apperr.DatabaseError("list holds for commit", err)
		}
		for _, h := range holds {
			if h.Status.IsTerminal() {
				continue
			}
			if err := c.stores.Holds.UpdateStatus(userID, h.ID, domain.HoldCommitted); err != nil {
				return nil, apperr.DatabaseError("commit hold", err)
			}
			h.Status = domain.HoldCommitted
		}
		return holds, nil
	})
}

func (c *Coordinator) ReleaseSessionHolds(ctx context.Context, userID, sessionID uuid.UUID) ([]*domain.Hold, error) {
	return submit(ctx, c.mail.get(userID), func() ([]*domain.Hold, error) {
		holds, err := c.stores.Holds.ReleaseAllForSession(userID, sessionID)
		if err != nil {
			return nil, apperr.DatabaseError("release session holds", err)
		}
		return holds, nil
	})
}

func (c *Coordinator) ExpireSessionIfAllHoldsTerminal(ctx context.Context, userID, sessionID uuid.UUID) (bool, error) {
	return submit(ctx, c.mail.get(userID), func() (bool, error) {
		allTerminal, err := c.stores.Holds.AllTerminalForSession(userID, sessionID)
		if err != nil {
			return false, apperr.DatabaseError("check session hold terminality", err)
		}
		if !allTerminal {
			return false, nil
		}
		session, err := c.stores.Sessions.Get(userID, sessionID)
		if err != nil {
			return false, apperr.NotFound("scheduling session")
		}
		if session.State.IsTerminal() {
			return true, nil
		}
		if err := c.stores.Sessions.TransitionState(userID, sessionID, domain.SessionExpired); err != nil {
			return false, apperr.DatabaseError("expire session", err)
		}
		return true, nil
	})
}

func (c *Coordinator) GetExpiredHolds(ctx context.Context, userID uuid.UUID) ([]*domain.Hold, error) {
	holds, err := c.stores.Holds.ListExpired(userID, time.Now().UTC())
	if err != nil {
		return nil, apperr.DatabaseError("list expired holds", err)
	}
	return holds, nil
}

// ------------------------------------------------------------------ Busy intervals

func (c *Coordinator) BusyIntervals(ctx context.Context, userID uuid.UUID, window domain.TimeWindow, requiredAccountID *uuid.UUID) ([]domain.BusyInterval, error) {
	filter := domain.EventFilter{UserID: userID, Start: &window.Start, End: &window.End}
	if requiredAccountID != nil {
		filter.AccountID = requiredAccountID
	}
	events, err := c.stores.Events.List(filter)
	if err != nil {
		return nil, apperr.DatabaseError("list events for busy intervals", err)
	}

	raw := make([]interval.Interval, 0, len(events))
	for _, e := range events {
		if !e.ContributesToBusy() {
			continue
		}
		raw = append(raw, interval.Interval{
			Start:    e.Start,
			End:      e.End,
			Accounts: map[string]bool{interval.BuildGroupAccountID(userID.String()): true},
		})
	}

	merged := interval.MergeOverlapping(raw)
	result := make([]domain.BusyInterval, 0, len(merged))
	for _, m := range merged {
		result = append(result, domain.BusyInterval{
			Start:          m.Start,
			End:            m.End,
			SyntheticGroup: interval.BuildGroupAccountID(userID.String()),
		})
	}
	return result, nil
}

// ReapIdleMailboxes closes and discards per-user mailboxes that have queued
// no work for at least maxIdle, freeing the goroutine backing each one.
// Called by the Periodic Maintainer; safe to call concurrently with normal
// traffic since a mailbox with anything still queued is never reaped.
func (c *Coordinator) ReapIdleMailboxes(maxIdle time.Duration) int {
	return c.mail.reapIdle(maxIdle)
}
