package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tminus/core/domain"
	"tminus/core/interval"
	"tminus/core/port/in"
	"tminus/pkg/apperr"
	"tminus/pkg/logger"
)

const defaultHoldTTL = 15 * time.Minute

// Coordinator implements in.SchedulerService: the Group Scheduler.
type Coordinator struct {
	graph    in.GraphService
	registry domain.SessionRegistryStore
	mail     *mailboxRegistry
	log      *logger.Logger
}

func New(graph in.GraphService, registry domain.SessionRegistryStore) *Coordinator {
	return &Coordinator{
		graph:    graph,
		registry: registry,
		mail:     newMailboxRegistry(),
		log:      logger.WithField("component", "group_scheduler"),
	}
}

// requiredParticipantSet treats every invited participant as a hard
// block: a group meeting candidate is only valid if nobody invited is
// double-booked, unlike the single-user search where non-required
// accounts merely lower a slot's score. Per-account filtering within one
// participant's own calendars (Objective.RequiredAccountID) is handled
// upstream by that participant's own BusyIntervals call.
func requiredParticipantSet(participants []uuid.UUID) map[string]bool {
	set := make(map[string]bool, len(participants))
	for _, p := range participants {
		set[interval.BuildGroupAccountID(p.String())] = true
	}
	return set
}

// CreateSession gathers every participant's busy intervals, solves for
// candidate slots against the merged calendar, and stores one session row
// (with the same id and candidate set) in each participant's own User
// Graph Coordinator.
func (c *Coordinator) CreateSession(ctx context.Context, req in.CreateSessionRequest) (*domain.SchedulingSession, error) {
	sessionID := uuid.New()
	participants := req.Participants
	if !containsUser(participants, req.CreatorUserID) {
		participants = append(participants, req.CreatorUserID)
	}

	return submit(ctx, c.mail.get(sessionID), func() (*domain.SchedulingSession, error) {
		window := domain.TimeWindow{Start: req.Objective.WindowStart, End: req.Objective.WindowEnd}

		perUser := make(map[string][]interval.Interval, len(participants))
		for _, userID := range participants {
			busy, err := c.graph.BusyIntervals(ctx, userID, window, req.Objective.RequiredAccountID)
			if err != nil {
				return nil, apperr.ExternalError("gather busy intervals", err)
			}
			converted := make([]interval.Interval, len(busy))
			for i, b := range busy {
				converted[i] = interval.Interval{Start: b.Start, End: b.End}
			}
			perUser[userID.String()] = converted
		}

		merged := interval.MultiUserMerge(perUser)
		maxCandidates := req.MaxCandidates
		if maxCandidates <= 0 {
			maxCandidates = 5
		}
		rawCandidates := interval.Solve(
			interval.Interval{Start: window.Start, End: window.End},
			req.Objective.Duration,
			merged,
			requiredParticipantSet(participants),
			nil,
			interval.DefaultWeights,
			maxCandidates,
		)
		if len(rawCandidates) == 0 {
			return nil, apperr.Conflict("no candidate slot satisfies every participant's availability")
		}

		candidates := make([]domain.Candidate, len(rawCandidates))
		for i, rc := range rawCandidates {
			candidates[i] = domain.Candidate{
				ID:          uuid.New(),
				SessionID:   sessionID,
				Start:       rc.Start,
				End:         rc.End,
				Score:       rc.Score,
				Explanation: rc.Explanation,
			}
		}

		if err := c.registry.Register(&domain.SessionRegistryEntry{
			SessionID:    sessionID,
			OwnerUserID:  req.CreatorUserID,
			Participants: participants,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			return nil, apperr.DatabaseError("register session", err)
		}

		for _, userID := range participants {
			session := &domain.SchedulingSession{
				ID:                 sessionID,
				OwnerUserID:        userID,
				ParticipantUserIDs: participants,
				Objective:          req.Objective,
				State:              domain.SessionCandidatesReady,
			}
			if err := c.graph.StoreSession(ctx, session, candidates); err != nil {
				return nil, apperr.DatabaseError("store participant session", err)
			}
		}

		return c.graph.GetSession(ctx, req.CreatorUserID, sessionID)
	})
}

// CommitSession places a hold then commits a canonical event in every
// participant's calendar for the chosen candidate. If any participant
// fails, the rollback releases every participant's holds and cancels every
// participant's session; a participant whose session already reached
// committed keeps that state, since committed is terminal.
func (c *Coordinator) CommitSession(ctx context.Context, requesterID, sessionID, candidateID uuid.UUID) (*domain.SchedulingSession, error) {
	entry, err := c.registry.Get(sessionID)
	if err != nil {
		return nil, apperr.NotFound("scheduling session")
	}
	if !containsUser(entry.Participants, requesterID) && entry.OwnerUserID != requesterID {
		return nil, apperr.Forbidden("not a participant of this session")
	}

	return submit(ctx, c.mail.get(sessionID), func() (*domain.SchedulingSession, error) {
		owner, err := c.graph.GetSession(ctx, entry.OwnerUserID, sessionID)
		if err != nil {
			return nil, apperr.NotFound("scheduling session")
		}
		var chosen *domain.Candidate
		for i := range owner.Candidates {
			if owner.Candidates[i].ID == candidateID {
				chosen = &owner.Candidates[i]
				break
			}
		}
		if chosen == nil {
			return nil, apperr.NotFound("candidate")
		}

		rollback := func() {
			for _, userID := range entry.Participants {
				_, _ = c.graph.ReleaseSessionHolds(contextOrBackground(ctx), userID, sessionID)
				_ = c.graph.CancelSession(contextOrBackground(ctx), userID, sessionID)
			}
		}

		for _, userID := range entry.Participants {
			hold := &domain.Hold{
				UserID:      userID,
				SessionID:   sessionID,
				CandidateID: candidateID,
				Start:       chosen.Start,
				End:         chosen.End,
				Status:      domain.HoldHeld,
				ExpiresAt:   time.Now().UTC().Add(defaultHoldTTL),
			}
			if req := owner.Objective.RequiredAccountID; req != nil {
				hold.AccountID = *req
			}
			if err := c.graph.StoreHolds(ctx, []*domain.Hold{hold}); err != nil {
				rollback()
				return nil, apperr.DatabaseError("place hold", err)
			}
			if _, err := c.graph.CommitSessionHolds(ctx, userID, sessionID); err != nil {
				rollback()
				return nil, apperr.DatabaseError("commit hold", err)
			}
			if _, err := c.graph.CommitSession(ctx, userID, sessionID, candidateID); err != nil {
				rollback()
				return nil, apperr.Conflict("commit failed for participant, session rolled back").WithError(err)
			}
		}

		return c.graph.GetSession(ctx, entry.OwnerUserID, sessionID)
	})
}

func (c *Coordinator) CancelSession(ctx context.Context, requesterID, sessionID uuid.UUID) error {
	entry, err := c.registry.Get(sessionID)
	if err != nil {
		return apperr.NotFound("scheduling session")
	}
	if !containsUser(entry.Participants, requesterID) && entry.OwnerUserID != requesterID {
		return apperr.Forbidden("not a participant of this session")
	}

	_, err = submit(ctx, c.mail.get(sessionID), func() (struct{}, error) {
		for _, userID := range entry.Participants {
			if _, err := c.graph.ReleaseSessionHolds(ctx, userID, sessionID); err != nil {
				c.log.WithError(err).WithField("user_id", userID).Warn("release holds failed during cancel")
			}
			if err := c.graph.CancelSession(ctx, userID, sessionID); err != nil {
				c.log.WithError(err).WithField("user_id", userID).Warn("cancel session failed")
			}
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Coordinator) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.SchedulingSession, error) {
	entry, err := c.registry.Get(sessionID)
	if err != nil {
		return nil, apperr.NotFound("scheduling session")
	}
	session, err := c.graph.GetSession(ctx, entry.OwnerUserID, sessionID)
	if err != nil {
		return nil, apperr.NotFound("scheduling session")
	}
	return session, nil
}

func containsUser(users []uuid.UUID, target uuid.UUID) bool {
	for _, u := range users {
		if u == target {
			return true
		}
	}
	return false
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.Background()
	}
	return ctx
}

// ReapIdleMailboxes closes and discards per-session mailboxes that have
// queued no work for at least maxIdle. Called by the Periodic Maintainer.
func (c *Coordinator) ReapIdleMailboxes(maxIdle time.Duration) int {
	return c.mail.reapIdle(maxIdle)
}
