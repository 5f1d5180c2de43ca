package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/pkg/apperr"
	"tminus/pkg/response"
)

// SchedulerHandler exposes the Group Scheduler's create/commit/cancel flow,
// plus the per-user session and hold bookkeeping owned by the User Graph
// Coordinator.
type SchedulerHandler struct {
	scheduler in.SchedulerService
	graph     in.GraphService
}

func NewSchedulerHandler(scheduler in.SchedulerService, graph in.GraphService) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler, graph: graph}
}

func (h *SchedulerHandler) Register(app fiber.Router) {
	sessions := app.Group("/sessions")
	sessions.Post("/", h.CreateSession)
	sessions.Get("/", h.ListSessions)
	sessions.Get("/:id", h.GetSession)
	sessions.Post("/:id/commit", h.CommitSession)
	sessions.Post("/:id/cancel", h.CancelSession)
	sessions.Post("/expire-stale", h.ExpireStaleSessions)
	sessions.Get("/:id/holds", h.ListHolds)
	sessions.Post("/:id/holds/commit", h.CommitSessionHolds)
	sessions.Post("/:id/holds/release", h.ReleaseSessionHolds)
	sessions.Get("/:id/holds/expire-check", h.CheckSessionExpiry)

	holds := app.Group("/holds")
	holds.Post("/", h.StoreHolds)
	holds.Patch("/:id/status", h.UpdateHoldStatus)
	holds.Post("/extend", h.ExtendHolds)
	holds.Get("/expired", h.ListExpiredHolds)
}

func (h *SchedulerHandler) CreateSession(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	var body struct {
		Participants  []uuid.UUID               `json:"participants"`
		Objective     domain.SchedulingObjective `json:"objective"`
		MaxCandidates int                        `json:"max_candidates"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	session, err := h.scheduler.CreateSession(c.Context(), in.CreateSessionRequest{
		CreatorUserID: userID,
		Participants:  body.Participants,
		Objective:     body.Objective,
		MaxCandidates: body.MaxCandidates,
	})
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.Created(c, session)
}

func (h *SchedulerHandler) GetSession(c *fiber.Ctx) error {
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}
	session, err := h.scheduler.GetSession(c.Context(), id)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, session)
}

func (h *SchedulerHandler) ListSessions(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	filter := domain.SessionFilter{UserID: userID}
	if raw := c.Query("state"); raw != "" {
		state := domain.SessionState(raw)
		filter.State = &state
	}

	sessions, err := h.graph.ListSessions(c.Context(), filter)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"sessions": sessions})
}

func (h *SchedulerHandler) CommitSession(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	sessionID, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	var body struct {
		CandidateID uuid.UUID `json:"candidate_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	session, err := h.scheduler.CommitSession(c.Context(), userID, sessionID, body.CandidateID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, session)
}

func (h *SchedulerHandler) CancelSession(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	sessionID, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	if err := h.scheduler.CancelSession(c.Context(), userID, sessionID); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "cancelled"})
}

func (h *SchedulerHandler) ExpireStaleSessions(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	var body struct {
		MaxAgeSeconds int `json:"max_age_seconds"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}
	maxAge := time.Duration(body.MaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	count, err := h.graph.ExpireStaleSessions(c.Context(), userID, maxAge)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"expired": count})
}

func (h *SchedulerHandler) ListHolds(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	sessionID, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	holds, err := h.graph.GetHoldsBySession(c.Context(), userID, sessionID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"holds": holds})
}

func (h *SchedulerHandler) CommitSessionHolds(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	sessionID, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	holds, err := h.graph.CommitSessionHolds(c.Context(), userID, sessionID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"holds": holds})
}

func (h *SchedulerHandler) ReleaseSessionHolds(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	sessionID, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	holds, err := h.graph.ReleaseSessionHolds(c.Context(), userID, sessionID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"holds": holds})
}

func (h *SchedulerHandler) CheckSessionExpiry(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	sessionID, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	expired, err := h.graph.ExpireSessionIfAllHoldsTerminal(c.Context(), userID, sessionID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"expired": expired})
}

func (h *SchedulerHandler) StoreHolds(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	var holds []*domain.Hold
	if err := c.BodyParser(&holds); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}
	for _, hold := range holds {
		hold.UserID = userID
	}

	if err := h.graph.StoreHolds(c.Context(), holds); err != nil {
		return HandleServiceError(c, err)
	}
	return response.Created(c, fiber.Map{"holds": holds})
}

func (h *SchedulerHandler) UpdateHoldStatus(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	holdID, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	var body struct {
		Status domain.HoldStatus `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.UpdateHoldStatus(c.Context(), userID, holdID, body.Status); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"status": body.Status})
}

func (h *SchedulerHandler) ExtendHolds(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	var body struct {
		HoldIDs   []uuid.UUID `json:"hold_ids"`
		NewExpiry time.Time   `json:"new_expiry"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.ExtendHolds(c.Context(), userID, body.HoldIDs, body.NewExpiry); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "extended"})
}

func (h *SchedulerHandler) ListExpiredHolds(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	holds, err := h.graph.GetExpiredHolds(c.Context(), userID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"holds": holds})
}
