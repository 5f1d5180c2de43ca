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

// CalendarHandler exposes the User Graph Coordinator's canonical-event,
// mirror and policy operations.
type CalendarHandler struct {
	graph in.GraphService
}

func NewCalendarHandler(graph in.GraphService) *CalendarHandler {
	return &CalendarHandler{graph: graph}
}

func (h *CalendarHandler) Register(app fiber.Router) {
	cal := app.Group("/events")
	cal.Get("/", h.ListEvents)
	cal.Get("/:id", h.GetEvent)
	cal.Put("/", h.UpsertEvent)
	cal.Delete("/:id", h.DeleteEvent)
	cal.Get("/:id/briefing", h.GetEventBriefing)

	mirrors := app.Group("/mirrors")
	mirrors.Get("/", h.ListMirrors)
	mirrors.Post("/", h.RecordMirror)
	mirrors.Patch("/:id/written", h.MarkMirrorWritten)

	policies := app.Group("/policies")
	policies.Get("/", h.ListPolicies)
	policies.Put("/", h.UpsertPolicy)

	app.Get("/busy", h.BusyIntervals)
}

func (h *CalendarHandler) ListEvents(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	filter := domain.EventFilter{UserID: userID, Limit: 50}
	if startStr := c.Query("start"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.Start = &t
		}
	}
	if endStr := c.Query("end"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.End = &t
		}
	}
	if accID := c.Query("account_id"); accID != "" {
		if id, err := uuid.Parse(accID); err == nil {
			filter.AccountID = &id
		}
	}
	if l := c.QueryInt("limit", 0); l > 0 {
		filter.Limit = l
	}
	filter.Offset = c.QueryInt("offset", 0)

	events, err := h.graph.ListEvents(c.Context(), filter)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"events": events})
}

func (h *CalendarHandler) GetEvent(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	event, err := h.graph.GetEvent(c.Context(), userID, id)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, event)
}

func (h *CalendarHandler) UpsertEvent(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	var event domain.CanonicalEvent
	if err := c.BodyParser(&event); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	source := domain.EventSourceSystem
	if event.Source != "" {
		source = event.Source
	}

	stored, err := h.graph.UpsertCanonical(c.Context(), userID, &event, source)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, stored)
}

func (h *CalendarHandler) DeleteEvent(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	cert, err := h.graph.DeleteCanonical(c.Context(), userID, id)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, cert)
}

func (h *CalendarHandler) GetEventBriefing(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	briefing, err := h.graph.GetEventBriefing(c.Context(), userID, id)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, briefing)
}

func (h *CalendarHandler) ListMirrors(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	canonicalID, err := uuid.Parse(c.Query("canonical_id"))
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("canonical_id", "must be a uuid"))
	}

	mirrors, err := h.graph.ListMirrors(c.Context(), userID, canonicalID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"mirrors": mirrors})
}

func (h *CalendarHandler) RecordMirror(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	var mirror domain.MirrorRecord
	if err := c.BodyParser(&mirror); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.RecordMirror(c.Context(), userID, &mirror); err != nil {
		return HandleServiceError(c, err)
	}
	return response.Created(c, mirror)
}

func (h *CalendarHandler) MarkMirrorWritten(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	var req struct {
		Hash     string `json:"hash"`
		RemoteID string `json:"remote_mirror_event_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.MarkMirrorWritten(c.Context(), userID, id, req.Hash, req.RemoteID); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "written"})
}

func (h *CalendarHandler) ListPolicies(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	policies, err := h.graph.ListPolicies(c.Context(), userID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"policies": policies})
}

func (h *CalendarHandler) UpsertPolicy(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	var edge domain.PolicyEdge
	if err := c.BodyParser(&edge); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	stored, err := h.graph.UpsertPolicyEdge(c.Context(), userID, &edge)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, stored)
}

func (h *CalendarHandler) BusyIntervals(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("start", "must be RFC3339"))
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("end", "must be RFC3339"))
	}

	var requiredAccount *uuid.UUID
	if raw := c.Query("required_account_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			requiredAccount = &id
		}
	}

	intervals, err := h.graph.BusyIntervals(c.Context(), userID, domain.TimeWindow{Start: start, End: end}, requiredAccount)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"busy": intervals})
}
