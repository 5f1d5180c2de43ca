package http

import (
	"github.com/gofiber/fiber/v2"

	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/pkg/apperr"
	"tminus/pkg/response"
)

// RelationshipHandler exposes the graph-store-backed relationship ledger.
type RelationshipHandler struct {
	graph in.GraphService
}

func NewRelationshipHandler(graph in.GraphService) *RelationshipHandler {
	return &RelationshipHandler{graph: graph}
}

func (h *RelationshipHandler) Register(app fiber.Router) {
	rel := app.Group("/relationships")
	rel.Get("/", h.List)
	rel.Get("/:hash", h.Get)
	rel.Put("/", h.Upsert)
	rel.Post("/:hash/interactions", h.RecordInteraction)
}

func (h *RelationshipHandler) List(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	relationships, err := h.graph.ListRelationships(c.Context(), userID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"relationships": relationships})
}

func (h *RelationshipHandler) Get(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	hash := c.Params("hash")
	if hash == "" {
		return response.FromAppError(c, apperr.MissingField("hash"))
	}

	rel, err := h.graph.GetRelationship(c.Context(), userID, hash)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, rel)
}

func (h *RelationshipHandler) Upsert(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	var rel domain.Relationship
	if err := c.BodyParser(&rel); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.UpsertRelationship(c.Context(), userID, &rel); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, rel)
}

func (h *RelationshipHandler) RecordInteraction(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	hash := c.Params("hash")
	if hash == "" {
		return response.FromAppError(c, apperr.MissingField("hash"))
	}

	var entry domain.InteractionEntry
	if err := c.BodyParser(&entry); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.RecordInteraction(c.Context(), userID, hash, entry); err != nil {
		return HandleServiceError(c, err)
	}
	return response.Created(c, entry)
}
