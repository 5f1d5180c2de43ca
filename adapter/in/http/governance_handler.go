package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/pkg/apperr"
	"tminus/pkg/response"
)

// GovernanceHandler exposes time-allocation, commitment and VIP-policy
// bookkeeping over a user's canonical events.
type GovernanceHandler struct {
	graph in.GraphService
}

func NewGovernanceHandler(graph in.GraphService) *GovernanceHandler {
	return &GovernanceHandler{graph: graph}
}

func (h *GovernanceHandler) Register(app fiber.Router) {
	allocations := app.Group("/allocations")
	allocations.Get("/", h.ListAllocations)
	allocations.Put("/", h.UpsertAllocation)
	allocations.Delete("/:id", h.DeleteAllocation)

	commitments := app.Group("/commitments")
	commitments.Get("/", h.ListCommitments)
	commitments.Put("/", h.UpsertCommitment)
	commitments.Delete("/:id", h.DeleteCommitment)
	commitments.Get("/:id/status", h.GetCommitmentStatus)
	commitments.Get("/:id/proof", h.GetCommitmentProof)

	vip := app.Group("/vip-policies")
	vip.Get("/", h.ListVIPPolicies)
	vip.Put("/", h.UpsertVIPPolicy)
	vip.Delete("/:id", h.DeleteVIPPolicy)
}

func (h *GovernanceHandler) ListAllocations(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	allocations, err := h.graph.ListAllocations(c.Context(), userID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"allocations": allocations})
}

func (h *GovernanceHandler) UpsertAllocation(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	var allocation domain.Allocation
	if err := c.BodyParser(&allocation); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.UpsertAllocation(c.Context(), userID, &allocation); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, allocation)
}

func (h *GovernanceHandler) DeleteAllocation(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	if err := h.graph.DeleteAllocation(c.Context(), userID, id); err != nil {
		return HandleServiceError(c, err)
	}
	return response.NoContent(c)
}

func (h *GovernanceHandler) ListCommitments(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	commitments, err := h.graph.ListCommitments(c.Context(), userID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"commitments": commitments})
}

func (h *GovernanceHandler) UpsertCommitment(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	var commitment domain.Commitment
	if err := c.BodyParser(&commitment); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.UpsertCommitment(c.Context(), userID, &commitment); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, commitment)
}

func (h *GovernanceHandler) DeleteCommitment(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	if err := h.graph.DeleteCommitment(c.Context(), userID, id); err != nil {
		return HandleServiceError(c, err)
	}
	return response.NoContent(c)
}

func (h *GovernanceHandler) GetCommitmentStatus(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	now := time.Now().UTC()
	if raw := c.Query("as_of"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			now = t
		}
	}

	status, err := h.graph.GetCommitmentStatus(c.Context(), userID, id, now)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, status)
}

func (h *GovernanceHandler) GetCommitmentProof(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	now := time.Now().UTC()
	if raw := c.Query("as_of"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			now = t
		}
	}

	proof, err := h.graph.GetCommitmentProofData(c.Context(), userID, id, now)
	if err != nil {
		return HandleServiceError(c, err)
	}
	c.Set("Content-Type", "application/octet-stream")
	return c.Send(proof)
}

func (h *GovernanceHandler) ListVIPPolicies(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	policies, err := h.graph.ListVIPPolicies(c.Context(), userID)
	if err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"vip_policies": policies})
}

func (h *GovernanceHandler) UpsertVIPPolicy(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	var policy domain.VIPPolicy
	if err := c.BodyParser(&policy); err != nil {
		return response.FromAppError(c, apperr.BadRequest("invalid request body"))
	}

	if err := h.graph.UpsertVIPPolicy(c.Context(), userID, &policy); err != nil {
		return HandleServiceError(c, err)
	}
	return response.OK(c, policy)
}

func (h *GovernanceHandler) DeleteVIPPolicy(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return response.FromAppError(c, apperr.InvalidInput("id", "must be a uuid"))
	}

	if err := h.graph.DeleteVIPPolicy(c.Context(), userID, id); err != nil {
		return HandleServiceError(c, err)
	}
	return response.NoContent(c)
}
