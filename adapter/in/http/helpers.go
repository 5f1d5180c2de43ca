package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"tminus/pkg/apperr"
	"tminus/pkg/response"
)

var ErrUnauthorized = errors.New("unauthorized")

// GetUserID extracts the authenticated user_id stashed in fiber.Ctx.Locals
// by the JWT auth middleware.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	val := c.Locals("user_id")
	if val == nil {
		return uuid.Nil, ErrUnauthorized
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUnauthorized
	}
	return userID, nil
}

// MustGetUserID extracts user_id or writes a 401 envelope itself.
func MustGetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, err := GetUserID(c)
	if err != nil {
		return uuid.Nil, response.FromAppError(c, apperr.AuthRequired(""))
	}
	return userID, nil
}

// ParamUUID parses a path parameter as a uuid.UUID.
func ParamUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	return uuid.Parse(c.Params(name))
}

// HandleServiceError maps a service-layer error to the response envelope,
// preferring the error's own *apperr.AppError status/code when present.
func HandleServiceError(c *fiber.Ctx, err error) error {
	return response.FromAppError(c, err)
}
