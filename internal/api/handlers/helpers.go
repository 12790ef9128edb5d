package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/rs/zerolog"
)

// GetUserID returns the authenticated user set by the auth middleware, or 0.
func GetUserID(c *fiber.Ctx) int64 {
	raw, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(raw, 10, 64)
	return userID
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{"code": code, "message": message},
	})
}

// respondError maps the service error taxonomy onto HTTP statuses.
func respondError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	var (
		validation *service.ValidationError
		conflict   *service.StateConflictError
		fe         *fiber.Error
	)
	switch {
	case errors.As(err, &fe):
		return errorJSON(c, fe.Code, "INVALID_REQUEST", fe.Message)
	case errors.Is(err, service.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, string(service.CodeNotFound), err.Error())
	case errors.As(err, &validation):
		return errorJSON(c, fiber.StatusBadRequest, string(validation.Code), validation.Message)
	case errors.As(err, &conflict):
		return errorJSON(c, fiber.StatusConflict, "INVALID_STATE", conflict.Error())
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL", "internal error")
}
