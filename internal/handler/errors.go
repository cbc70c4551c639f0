package handler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"meridian/internal/domain"
)

// handleError maps domain errors to HTTP responses.
func handleError(c *fiber.Ctx, err error) error {
	return mapErrorToHTTP(err)
}

// mapErrorToHTTP maps domain errors to HTTP status codes.
func mapErrorToHTTP(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrSequenceAlreadyRecorded):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStaleSequence), errors.Is(err, domain.ErrInvalidSequence):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnsupported):
		return fiber.NewError(fiber.StatusNotImplemented, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrUpstreamFailure):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrIOFailure):
		return fiber.NewError(fiber.StatusInternalServerError, "io failure")
	default:
		slog.Error("unmapped error in mapErrorToHTTP",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		return fiber.NewError(fiber.StatusInternalServerError, "internal server error")
	}
}
