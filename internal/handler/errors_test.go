package handler

import (
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"

	"meridian/internal/domain"
)

func TestMapErrorToHTTPKnownSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrNotFound, fiber.StatusNotFound},
		{domain.ErrAlreadyExists, fiber.StatusConflict},
		{domain.ErrConflict, fiber.StatusConflict},
		{domain.ErrSequenceAlreadyRecorded, fiber.StatusConflict},
		{domain.ErrStaleSequence, fiber.StatusUnprocessableEntity},
		{domain.ErrInvalidSequence, fiber.StatusUnprocessableEntity},
		{domain.ErrValidation, fiber.StatusBadRequest},
		{domain.ErrUnsupported, fiber.StatusNotImplemented},
		{domain.ErrUnauthorized, fiber.StatusUnauthorized},
		{domain.ErrForbidden, fiber.StatusForbidden},
		{domain.ErrUpstreamFailure, fiber.StatusBadGateway},
		{domain.ErrIOFailure, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("context: %w", tc.err)
		got := mapErrorToHTTP(wrapped)
		fiberErr, ok := got.(*fiber.Error)
		if !ok {
			t.Fatalf("expected a *fiber.Error for %v, got %T", tc.err, got)
		}
		if fiberErr.Code != tc.code {
			t.Fatalf("expected status %d for %v, got %d", tc.code, tc.err, fiberErr.Code)
		}
	}
}

func TestMapErrorToHTTPUnmappedDefaultsToInternalError(t *testing.T) {
	got := mapErrorToHTTP(fmt.Errorf("something unexpected"))
	fiberErr, ok := got.(*fiber.Error)
	if !ok {
		t.Fatalf("expected a *fiber.Error, got %T", got)
	}
	if fiberErr.Code != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for an unmapped error, got %d", fiberErr.Code)
	}
}
