package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminAuth gates a route group behind a static bearer token. An empty
// token disables the check.
func AdminAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != token {
			return fiber.NewError(fiber.StatusUnauthorized, "admin token required")
		}
		return c.Next()
	}
}
