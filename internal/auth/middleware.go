package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"serialspec/internal/engine"
	"serialspec/internal/metadata"
)

// Middleware validates an optional bearer token and stores the resulting
// UserContext under the "user" local. Requests without an Authorization
// header continue anonymously; endpoint permissions decide whether that is
// enough.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return c.Next()
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &metadata.UserContext{
			ID:    claims.Subject,
			Roles: claims.Roles,
		})
		return c.Next()
	}
}
