package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/amir-rz/all-commerce/internal/auth"
	"github.com/amir-rz/all-commerce/internal/identity"
)

// Auth resolves the bearer access token to a user on every request,
// independent of HTTP verb. A missing token is distinguished from a token
// that fails verification or no longer maps to a user.
func Auth(tokens *auth.Service, repo identity.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "authentication required")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		userID, err := tokens.ParseAccess(tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid or expired token")
		}

		user, err := repo.FindByID(c.UserContext(), userID)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_verified", user.Verified)
		return c.Next()
	}
}
