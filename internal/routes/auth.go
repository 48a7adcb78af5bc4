package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/amir-rz/all-commerce/internal/auth"
)

// RegisterAuthRoutes wires token maintenance endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler) {
	group := r.Group("/auth")
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", h.Logout)
}
