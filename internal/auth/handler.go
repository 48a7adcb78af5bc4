package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes refresh and logout endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs the auth HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new token pair.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.RefreshToken == "" {
		return fiber.NewError(http.StatusBadRequest, "refresh_token is required")
	}
	pair, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			return fiber.NewError(http.StatusUnauthorized, ErrInvalidRefreshToken.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "could not refresh token")
	}
	return c.Status(http.StatusOK).JSON(pair)
}

// Logout revokes a refresh token.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.RefreshToken == "" {
		return fiber.NewError(http.StatusBadRequest, "refresh_token is required")
	}
	if err := h.svc.Revoke(c.UserContext(), req.RefreshToken); err != nil {
		return fiber.NewError(http.StatusInternalServerError, "could not revoke token")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}
