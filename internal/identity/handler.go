package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/amir-rz/all-commerce/internal/phone"
)

// Handler exposes signup and profile endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type signupRequest struct {
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
	Password string `json:"password,omitempty"`
}

type userResponse struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
	Verified bool   `json:"phone_is_verified"`
}

func toResponse(user User) userResponse {
	return userResponse{ID: user.ID, Phone: user.Phone, FullName: user.FullName, Verified: user.Verified}
}

// Signup handles account creation.
func (h *Handler) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Signup(c.UserContext(), SignupInput{Phone: req.Phone, FullName: req.FullName, Password: req.Password})
	if err != nil {
		switch {
		case errors.Is(err, phone.ErrInvalid), errors.Is(err, ErrFullNameRequired):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrPhoneTaken):
			return fiber.NewError(http.StatusBadRequest, "phone number already registered")
		}
		return fiber.NewError(http.StatusInternalServerError, "could not create user")
	}
	return c.Status(http.StatusCreated).JSON(toResponse(user))
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "user not found")
	}
	return c.JSON(toResponse(user))
}
