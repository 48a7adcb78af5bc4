package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/amir-rz/all-commerce/internal/identity"
	"github.com/amir-rz/all-commerce/internal/phone"
	"github.com/amir-rz/all-commerce/internal/verification"
)

// RegisterUserRoutes wires signup, OTP and profile endpoints.
func RegisterUserRoutes(r fiber.Router, users *identity.Handler, codes *verification.Handler,
	identitySvc *identity.Service, verificationSvc *verification.Service,
	sessionAuth, rateLimiter fiber.Handler, logger *slog.Logger) {

	group := r.Group("/users")

	// Public
	group.Post("/", users.Signup)
	group.Post("/request-code", rateLimiter, codes.RequestCode)
	group.Post("/signin", rateLimiter, codes.Signin)

	// Protected
	me := group.Group("/me", sessionAuth)
	me.Get("/", users.Me)
	me.Post("/verify", codes.VerifyPhone)

	// Profile update; changing the phone number demotes verification and
	// kicks off a new code for the new number.
	me.Patch("/", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return fiber.NewError(http.StatusUnauthorized, "authentication required")
		}

		var req struct {
			FullName *string `json:"full_name"`
			Phone    *string `json:"phone"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		user, phoneChanged, err := identitySvc.UpdateProfile(c.UserContext(), uid, identity.ProfileUpdate{
			FullName: req.FullName,
			Phone:    req.Phone,
		})
		if err != nil {
			switch {
			case errors.Is(err, phone.ErrInvalid):
				return fiber.NewError(http.StatusBadRequest, err.Error())
			case errors.Is(err, identity.ErrPhoneTaken):
				return fiber.NewError(http.StatusBadRequest, "phone number already registered")
			case errors.Is(err, identity.ErrNotFound):
				return fiber.NewError(http.StatusUnauthorized, "user not found")
			}
			return fiber.NewError(http.StatusInternalServerError, "could not update profile")
		}

		if phoneChanged {
			if err := verificationSvc.RequestCodeForUser(c.UserContext(), user); err != nil {
				logger.Warn("re-verification after phone change failed",
					slog.String("user_id", user.ID), slog.Any("error", err))
			}
		}

		return c.JSON(fiber.Map{
			"id":                user.ID,
			"phone":             user.Phone,
			"full_name":         user.FullName,
			"phone_is_verified": user.Verified,
		})
	})
}
