package verification

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/amir-rz/all-commerce/internal/auth"
	"github.com/amir-rz/all-commerce/internal/identity"
	"github.com/amir-rz/all-commerce/internal/otp"
	"github.com/amir-rz/all-commerce/internal/phone"
)

// Handler exposes the OTP endpoints: request a code, sign in with it, and
// verify a changed phone number.
type Handler struct {
	svc    *Service
	tokens *auth.Service
	ids    *identity.Service
}

// NewHandler constructs the verification HTTP handler.
func NewHandler(svc *Service, tokens *auth.Service, ids *identity.Service) *Handler {
	return &Handler{svc: svc, tokens: tokens, ids: ids}
}

type requestCodeRequest struct {
	Phone string `json:"phone"`
}

type signinRequest struct {
	Phone            string `json:"phone"`
	VerificationCode string `json:"verification_code"`
}

type verifyRequest struct {
	VerificationCode string `json:"verification_code"`
}

// RequestCode issues a fresh verification code and dispatches it by SMS.
func (h *Handler) RequestCode(c *fiber.Ctx) error {
	var req requestCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RequestCode(c.UserContext(), req.Phone); err != nil {
		return mapVerificationError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"msg": "verification code is sent."})
}

// Signin validates the submitted code and returns a token pair.
func (h *Handler) Signin(c *fiber.Ctx) error {
	var req signinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.VerificationCode == "" {
		return fiber.NewError(http.StatusBadRequest, "verification_code is required")
	}

	user, err := h.svc.SubmitCode(c.UserContext(), req.Phone, req.VerificationCode)
	if err != nil {
		return mapVerificationError(err)
	}

	pair, err := h.tokens.Issue(c.UserContext(), user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "could not issue tokens")
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user": fiber.Map{
			"id":                user.ID,
			"phone":             user.Phone,
			"full_name":         user.FullName,
			"phone_is_verified": user.Verified,
		},
		"token": pair,
	})
}

// VerifyPhone confirms the code sent after an authenticated phone change.
func (h *Handler) VerifyPhone(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}

	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.VerificationCode == "" {
		return fiber.NewError(http.StatusBadRequest, "verification code is not provided")
	}

	user, err := h.ids.Get(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "user not found")
	}

	if _, err := h.svc.SubmitCodeForUser(c.UserContext(), user, req.VerificationCode); err != nil {
		return mapVerificationError(err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"msg": "phone number is verified."})
}

// mapVerificationError translates state-machine errors into HTTP responses.
// Unknown phone numbers are 404; every code failure, including submitting
// with nothing pending, is the same 400 so responses do not reveal whether a
// verification is in progress. Anything else is a 500 with a generic body.
func mapVerificationError(err error) error {
	switch {
	case errors.Is(err, phone.ErrInvalid):
		return fiber.NewError(http.StatusBadRequest, phone.ErrInvalid.Error())
	case errors.Is(err, identity.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, identity.ErrNotFound.Error())
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrNoPendingVerification):
		return fiber.NewError(http.StatusBadRequest, ErrInvalidCode.Error())
	case errors.Is(err, otp.ErrKeyspaceExhausted), errors.Is(err, ErrStoreUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "verification temporarily unavailable")
	}
	return fiber.NewError(http.StatusInternalServerError, "verification failed")
}
