package auth

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/identity"
	"github.com/carelink/carelink/internal/session"
)

// Handler exposes code, login and session endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds an auth HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type codeRequest struct {
	Phone string `json:"phone"`
}

type codeResponse struct {
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyRequest struct {
	Phone            string `json:"phone"`
	Code             string `json:"code"`
	Role             string `json:"role"`
	DeviceID         string `json:"device_id"`
	BiometricEnabled bool   `json:"biometric_enabled"`
}

type sessionResponse struct {
	DeviceID         string    `json:"device_id"`
	UserID           string    `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	BiometricEnabled bool      `json:"biometric_enabled"`
}

type loginResponse struct {
	AccessToken string                `json:"access_token"`
	TokenType   string                `json:"token_type"`
	ExpiresIn   int64                 `json:"expires_in"`
	Session     sessionResponse       `json:"session"`
	User        identity.UserResponse `json:"user"`
	NewAccount  bool                  `json:"new_account"`
}

type biometricRequest struct {
	Enabled *bool `json:"enabled"`
}

func toSessionResponse(s session.Session) sessionResponse {
	return sessionResponse{
		DeviceID:         s.DeviceID,
		UserID:           s.UserID,
		CreatedAt:        s.CreatedAt,
		ExpiresAt:        s.ExpiresAt,
		BiometricEnabled: s.BiometricEnabled,
	}
}

// RequestCode sends a one-time code.
func (h *Handler) RequestCode(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	issued, err := h.svc.RequestCode(c.UserContext(), req.Phone)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(codeResponse{Phone: issued.Phone, ExpiresAt: issued.ExpiresAt})
}

// ResendCode replaces the live code.
func (h *Handler) ResendCode(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	issued, err := h.svc.ResendCode(c.UserContext(), req.Phone)
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(codeResponse{Phone: issued.Phone, ExpiresAt: issued.ExpiresAt})
}

// Verify checks the code and signs the device in.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	res, err := h.svc.Login(c.UserContext(), LoginInput{
		Phone:            req.Phone,
		Code:             req.Code,
		Role:             req.Role,
		DeviceID:         req.DeviceID,
		BiometricEnabled: req.BiometricEnabled,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(loginResponse{
		AccessToken: res.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(res.Session.ExpiresAt.Sub(res.Session.CreatedAt).Seconds()),
		Session:     toSessionResponse(res.Session),
		User:        identity.ToResponse(res.User),
		NewAccount:  res.NewAccount,
	})
}

// Logout terminates the caller's session.
func (h *Handler) Logout(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	if err := h.svc.Logout(c.UserContext(), sess); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

// Session returns the caller's session.
func (h *Handler) Session(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toSessionResponse(sess))
}

// UpdateBiometric toggles biometric unlock on the caller's session.
func (h *Handler) UpdateBiometric(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	var req biometricRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	if req.Enabled == nil {
		return apperr.Invalid("enabled", "is required")
	}
	updated, err := h.svc.UpdateBiometric(c.UserContext(), sess, *req.Enabled)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toSessionResponse(updated))
}
