package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink/internal/auth"
)

// RegisterAuthRoutes wires the public code and login endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth/otp")
	if rateLimiter != nil {
		group.Post("/request", rateLimiter, h.RequestCode)
	} else {
		group.Post("/request", h.RequestCode)
	}
	group.Post("/resend", h.ResendCode)
	group.Post("/verify", h.Verify)
}

// RegisterSessionRoutes wires endpoints acting on the caller's own session.
func RegisterSessionRoutes(r fiber.Router, h *auth.Handler) {
	r.Post("/auth/logout", h.Logout)
	r.Get("/session", h.Session)
	r.Put("/session/biometric", h.UpdateBiometric)
}
