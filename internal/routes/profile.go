package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink/internal/identity"
)

// RegisterProfileRoutes wires account and profile endpoints.
func RegisterProfileRoutes(r fiber.Router, h *identity.Handler) {
	r.Get("/me", h.Me)
	r.Post("/profile/patient", h.CreatePatient)
	r.Post("/profile/caregiver", h.CreateCaregiver)
	r.Patch("/profile", h.Update)
}
