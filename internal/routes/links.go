package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink/internal/links"
)

// RegisterLinkRoutes wires caregiver link endpoints. Mutations replay stored
// responses when idempotency is non-nil.
func RegisterLinkRoutes(r fiber.Router, h *links.Handler, idempotency fiber.Handler) {
	group := r.Group("/links")
	mutate := func(handler fiber.Handler) []fiber.Handler {
		if idempotency == nil {
			return []fiber.Handler{handler}
		}
		return []fiber.Handler{idempotency, handler}
	}

	group.Post("/", mutate(h.Invite)...)
	group.Get("/caregiver", h.ListForCaregiver)
	group.Get("/patient", h.ListForPatient)
	group.Get("/:linkId", h.Get)
	group.Post("/:linkId/approve", mutate(h.Approve)...)
	group.Post("/:linkId/revoke", mutate(h.Revoke)...)
}
