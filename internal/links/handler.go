package links

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/session"
)

// Handler exposes caregiver link endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler builds a link HTTP handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

type inviteRequest struct {
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

type linkResponse struct {
	ID           string     `json:"id"`
	CaregiverID  string     `json:"caregiver_id"`
	PatientID    string     `json:"patient_id,omitempty"`
	InviteePhone string     `json:"invitee_phone"`
	Status       Status     `json:"status"`
	Relationship string     `json:"relationship"`
	CreatedAt    time.Time  `json:"created_at"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// toResponse projects l for viewerID. The caregiver sees the patient id only
// after approval.
func toResponse(l Link, viewerID string) linkResponse {
	resp := linkResponse{
		ID:           l.ID,
		CaregiverID:  l.CaregiverID,
		InviteePhone: l.InviteePhone,
		Status:       l.Status,
		Relationship: l.Relationship,
		CreatedAt:    l.CreatedAt,
		ApprovedAt:   l.ApprovedAt,
		RevokedAt:    l.RevokedAt,
	}
	if viewerID == l.PatientID || l.ApprovedAt != nil {
		resp.PatientID = l.PatientID
	}
	return resp
}

func toResponses(list []Link, viewerID string) []linkResponse {
	out := make([]linkResponse, 0, len(list))
	for _, l := range list {
		out = append(out, toResponse(l, viewerID))
	}
	return out
}

// Invite creates a pending link to a patient phone number.
func (h *Handler) Invite(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	var req inviteRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	link, err := h.coordinator.Invite(c.UserContext(), sess, req.Phone, req.Relationship)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(link, sess.UserID))
}

// Approve activates a pending link.
func (h *Handler) Approve(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	link, err := h.coordinator.Approve(c.UserContext(), sess, c.Params("linkId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(link, sess.UserID))
}

// Revoke ends a link.
func (h *Handler) Revoke(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	link, err := h.coordinator.Revoke(c.UserContext(), sess, c.Params("linkId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(link, sess.UserID))
}

// Get returns one link.
func (h *Handler) Get(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	link, err := h.coordinator.Get(c.UserContext(), sess, c.Params("linkId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(link, sess.UserID))
}

// ListForCaregiver lists links where the caller is the caregiver.
func (h *Handler) ListForCaregiver(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	list, err := h.coordinator.ListForCaregiver(c.UserContext(), sess)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"links": toResponses(list, sess.UserID)})
}

// ListForPatient lists links where the caller is the patient.
func (h *Handler) ListForPatient(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	list, err := h.coordinator.ListForPatient(c.UserContext(), sess)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"links": toResponses(list, sess.UserID)})
}
