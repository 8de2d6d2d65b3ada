package identity

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/session"
)

// Handler exposes profile endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type patientRequest struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Phone            string `json:"phone"`
	BirthYear        int    `json:"birth_year"`
	BiometricEnabled bool   `json:"biometric_enabled"`
}

type caregiverRequest struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Phone            string `json:"phone"`
	Relationship     string `json:"relationship"`
	BiometricEnabled bool   `json:"biometric_enabled"`
}

type patchRequest struct {
	FirstName        *string `json:"first_name"`
	LastName         *string `json:"last_name"`
	BiometricEnabled *bool   `json:"biometric_enabled"`
	BirthYear        *int    `json:"birth_year"`
	Relationship     *string `json:"relationship"`
	Role             *string `json:"role"`
	Phone            *string `json:"phone"`
}

// UserResponse is the public projection of a User.
type UserResponse struct {
	UserID           string    `json:"user_id"`
	Role             string    `json:"role"`
	Phone            string    `json:"phone"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	BirthYear        int       `json:"birth_year,omitempty"`
	Relationship     string    `json:"relationship,omitempty"`
	BiometricEnabled bool      `json:"biometric_enabled"`
	ProfileComplete  bool      `json:"profile_complete"`
	CreatedAt        time.Time `json:"created_at"`
}

// ToResponse projects user for transport.
func ToResponse(user User) UserResponse {
	resp := UserResponse{
		UserID:           user.ID,
		Role:             string(user.Role),
		Phone:            user.Phone,
		FirstName:        user.FirstName,
		LastName:         user.LastName,
		BiometricEnabled: user.BiometricEnabled,
		ProfileComplete:  user.HasProfile(),
		CreatedAt:        user.CreatedAt,
	}
	switch d := user.Details.(type) {
	case PatientDetails:
		resp.BirthYear = d.BirthYear
	case CaregiverDetails:
		resp.Relationship = d.Relationship
	}
	return resp
}

// Me returns the caller's account.
func (h *Handler) Me(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	user, err := h.service.Current(c.UserContext(), sess)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(user))
}

// CreatePatient handles the patient profile form.
func (h *Handler) CreatePatient(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	var req patientRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	user, err := h.service.CreatePatientProfile(c.UserContext(), sess, PatientInput{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Phone:            req.Phone,
		BirthYear:        req.BirthYear,
		BiometricEnabled: req.BiometricEnabled,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(user))
}

// CreateCaregiver handles the caregiver profile form.
func (h *Handler) CreateCaregiver(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	var req caregiverRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	user, err := h.service.CreateCaregiverProfile(c.UserContext(), sess, CaregiverInput{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Phone:            req.Phone,
		Relationship:     req.Relationship,
		BiometricEnabled: req.BiometricEnabled,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ToResponse(user))
}

// Update merges a partial profile.
func (h *Handler) Update(c *fiber.Ctx) error {
	sess, err := session.FromRequest(c)
	if err != nil {
		return err
	}
	var req patchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalid("body", err.Error())
	}
	user, err := h.service.UpdateProfile(c.UserContext(), sess, ProfilePatch(req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToResponse(user))
}
