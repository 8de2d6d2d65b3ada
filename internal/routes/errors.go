package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink/internal/apperr"
)

type errorResponse struct {
	Error      string             `json:"error"`
	Message    string             `json:"message"`
	Violations []apperr.Violation `json:"violations,omitempty"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:        http.StatusBadRequest,
	apperr.KindCodeExpired:       http.StatusUnauthorized,
	apperr.KindCodeMismatch:      http.StatusUnauthorized,
	apperr.KindNoPendingCode:     http.StatusUnauthorized,
	apperr.KindSessionNotFound:   http.StatusUnauthorized,
	apperr.KindSessionExpired:    http.StatusUnauthorized,
	apperr.KindForbidden:         http.StatusForbidden,
	apperr.KindRoleMismatch:      http.StatusForbidden,
	apperr.KindNotFound:          http.StatusNotFound,
	apperr.KindDuplicateLink:     http.StatusConflict,
	apperr.KindInvalidTransition: http.StatusConflict,
	apperr.KindConflict:          http.StatusConflict,
	apperr.KindDeliveryFailed:    http.StatusBadGateway,
	apperr.KindInternal:          http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders handler errors as JSON. Fiber errors keep their code;
// kinded errors are mapped by kind and internal failures hide their cause.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorResponse{
			Error:   http.StatusText(fe.Code),
			Message: fe.Message,
		})
	}

	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	return c.Status(status).JSON(errorResponse{
		Error:      string(kind),
		Message:    message,
		Violations: apperr.ViolationsOf(err),
	})
}
