package notification

import (
	"context"
	"log/slog"

	"github.com/carelink/carelink/internal/phone"
)

const (
	// KindVerificationCode carries a one-time code to a phone number.
	KindVerificationCode = "verification_code"
	// KindCaregiverInvite tells a patient a caregiver asked to be linked.
	KindCaregiverInvite = "caregiver_invite"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger. The destination is
// masked; the body is logged only at debug level since it may hold a code.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", phone.Mask(message.Destination))
	n.logger.DebugContext(ctx, "notification body", "kind", message.Kind, "body", message.Body)
	return nil
}
