package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ErrDeadlineExceeded is returned when the context has no time left for a delivery.
var ErrDeadlineExceeded = errors.New("delivery deadline exceeded")

// WebhookNotifier posts messages as JSON to an SMS gateway webhook.
type WebhookNotifier struct {
	url     string
	token   string
	timeout time.Duration
}

// NewWebhookNotifier builds a notifier for url. timeout bounds each call when
// the caller's context carries no earlier deadline.
func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, token: token, timeout: timeout}
}

type webhookPayload struct {
	Kind string `json:"kind"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send delivers message and fails on transport errors or non-2xx responses.
func (n *WebhookNotifier) Send(ctx context.Context, message Message) error {
	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrDeadlineExceeded
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(n.url)
	agent.JSON(webhookPayload{Kind: message.Kind, To: message.Destination, Body: message.Body})
	if n.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+n.token)
	}
	if timeout > 0 {
		agent.Timeout(timeout)
	}

	status, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post webhook: %w", errors.Join(errs...))
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook responded with status %d", status)
	}
	return nil
}
