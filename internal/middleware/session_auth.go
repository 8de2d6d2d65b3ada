package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink/internal/auth"
	"github.com/carelink/carelink/internal/session"
)

// Authenticator resolves a bearer token to a live session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (session.Session, error)
}

// SessionAuth requires a bearer token bound to the device's current session
// and stores that session on the request.
func SessionAuth(authn Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return auth.ErrInvalidToken
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		sess, err := authn.Authenticate(c.UserContext(), token)
		if err != nil {
			return err
		}
		session.Bind(c, sess)
		return c.Next()
	}
}
