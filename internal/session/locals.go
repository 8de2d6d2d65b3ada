package session

import "github.com/gofiber/fiber/v2"

const localsKey = "session"

// Bind stores the authenticated session on the request context.
func Bind(c *fiber.Ctx, sess Session) {
	c.Locals(localsKey, sess)
	c.Locals("user_id", sess.UserID)
}

// FromRequest returns the session bound by the authentication middleware.
func FromRequest(c *fiber.Ctx) (Session, error) {
	sess, ok := c.Locals(localsKey).(Session)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}
