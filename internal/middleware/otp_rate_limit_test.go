package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/carelink/carelink/internal/logging"
	"github.com/carelink/carelink/internal/phone"
)

func TestOTPRateLimitPerNormalizedPhone(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	normalize := func(raw string) (string, error) { return phone.Normalize(raw, "1") }
	app := fiber.New()
	app.Post("/otp", OTPRateLimit(cache, 2, normalize, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	send := func(number string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/otp", strings.NewReader(`{"phone":"`+number+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for _, number := range []string{"+15551234567", "(555) 123-4567"} {
		if status := send(number); status != fiber.StatusAccepted {
			t.Fatalf("%s: expected accepted, got %d", number, status)
		}
	}
	if status := send("555.123.4567"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected limit across formatting variants, got %d", status)
	}
	if status := send("+15557654321"); status != fiber.StatusAccepted {
		t.Fatalf("other numbers must not be limited, got %d", status)
	}
	if ttl := mr.TTL("rl:otp:+15551234567"); ttl <= 0 {
		t.Fatalf("expected window ttl, got %s", ttl)
	}
}
