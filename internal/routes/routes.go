package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/carelink/carelink/internal/auth"
	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/identity"
	"github.com/carelink/carelink/internal/links"
	"github.com/carelink/carelink/internal/middleware"
	"github.com/carelink/carelink/internal/notification"
	"github.com/carelink/carelink/internal/session"
	"github.com/carelink/carelink/internal/verification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Notifier overrides the code and invitation channel chosen from Cfg.
	Notifier notification.Notifier
}

// services holds the wired domain layer.
type services struct {
	verifier *verification.Service
	sessions *session.Service
	ids      *identity.Service
	links    *links.Coordinator
	auth     *auth.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Metrics())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	svc := wire(d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	authHandler := auth.NewHandler(svc.auth)
	rateLimiter := middleware.OTPRateLimit(d.Cache, d.Cfg.OTPRequestsPerMinute, svc.verifier.NormalizePhone, d.Logger)
	RegisterAuthRoutes(api, authHandler, rateLimiter)

	protected := api.Group("", middleware.SessionAuth(svc.auth))
	RegisterSessionRoutes(protected, authHandler)
	RegisterProfileRoutes(protected, identity.NewHandler(svc.ids))

	var idempotency fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterLinkRoutes(protected, links.NewHandler(svc.links), idempotency)

	return nil
}

// wire builds the domain services over Postgres and Redis, or over memory
// stores for whichever backend is absent.
func wire(d Deps) services {
	notifier := d.Notifier
	if notifier == nil {
		if d.Cfg.SMSWebhookURL != "" {
			notifier = notification.NewWebhookNotifier(d.Cfg.SMSWebhookURL, d.Cfg.SMSWebhookToken, d.Cfg.DeliveryTimeout)
		} else {
			notifier = notification.NewLoggerNotifier(d.Logger)
		}
	}

	var (
		codeStore    verification.CodeStore
		sessionStore session.Store
		listCache    links.ListCache
	)
	if d.Cache != nil {
		codeStore = verification.NewRedisStore(d.Cache, d.Cfg.OTPRetention)
		sessionStore = session.NewRedisStore(d.Cache, d.Cfg.SessionRetention)
		listCache = links.NewRedisCache(d.Cache, d.Cfg.LinkCacheTTL)
	} else {
		codeStore = verification.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
		listCache = links.NewMemoryCache(d.Cfg.LinkCacheTTL)
	}

	var (
		userRepo identity.Repository
		linkRepo links.Repository
	)
	if d.DB != nil {
		userRepo = identity.NewPostgresRepository(d.DB)
		linkRepo = links.NewPostgresRepository(d.DB)
	} else {
		userRepo = identity.NewMemoryRepository()
		linkRepo = links.NewMemoryRepository()
	}

	verifier := verification.NewService(codeStore, notifier, d.Logger, verification.Config{
		TTL:                d.Cfg.OTPTTL,
		DeliveryTimeout:    d.Cfg.DeliveryTimeout,
		BcryptCost:         d.Cfg.BcryptCost,
		DefaultCountryCode: d.Cfg.DefaultCountryCode,
	})
	sessions := session.NewService(sessionStore, nil, d.Cfg.SessionTTL, d.Logger)
	ids := identity.NewService(userRepo, sessions, d.Logger, d.Cfg.DefaultCountryCode)
	sessions.SetUserChecker(ids)

	coordinator := links.NewCoordinator(linkRepo, ids, sessions, d.Logger, links.Config{
		DefaultCountryCode: d.Cfg.DefaultCountryCode,
		DeliveryTimeout:    d.Cfg.DeliveryTimeout,
	}, links.WithCache(listCache), links.WithNotifier(notifier))
	ids.OnPatientRegistered(coordinator.PatientRegistered)
	sessions.OnTerminate(coordinator.SessionTerminated)

	return services{
		verifier: verifier,
		sessions: sessions,
		ids:      ids,
		links:    coordinator,
		auth:     auth.NewService(verifier, ids, sessions, d.Cfg.TokenSecret, d.Cfg.AppName, d.Logger),
	}
}
