package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/amir-rz/all-commerce/internal/auth"
	"github.com/amir-rz/all-commerce/internal/config"
	"github.com/amir-rz/all-commerce/internal/identity"
	"github.com/amir-rz/all-commerce/internal/middleware"
	"github.com/amir-rz/all-commerce/internal/notification"
	"github.com/amir-rz/all-commerce/internal/otp"
	"github.com/amir-rz/all-commerce/internal/verification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Stores
	var userRepo identity.Repository
	if d.DB != nil {
		userRepo = identity.NewPostgresRepository(d.DB)
	} else {
		userRepo = identity.NewMemoryRepository()
	}
	var refreshStore auth.RefreshStore
	if d.Cache != nil {
		refreshStore = auth.NewRedisRefreshStore(d.Cache)
	} else {
		refreshStore = auth.NewMemoryRefreshStore()
	}

	// Services
	secrets := otp.NewSecretIssuer(userRepo, d.Cfg.OTPMode, d.Cfg.OTPDigits)
	var generator otp.Generator
	if d.Cfg.OTPMode == otp.ModeNumeric {
		generator = otp.NumericGenerator{}
	} else {
		generator = otp.TOTPGenerator{Digits: d.Cfg.OTPDigits, Window: d.Cfg.CodeWindow, Skew: d.Cfg.CodeSkew}
	}
	notifier := notification.NewLoggerNotifier(d.Logger)
	identitySvc := identity.NewService(userRepo, secrets)
	tokenSvc := auth.NewService(d.Cfg, userRepo, refreshStore)
	verificationSvc := verification.NewService(userRepo, secrets, generator, d.Cfg.OTPMode, notifier, d.Logger)

	// Handlers
	identityHandler := identity.NewHandler(identitySvc)
	verificationHandler := verification.NewHandler(verificationSvc, tokenSvc, identitySvc)
	authHandler := auth.NewHandler(tokenSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	rateLimiter := middleware.CodeRateLimit(d.Cache, d.Cfg.RateLimitPerMinute)
	sessionAuth := middleware.Auth(tokenSvc, userRepo)

	RegisterUserRoutes(api, identityHandler, verificationHandler, identitySvc, verificationSvc, sessionAuth, rateLimiter, d.Logger)
	RegisterAuthRoutes(api, authHandler)

	return nil
}
