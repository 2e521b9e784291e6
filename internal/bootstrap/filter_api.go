package bootstrap

import (
	"strings"
	"time"

	"spamfilter/adapter/in/http"
	"spamfilter/config"
	"spamfilter/infra/middleware"
	"spamfilter/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI loads the classifier and builds the HTTP app. Startup fails when
// any required artifact or backend is unavailable.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "spamfilter-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		AppName:               "spamfilter " + cfg.Version,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json for request and response bodies
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// A full batch of maximum-length messages fits with room to spare.
		BodyLimit: 4 * 1024 * 1024,

		ReadTimeout:        30 * time.Second,
		WriteTimeout:       60 * time.Second,
		DisableDefaultDate: true,
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Minute)

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		allowOrigins = "*"
		allowCredentials = false
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth, no rate limit)
	http.NewHealthHandler(deps.Classifier, cfg.Version, deps.DB, deps.Redis).
		WithPools(deps.Pools).
		Register(app)

	api := app.Group("/api/v1")
	http.NewHealthHandler(deps.Classifier, cfg.Version, deps.DB, deps.Redis).
		WithPools(deps.Pools).
		Register(api)

	blacklist := middleware.NewTokenBlacklist(deps.Redis)
	protected := api.Group("",
		limiter.Handler(),
		middleware.RequireJSON(),
		middleware.JWTAuth(cfg.JWTSecret, blacklist),
	)
	http.NewClassifierHandler(deps.Classifier, deps.Latency, limitsFrom(cfg)).Register(protected)
	protected.Post("/auth/revoke", middleware.RevokeToken(blacklist))

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set, classifier routes are unauthenticated")
	}

	return app, func() {
		limiter.Stop()
		cleanup()
	}, nil
}

func limitsFrom(cfg *config.Config) http.Limits {
	return http.Limits{
		DefaultK:         cfg.DefaultK,
		MaxK:             cfg.MaxK,
		DefaultExplainK:  cfg.DefaultExplainK,
		MaxExplainK:      cfg.MaxExplainK,
		MaxMessageLength: cfg.MaxMessageLength,
		MaxBatchSize:     cfg.MaxBatchSize,
		BatchConcurrency: cfg.BatchConcurrency,
	}
}
