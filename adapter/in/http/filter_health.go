package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"spamfilter/core/port/in"
	"spamfilter/pkg/metrics"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	svc     in.ClassifierService
	version string
	db      *pgxpool.Pool
	redis   *redis.Client
	pools   *metrics.PoolMonitor
}

// NewHealthHandler creates a health handler. db and redis may be nil.
func NewHealthHandler(svc in.ClassifierService, version string, db *pgxpool.Pool, redis *redis.Client) *HealthHandler {
	return &HealthHandler{
		svc:     svc,
		version: version,
		db:      db,
		redis:   redis,
	}
}

// WithPools adds connection pool health to /ready.
func (h *HealthHandler) WithPools(m *metrics.PoolMonitor) *HealthHandler {
	h.pools = m
	return h
}

func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
}

// Health reports whether the model is loaded. It always answers 200.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	loaded := h.svc != nil && h.svc.Ready()
	status := "healthy"
	var indexSize *int
	if loaded {
		n := h.svc.Stats().IndexSize
		indexSize = &n
	} else {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":       status,
		"version":      h.version,
		"model_loaded": loaded,
		"index_size":   indexSize,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.svc != nil && h.svc.Ready() {
		checks["classifier"] = "loaded"
	} else {
		checks["classifier"] = "not loaded"
		allHealthy = false
	}

	// Check PostgreSQL
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["postgres"] = "healthy"
		}
	} else {
		checks["postgres"] = "not configured"
	}

	// Check Redis
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if pools := h.pools.AllHealth(); len(pools) > 0 {
		body["pools"] = pools
	}
	return c.Status(statusCode).JSON(body)
}
