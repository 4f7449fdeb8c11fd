package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler returns a basic liveness check.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		sessions := 0
		if deps.Hub != nil {
			sessions = deps.Hub.Len()
		}
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"uptime":   time.Since(startedAt).String(),
			"version":  "dev",
			"sessions": sessions,
		})
	}
}

// ReadyHandler checks the database and, when configured, the geo index,
// NATS and the cache. Only the database is required.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string)
		allOK := true

		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				checks["database"] = "error: " + err.Error()
				allOK = false
			} else {
				checks["database"] = "ok"
			}
		} else {
			checks["database"] = "not configured"
			allOK = false
		}

		// Optional dependencies degrade discovery but never block it.
		optional := []struct {
			name  string
			set   bool
			check func() error
		}{
			{"geo_index", deps.Geo != nil, func() error { return deps.Geo.Ping(ctx) }},
			{"nats", deps.NATS != nil, func() error { return deps.NATS.Ping() }},
			{"cache", deps.Cache != nil, func() error { return deps.Cache.Ping(ctx) }},
		}
		for _, o := range optional {
			switch {
			case !o.set:
				checks[o.name] = "not configured"
			case o.check() != nil:
				checks[o.name] = "degraded"
			default:
				checks[o.name] = "ok"
			}
		}

		status := "ready"
		code := 200
		if !allOK {
			status = "not ready"
			code = 503
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
