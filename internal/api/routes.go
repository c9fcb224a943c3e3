package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/checks-optimizer/pkg/model"
)

// HealthChecker is implemented by the persistence layer.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SnapshotHolder exposes the currently installed snapshot, if any.
type SnapshotHolder interface {
	Current() *model.Snapshot
}

// RegisterRoutes mounts health, metrics and the v1 API. st may be nil when
// persistence is disabled.
func RegisterRoutes(app *fiber.App, st HealthChecker, cat SnapshotHolder, h *Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"store":   "disabled",
			"catalog": "empty",
		}
		status := "ok"
		code := fiber.StatusOK

		if st != nil {
			healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.HealthCheck(healthCtx); err != nil {
				checks["store"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			} else {
				checks["store"] = "ok"
			}
		}
		if cat != nil && cat.Current() != nil {
			checks["catalog"] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	v1 := app.Group("/api/v1")
	v1.Get("/optimize", h.Optimize)
	v1.Get("/optimize/last", h.LastReport)
	v1.Get("/last-update", h.LastUpdate)
	v1.Get("/history", h.History)
}
