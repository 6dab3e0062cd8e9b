// Package httptransport wires the public HTTP surface. Handlers stay thin;
// domain logic lives in the services they delegate to.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weld/internal/reconcile/handler"
)

// HealthChecker reports reachability of a backing resource.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) Health(ctx context.Context) error { return f(ctx) }

// NewRouter assembles the full router: reconciliation endpoints, health, and
// metrics. checks maps a dependency name to its health probe.
func NewRouter(reconcile *handler.Handler, logger *slog.Logger, checks map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()

	reconcile.Register(r)

	r.Get("/healthz", handleHealth(logger, checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func handleHealth(logger *slog.Logger, checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.Health(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err.Error())
				report[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "up"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}
}
