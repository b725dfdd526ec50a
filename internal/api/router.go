// Package api provides the HTTP API for SokoFlow.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sokoflow/sokoflow/internal/api/handlers"
	"github.com/sokoflow/sokoflow/internal/auth"
	"github.com/sokoflow/sokoflow/internal/health"
	"github.com/sokoflow/sokoflow/internal/idempotency"
	"github.com/sokoflow/sokoflow/internal/rbac"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

// RouterConfig carries the router's cross-cutting collaborators.
type RouterConfig struct {
	Auth        *auth.Middleware
	Idempotency *idempotency.Ledger
	Health      *health.Checker
	Logger      *logging.Logger
	Metrics     *metrics.Registry
}

// NewRouter creates the Chi router with all routes and middleware configured.
// Webhook ingestion is public; everything under /api/v1 requires a token and
// org membership, and dead-letter operations require ADMIN or OWNER.
func NewRouter(h *handlers.Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if cfg.Logger != nil {
		r.Use(logging.Middleware(cfg.Logger))
	}
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTPMiddleware())
	}

	r.Get("/health", h.Health)
	if cfg.Health != nil {
		r.Method("GET", "/ready", cfg.Health.Handler())
	}
	if cfg.Metrics != nil {
		r.Method("GET", "/metrics", cfg.Metrics.Handler())
	}

	// Provider callbacks authenticate with HMAC signatures, not tokens.
	r.Post("/webhooks/{provider}/{organizationID}", h.ReceiveWebhook)

	r.Route("/api/v1/organizations/{organizationID}", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.RequireAuth())
		}
		r.Use(rbac.RequireOrgRole(rbac.RoleMember, handlers.OrgParam))

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.CreateWorkflow)
			r.Get("/", h.ListWorkflows)
			r.Route("/{workflowID}", func(r chi.Router) {
				r.Get("/", h.GetWorkflow)
				r.With(triggerIdempotency(cfg.Idempotency)).
					Post("/trigger", h.TriggerWorkflow)
			})
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", h.ListExecutions)
			r.Get("/{executionID}", h.GetExecution)
		})

		r.Route("/governance", func(r chi.Router) {
			r.Get("/limits", h.GetLimits)
			r.Get("/usage", h.GetUsage)
			r.Get("/violations", h.ListViolations)
		})

		r.Route("/workflow-dlq", func(r chi.Router) {
			r.Use(rbac.RequireOrgRole(rbac.RoleAdmin, handlers.OrgParam))
			r.Get("/", h.ListDLQItems)
			r.Route("/{dlqID}", func(r chi.Router) {
				r.Get("/", h.GetDLQItem)
				r.Post("/replay", h.ReplayDLQItem)
				r.Post("/resolve", h.ResolveDLQItem)
				r.Post("/ignore", h.IgnoreDLQItem)
			})
		})
	})

	return r
}

// triggerIdempotency replays stored trigger responses for repeated
// Idempotency-Key headers. Without a ledger it is a no-op.
func triggerIdempotency(ledger *idempotency.Ledger) func(http.Handler) http.Handler {
	if ledger == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return idempotency.Middleware(ledger, "workflow-trigger", handlers.OrgParam)
}
