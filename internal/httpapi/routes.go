// Package httpapi is the kernel's thin admin/read HTTP surface: external
// dashboards and consumers poll /healthz, /v1/stats, /v1/baselines,
// /v1/lineage and subscribe to /v1/events (SSE) instead of reaching
// into the kernel directly (spec.md §9's "single event bus"). Of the
// write paths, /v1/route is rate-limited and /v1/feedback is
// idempotency-protected; proposal apply and rollback are POSTs as well.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kernel-route/routekernel/internal/autoupdate"
	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/feedback"
	"github.com/kernel-route/routekernel/internal/health"
	"github.com/kernel-route/routekernel/internal/idempotency"
	"github.com/kernel-route/routekernel/internal/kernelrouter"
	"github.com/kernel-route/routekernel/internal/metrics"
	"github.com/kernel-route/routekernel/internal/ratelimit"
	"github.com/kernel-route/routekernel/internal/telemetry"
)

// Dependencies bundles everything the handlers need, mirroring the
// teacher's httpapi.Dependencies shape but over the kernel's eight
// components instead of the provider/engine/vault stack.
type Dependencies struct {
	Router    *kernelrouter.Router
	Baselines baseline.Store
	Telemetry telemetry.Store
	Feedback  *feedback.Ingest
	Gate      *autoupdate.Gate

	Metrics *metrics.Registry
	Health  *health.Tracker
	Bus     *events.Bus

	RateLimiter      *ratelimit.Limiter
	IdempotencyCache *idempotency.Cache
}

// maxRequestBodySize bounds POST bodies on the write endpoints.
const maxRequestBodySize = 1 << 20 // 1 MB

func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MountRoutes wires every handler onto r.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", HealthzHandler(d))
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))

		r.Group(func(r chi.Router) {
			if d.RateLimiter != nil {
				r.Use(d.RateLimiter.Middleware)
			}
			r.Post("/route", RouteHandler(d))
		})

		r.Group(func(r chi.Router) {
			if d.IdempotencyCache != nil {
				r.Use(idempotency.Middleware(d.IdempotencyCache))
			}
			r.Post("/feedback", FeedbackHandler(d))
		})

		r.Get("/stats", StatsHandler(d))
		r.Get("/baselines", BaselinesHandler(d))
		r.Get("/lineage", LineageHandler(d))
		r.Get("/proposals", ProposalsHandler(d))
		r.Post("/proposals/{id}/apply", ApplyProposalHandler(d))
		r.Post("/proposals/{id}/rollback", RollbackProposalHandler(d))
		if d.Bus != nil {
			r.Get("/events", SSEHandler(d.Bus))
		}
	})
}
