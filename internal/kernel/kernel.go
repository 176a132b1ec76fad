// Package kernel wires together BaselineStore, TelemetryStore, the
// Router, FeedbackIngest, AutoUpdateGate and the background maintenance
// executor into one long-lived object, mirroring the shape of the
// teacher's internal/app.Server: a single constructor that builds every
// dependency in order, a Close that tears them all down, and a Reload
// that hot-swaps tunables without a restart.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kernel-route/routekernel/internal/autoupdate"
	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/feedback"
	"github.com/kernel-route/routekernel/internal/health"
	"github.com/kernel-route/routekernel/internal/httpapi"
	"github.com/kernel-route/routekernel/internal/idempotency"
	"github.com/kernel-route/routekernel/internal/kernelrouter"
	"github.com/kernel-route/routekernel/internal/logging"
	"github.com/kernel-route/routekernel/internal/maintenance"
	"github.com/kernel-route/routekernel/internal/metrics"
	"github.com/kernel-route/routekernel/internal/patterns"
	"github.com/kernel-route/routekernel/internal/ratelimit"
	"github.com/kernel-route/routekernel/internal/telemetry"
	"github.com/kernel-route/routekernel/internal/tier"
	"github.com/kernel-route/routekernel/internal/tracing"
)

// Kernel is the assembled runtime: every subsystem (C1-C8) plus the
// ambient stack (logging, tracing, metrics, event bus, health, rate
// limiting, idempotency) and the maintenance executor that drives
// AutoUpdateGate and FeedbackIngest's grace-period sweep cooperatively in
// the background.
type Kernel struct {
	cfg Config

	Logger  *slog.Logger
	Bus     *events.Bus
	Metrics *metrics.Registry
	Health  *health.Tracker

	Baselines baseline.Store
	Telemetry telemetry.Store
	Router    *kernelrouter.Router
	Feedback  *feedback.Ingest
	Gate      *autoupdate.Gate

	RateLimiter *ratelimit.Limiter
	Idempotency *idempotency.Cache

	maintenanceExec *maintenance.Executor
	maintenanceMgr  *maintenance.Manager
	stopMaintenance func()
	otelShutdown    func(context.Context) error
}

// New constructs a Kernel from cfg: opens the telemetry store, loads (or
// seeds) the baseline store, wires the router/feedback/gate trio over
// them, and starts the maintenance executor's background loop.
func New(ctx context.Context, cfg Config) (*Kernel, error) {
	cfg = cfg.withDefaults()

	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: otel setup: %w", err)
	}

	bus := events.NewBus()
	m := metrics.New()
	ht := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))

	bstore, err := baseline.NewFileStore(cfg.BaselineDir, logger)
	if err != nil {
		return nil, fmt.Errorf("kernel: baseline store: %w", err)
	}
	ht.RecordSuccess("baseline_store", 0)

	tstore, err := telemetry.NewSQLiteStore(ctx, cfg.TelemetryDSN)
	if err != nil {
		return nil, fmt.Errorf("kernel: telemetry store: %w", err)
	}
	ht.RecordSuccess("telemetry_store", 0)

	router := kernelrouter.New(bstore, tstore, bus,
		kernelrouter.WithCeiling(cfg.RoutingCeiling),
		kernelrouter.WithLogger(logger),
	)

	ingest := feedback.New(tstore)

	gate := autoupdate.New(bstore, tstore, cfg.PatternsConfig,
		autoupdate.WithLogger(logger),
		autoupdate.WithBus(bus),
	)

	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimitedTotal))
	idem := idempotency.New(cfg.IdempotencyTTL, cfg.IdempotencyMaxEntries)

	acts := &maintenance.Activities{
		Gate:     gate,
		Feedback: ingest,
		Grace:    cfg.GracePeriod,
		Bus:      bus,
		Logger:   logger,
	}

	var mgr *maintenance.Manager
	if cfg.TemporalEnabled {
		mgr, err = maintenance.NewManager(cfg.TemporalConfig, acts)
		if err != nil {
			logger.Warn("kernel: temporal manager unavailable, maintenance runs in-process only", "error", err)
			mgr = nil
		} else if err := mgr.Start(); err != nil {
			logger.Warn("kernel: temporal worker failed to start, maintenance runs in-process only", "error", err)
			mgr = nil
		}
	}

	exec := maintenance.NewExecutor(mgr, acts, cfg.TemporalConfig,
		maintenance.WithHealthTracker(ht),
		maintenance.WithMetrics(m),
		maintenance.WithBus(bus),
		maintenance.WithLogger(logger),
	)
	stopMaintenance := exec.StartTickerLoop(ctx, cfg.MaintenanceInterval)

	k := &Kernel{
		cfg:             cfg,
		Logger:          logger,
		Bus:             bus,
		Metrics:         m,
		Health:          ht,
		Baselines:       bstore,
		Telemetry:       tstore,
		Router:          router,
		Feedback:        ingest,
		Gate:            gate,
		RateLimiter:     rl,
		Idempotency:     idem,
		maintenanceExec: exec,
		maintenanceMgr:  mgr,
		stopMaintenance: stopMaintenance,
		otelShutdown:    otelShutdown,
	}
	return k, nil
}

// HTTPRouter builds the kernel's chi router: request-ID/real-IP/recoverer
// middleware, optional otel tracing, and CORS, matching app.Server's
// middleware stack, with every /healthz, /metrics and /v1 route mounted
// via httpapi.MountRoutes.
func (k *Kernel) HTTPRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(k.Logger))
	r.Use(middleware.Recoverer)
	if k.cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}

	corsOrigins := k.cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:           k.Router,
		Baselines:        k.Baselines,
		Telemetry:        k.Telemetry,
		Feedback:         k.Feedback,
		Gate:             k.Gate,
		Metrics:          k.Metrics,
		Health:           k.Health,
		Bus:              k.Bus,
		RateLimiter:      k.RateLimiter,
		IdempotencyCache: k.Idempotency,
	})
	return r
}

// Route evaluates and records one routing decision (spec.md §4 Route()).
func (k *Kernel) Route(ctx context.Context, query, sessionID string, overrideTier tier.Tier) (telemetry.Decision, error) {
	return k.Router.Route(ctx, query, sessionID, overrideTier)
}

// Reload hot-swaps the log level, the one tunable it changes without
// re-opening stores; rate limits and other settings keep their startup
// values. Mirrors app.Server.Reload.
func (k *Kernel) Reload(cfg Config) {
	logging.SetLevel(cfg.LogLevel)
	k.cfg.LogLevel = cfg.LogLevel
	k.Logger.Info("kernel: config reloaded", "log_level", cfg.LogLevel)
}

// Close drains the maintenance executor, stops Temporal if running, shuts
// down tracing, and closes the telemetry store.
func (k *Kernel) Close() error {
	if k.stopMaintenance != nil {
		k.stopMaintenance()
	}
	if k.maintenanceMgr != nil {
		k.maintenanceMgr.Stop()
	}
	if k.otelShutdown != nil {
		_ = k.otelShutdown(context.Background())
	}
	return k.Telemetry.Close()
}
