package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kernel-route/routekernel/internal/circuitbreaker"
	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/health"
	"github.com/kernel-route/routekernel/internal/metrics"
)

const componentName = "maintenance_executor"

// Executor is the §5 background executor: it dispatches maintenance runs
// through Temporal when available, guarded by a circuit breaker, and
// falls back to running the same activities in-process on a ticker when
// Temporal is unreachable — grounded on the teacher's
// internal/router/thompson_refresh.go refresh-loop idiom.
type Executor struct {
	mgr     *Manager
	acts    *Activities
	breaker *circuitbreaker.Breaker
	health  *health.Tracker
	metrics *metrics.Registry
	bus     *events.Bus
	logger  *slog.Logger
	cfg     Config
}

// ExecutorOption configures an Executor at construction time.
type ExecutorOption func(*Executor)

func WithBreaker(b *circuitbreaker.Breaker) ExecutorOption {
	return func(e *Executor) { e.breaker = b }
}

func WithHealthTracker(t *health.Tracker) ExecutorOption {
	return func(e *Executor) { e.health = t }
}

func WithMetrics(m *metrics.Registry) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

func WithBus(b *events.Bus) ExecutorOption {
	return func(e *Executor) { e.bus = b }
}

func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor builds an Executor. mgr may be nil when Temporal is not
// configured, in which case every run takes the in-process fallback path.
func NewExecutor(mgr *Manager, acts *Activities, cfg Config, opts ...ExecutorOption) *Executor {
	e := &Executor{
		mgr:    mgr,
		acts:   acts,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.breaker == nil {
		e.breaker = circuitbreaker.New(
			circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
				if e.metrics != nil {
					e.metrics.MaintenanceCircuitState.Set(float64(to))
				}
				e.logger.Warn("maintenance: circuit breaker transition", "from", from, "to", to)
			}),
		)
	}
	return e
}

// RunOnce performs a single maintenance pass, dispatching through Temporal
// if the breaker allows it and falling back to running the Activities
// in-process otherwise. Errors are logged and reflected in health, never
// propagated to the routing path.
func (e *Executor) RunOnce(ctx context.Context) {
	runID := uuid.NewString()
	start := time.Now()

	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventMaintenanceRunStarted, RunID: runID})
	}

	var (
		result RunResult
		err    error
	)

	if e.mgr != nil && e.breaker.Allow() {
		result, err = e.mgr.RunOnce(ctx, runID)
		if err != nil {
			e.breaker.RecordFailure()
			e.logger.Warn("maintenance: temporal dispatch failed, falling back", "run_id", runID, "error", err)
			result, err = e.runInProcess(ctx, runID)
		} else {
			e.breaker.RecordSuccess()
		}
	} else {
		result, err = e.runInProcess(ctx, runID)
	}

	latencyMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		if e.health != nil {
			e.health.RecordError(componentName, err.Error())
		}
		if e.bus != nil {
			e.bus.Publish(events.Event{Type: events.EventMaintenanceFailed, RunID: runID, ErrorMsg: err.Error()})
		}
		e.logger.Error("maintenance: run failed", "run_id", runID, "error", err)
		return
	}

	if e.health != nil {
		e.health.RecordSuccess(componentName, latencyMs)
	}
	if e.metrics != nil {
		e.metrics.MaintenanceUp.Set(1)
		if result.ProposalsApplied > 0 {
			e.metrics.BaselineApplied.Add(float64(result.ProposalsApplied))
		}
		if len(result.RolledBack) > 0 {
			e.metrics.BaselineRolledBack.Add(float64(len(result.RolledBack)))
		}
		if result.ProposalsFound > 0 {
			e.metrics.ProposalsGenerated.Add(float64(result.ProposalsFound))
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventMaintenanceCompleted, RunID: runID})
	}
	e.logger.Info("maintenance: run completed", "run_id", runID,
		"expired_grace", result.ExpiredGraceCount, "proposals_found", result.ProposalsFound,
		"proposals_applied", result.ProposalsApplied, "proposals_rejected", result.ProposalsRejected,
		"rolled_back", result.RolledBack)
}

// runInProcess executes the same four steps MaintenanceWorkflow would,
// directly against e.acts, honoring ctx cancellation at each step.
func (e *Executor) runInProcess(ctx context.Context, runID string) (RunResult, error) {
	in := RunInput{RunID: runID}
	result := RunResult{RunID: runID, StartedAt: time.Now()}

	expired, err := e.acts.ExpireGrace(ctx, in)
	if err != nil {
		return result, err
	}
	result.ExpiredGraceCount = expired

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	report, err := e.acts.EvaluateProposals(ctx, in)
	if err != nil {
		return result, err
	}
	result.ProposalsFound = len(report.Proposals)

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	applyResult, err := e.acts.ApplyPassingProposals(ctx, report)
	if err != nil {
		return result, err
	}
	result.ProposalsApplied = applyResult.Applied
	result.ProposalsRejected = applyResult.Rejected

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	reverted, err := e.acts.CheckDrift(ctx, in)
	if err != nil {
		return result, err
	}
	result.RolledBack = reverted

	result.FinishedAt = time.Now()
	return result, nil
}

// StartTickerLoop runs RunOnce on a fixed interval until the returned stop
// function is called, mirroring thompson_refresh.go's StartRefreshLoop.
func (e *Executor) StartTickerLoop(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = e.cfg.ScanInterval
	}
	if interval <= 0 {
		interval = DefaultConfig().ScanInterval
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		e.RunOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.RunOnce(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}
