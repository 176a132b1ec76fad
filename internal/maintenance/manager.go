package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Config holds Temporal connection settings for the maintenance executor.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
	// ScanInterval paces Executor.StartTickerLoop; each tick starts one
	// workflow run (no Temporal CronSchedule is set).
	ScanInterval time.Duration
}

// DefaultConfig mirrors spec.md §4.9's suggested scan cadence.
func DefaultConfig() Config {
	return Config{
		HostPort:     "localhost:7233",
		Namespace:    "default",
		TaskQueue:    "routekernel-maintenance",
		ScanInterval: 5 * time.Minute,
	}
}

// Manager owns the Temporal client and worker lifecycle for the
// maintenance workflow, mirroring the teacher's internal/temporal.Manager.
type Manager struct {
	client client.Client
	worker worker.Worker
	cfg    Config
}

// NewManager dials a Temporal client and registers MaintenanceWorkflow
// plus its Activities against a dedicated worker.
func NewManager(cfg Config, acts *Activities) (*Manager, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("maintenance: temporal client dial: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(MaintenanceWorkflow)
	w.RegisterActivity(acts.ExpireGrace)
	w.RegisterActivity(acts.EvaluateProposals)
	w.RegisterActivity(acts.ApplyPassingProposals)
	w.RegisterActivity(acts.CheckDrift)

	return &Manager{client: c, worker: w, cfg: cfg}, nil
}

// Start begins the worker polling for maintenance workflow tasks.
func (m *Manager) Start() error {
	return m.worker.Start()
}

// RunOnce starts one MaintenanceWorkflow execution and blocks for its result.
func (m *Manager) RunOnce(ctx context.Context, runID string) (RunResult, error) {
	opts := client.StartWorkflowOptions{
		ID:                       "maintenance-" + runID,
		TaskQueue:                m.cfg.TaskQueue,
		WorkflowExecutionTimeout: workflowTimeout,
	}
	run, err := m.client.ExecuteWorkflow(ctx, opts, MaintenanceWorkflow, RunInput{RunID: runID})
	if err != nil {
		return RunResult{}, fmt.Errorf("maintenance: start workflow: %w", err)
	}
	var result RunResult
	if err := run.Get(ctx, &result); err != nil {
		return RunResult{}, fmt.Errorf("maintenance: workflow run: %w", err)
	}
	return result, nil
}

// Client exposes the Temporal client.
func (m *Manager) Client() client.Client {
	return m.client
}

// Stop gracefully stops the worker and closes the client.
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}
