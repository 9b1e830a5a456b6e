package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

// DefaultTaskQueue is the task queue used when none is configured.
const DefaultTaskQueue = "gateflow"

// WorkerOptions contains configuration for TemporalWorker.
type WorkerOptions struct {
	// HostPort is the Temporal frontend address (default: client.DefaultHostPort).
	HostPort string
	// TaskQueue is the task queue name for this worker.
	TaskQueue string
	// Namespace is the Temporal namespace (default: "default").
	Namespace string
	// MaxConcurrent is max concurrent activity and workflow task pollers (default: 10).
	MaxConcurrent int
	// Logger receives SDK logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// TemporalWorker manages Temporal client and worker lifecycle.
type TemporalWorker struct {
	client  client.Client
	worker  worker.Worker
	opts    WorkerOptions
	started bool
	mu      sync.RWMutex
}

// NewTemporalWorker creates a worker. The client connects lazily, on first
// use, so creation does not need a reachable server.
func NewTemporalWorker(ctx context.Context, opts WorkerOptions) (*TemporalWorker, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("task_queue is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}

	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c, err := client.NewLazyClient(client.Options{
		HostPort:  opts.HostPort,
		Namespace: opts.Namespace,
		Logger:    tlog.NewStructuredLogger(opts.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	w := worker.New(c, opts.TaskQueue, worker.Options{
		MaxConcurrentActivityTaskPollers: opts.MaxConcurrent,
		MaxConcurrentWorkflowTaskPollers: opts.MaxConcurrent,
	})

	return &TemporalWorker{
		client: c,
		worker: w,
		opts:   opts,
	}, nil
}

// Client returns the underlying Temporal client.
func (w *TemporalWorker) Client() client.Client {
	return w.client
}

// RegisterDevelopment registers DevelopmentWorkflow and the phase activities.
func (w *TemporalWorker) RegisterDevelopment(activities *PhaseActivities) {
	w.RegisterWorkflow(DevelopmentWorkflow)
	w.RegisterActivity(activities)
}

// Start begins the worker's execution loop.
// Idempotent: calling Start multiple times is safe.
func (w *TemporalWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}
	if w.worker == nil {
		return errors.New("worker not initialized")
	}

	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	w.started = true
	w.opts.Logger.Info("Temporal worker started",
		"task_queue", w.opts.TaskQueue,
		"namespace", w.opts.Namespace)
	return nil
}

// Stop gracefully shuts down the worker.
// Idempotent: calling Stop multiple times is safe.
func (w *TemporalWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}

	w.worker.Stop()
	w.started = false
	return nil
}

// RegisterActivity registers an activity function or struct with the worker.
func (w *TemporalWorker) RegisterActivity(activity interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.worker != nil {
		w.worker.RegisterActivity(activity)
	}
}

// RegisterWorkflow registers a workflow function with the worker.
func (w *TemporalWorker) RegisterWorkflow(workflow interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.worker != nil {
		w.worker.RegisterWorkflow(workflow)
	}
}

// Close stops the worker and closes the Temporal client connection.
func (w *TemporalWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		w.worker.Stop()
		w.started = false
	}
	if w.client != nil {
		w.client.Close()
	}
	return nil
}
