// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"gateflow/internal/workflow"
	"gateflow/pkg/coordinator"
	"gateflow/pkg/types"
)

// Application error types reported by phase activities. They match the
// error kinds of the engine.
const (
	ErrTypeInvalidTransition = "InvalidTransition"
	ErrTypeBlocked           = "Blocked"
	ErrTypeAgentActivation   = "AgentActivationError"
	ErrTypeWorkFailure       = "WorkFailure"
	ErrTypePersistence       = "PersistenceError"
)

// WorkFactory returns the work run for a phase.
type WorkFactory func(phase types.Phase) func(ctx context.Context) (any, error)

// PhaseActivities drives the coordination engine from Temporal. The engine
// lives in the worker process; workflows only see ids and outcomes.
type PhaseActivities struct {
	Engine *coordinator.Engine
	Work   WorkFactory
	// HeartbeatInterval overrides DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
}

// PrepareInput selects the instance a workflow drives.
type PrepareInput struct {
	// InstanceID resumes an existing instance. Empty creates a new one.
	InstanceID string
}

// PrepareOutput is the instance a workflow will drive.
type PrepareOutput struct {
	InstanceID string
	Phase      types.Phase
}

// RunPhaseInput is the input of RunPhaseActivity.
type RunPhaseInput struct {
	InstanceID string
	Phase      types.Phase
	Triggers   []string
	Task       string
}

// PhaseOutcome summarizes a successful phase run.
type PhaseOutcome struct {
	Phase        types.Phase
	Activated    []types.AgentRole
	FailingTests int
	Closed       bool
	// Summary is a short description of the work result.
	Summary string
}

// PrepareActivity creates or resumes the instance.
func (a *PhaseActivities) PrepareActivity(ctx context.Context, in PrepareInput) (*PrepareOutput, error) {
	logger := activity.GetLogger(ctx)

	id := in.InstanceID
	if id == "" {
		created, err := a.Engine.Create(ctx)
		if err != nil {
			return nil, toApplicationError(err)
		}
		id = created
		logger.Info("Instance created", "instance", id)
	}

	st, err := a.Engine.Status(ctx, id)
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "NotFound", err)
		}
		return nil, toApplicationError(err)
	}
	return &PrepareOutput{InstanceID: id, Phase: st.Phase}, nil
}

// RunPhaseActivity runs one phase of an instance.
func (a *PhaseActivities) RunPhaseActivity(ctx context.Context, in RunPhaseInput) (*PhaseOutcome, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Running phase", "instance", in.InstanceID, "phase", in.Phase, "triggers", in.Triggers)
	activity.RecordHeartbeat(ctx, string(in.Phase))

	interval := a.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	stop := keepAlive(ctx, interval, func() {
		activity.RecordHeartbeat(ctx, string(in.Phase))
	})
	defer stop()

	var opts []coordinator.RunOption
	if in.Task != "" {
		opts = append(opts, coordinator.WithTask(in.Task))
	}

	res, err := a.Engine.Run(ctx, in.InstanceID, in.Phase, in.Triggers, a.Work(in.Phase), opts...)
	if err != nil && res == nil {
		logger.Warn("Phase run failed", "instance", in.InstanceID, "phase", in.Phase, "error", err)
		return nil, toApplicationError(err)
	}
	if err != nil {
		// The phase advanced but the snapshot write failed. The engine retries
		// the write on its next call; the workflow continues.
		logger.Error("Snapshot not saved", "instance", in.InstanceID, "error", err)
	}

	return &PhaseOutcome{
		Phase:        res.Phase,
		Activated:    res.Activated,
		FailingTests: res.FailingTests,
		Closed:       res.Closed != nil,
		Summary:      summarize(res.Result),
	}, nil
}

// keepAlive calls beat every interval until stop is called or ctx is done.
// Phase work can run far longer than the heartbeat timeout.
func keepAlive(ctx context.Context, interval time.Duration, beat func()) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				beat()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}

// ResetActivity returns the instance to idle.
func (a *PhaseActivities) ResetActivity(ctx context.Context, instanceID string) error {
	if err := a.Engine.Reset(ctx, instanceID); err != nil {
		return toApplicationError(err)
	}
	return nil
}

// toApplicationError maps engine errors onto Temporal application errors so
// workflows can branch on the error type.
func toApplicationError(err error) error {
	kind := workflow.Kind(err)
	msg := workflow.Describe(err)
	switch kind {
	case ErrTypeInvalidTransition, ErrTypeBlocked, ErrTypeAgentActivation:
		return temporal.NewNonRetryableApplicationError(msg, kind, err)
	case "":
		return err
	default:
		return temporal.NewApplicationErrorWithCause(msg, kind, err)
	}
}

type summarizer interface {
	Summary() string
}

func summarize(result any) string {
	switch r := result.(type) {
	case nil:
		return ""
	case summarizer:
		return r.Summary()
	case fmt.Stringer:
		return r.String()
	default:
		return fmt.Sprintf("%T", result)
	}
}
