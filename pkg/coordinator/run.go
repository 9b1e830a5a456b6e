// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gateflow/internal/logger"
	"gateflow/internal/metrics"
	"gateflow/internal/telemetry"
	"gateflow/internal/workflow"
	"gateflow/pkg/types"
)

// Work is the caller-supplied body of a phase. The engine never inspects
// its result except to read failing-test counts after test generation.
type Work[R any] func(ctx context.Context) (R, error)

// FailingTestReporter is implemented by test generation results that carry
// a failing-test count. A plain int result is accepted as well.
type FailingTestReporter interface {
	FailingTestCount() int
}

// Work failure details recorded on the activated roles.
const (
	DetailCancelled = "cancelled"
	DetailTimeout   = "timeout"
)

// PhaseResult is the outcome of a successful phase run.
type PhaseResult[R any] struct {
	InstanceID string
	Phase      types.Phase
	// Activated lists the roles that ran the phase, required roles first.
	Activated  []types.AgentRole
	Transition types.PhaseTransition
	// Closed is the Release to Completed transition recorded when a release
	// run succeeds.
	Closed *types.PhaseTransition
	// FailingTests is the counter value after the run.
	FailingTests int
	Duration     time.Duration
	Result       R
}

type runOptions struct {
	timeout time.Duration
	task    string
}

// RunOption adjusts a single phase run.
type RunOption func(*runOptions)

// WithTimeout bounds this run's work, overriding the engine default.
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		o.timeout = d
	}
}

// WithTask sets the task text recorded on the activated roles.
func WithTask(task string) RunOption {
	return func(o *runOptions) {
		o.task = task
	}
}

// RunPhase moves instance id into target, running work as that phase.
//
// The checks run in order and each refusal leaves the instance untouched:
// the entry gates guarding target must pass, the transition must be allowed,
// and every resolved role must be activatable. Then the roles are activated and
// work runs. A failed, cancelled or timed out run marks the roles as errored
// and returns a *WorkFailureError with the phase unchanged. A successful run
// completes the roles, records the transition and saves a snapshot.
//
// When only the snapshot save fails, RunPhase returns the result together
// with a *PersistenceError; the in-memory state has advanced and the save is
// retried on the next call for the instance.
func RunPhase[R any](ctx context.Context, e *Engine, id string, target types.Phase, triggers []string, work Work[R], opts ...RunOption) (*PhaseResult[R], error) {
	ro := runOptions{timeout: e.workTimeout}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.task == "" {
		ro.task = fmt.Sprintf("%s phase", target)
	}

	inst, err := e.instance(ctx, id)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	e.retrySaveLocked(ctx, inst)
	if err := e.refreshLocked(ctx, inst); err != nil {
		return nil, err
	}

	from := inst.machine.CurrentState()
	ctx = logger.WithInstance(ctx, id)
	ctx, span := telemetry.StartPhase(ctx, id, from, target, triggers)
	defer span.End()

	fail := func(outcome string, err error) (*PhaseResult[R], error) {
		metrics.PhaseRuns.WithLabelValues(string(target), outcome).Inc()
		span.Failed(workflow.Kind(err), err)
		return nil, err
	}

	// 1. Entry gates guarding target.
	if err := e.chain.ForPhase(ctx, target, inst); err != nil {
		e.logger.Warn("Phase entry blocked",
			"instance", id,
			"phase", target,
			"failing_tests", inst.tests.Count(),
			"error", err)
		var blocked *workflow.BlockedError
		if errors.As(err, &blocked) {
			span.Blocked(string(blocked.Gate), inst.tests.Count())
		}
		return fail(metrics.OutcomeBlocked, err)
	}

	// 2. Transition allowed.
	if err := inst.machine.Check(target); err != nil {
		e.logger.Warn("Phase run rejected",
			"instance", id,
			"from", from,
			"to", target,
			"error", err)
		return fail(metrics.OutcomeInvalidTransition, err)
	}

	// 3. Every resolved role can be activated.
	roles := e.policy.Resolve(e.gates.RequiredAgents(target), triggers)
	for _, role := range roles {
		if err := inst.agents.CanActivate(role); err != nil {
			return fail(metrics.OutcomeActivationError, err)
		}
	}
	span.Activated(roles)

	// 4. Activate and run.
	if err := e.activateLocked(inst, from, target, roles, ro.task); err != nil {
		return fail(metrics.OutcomeActivationError, err)
	}

	start := e.now()
	res, detail, workErr := runWork(ctx, ro.timeout, work)
	elapsed := e.now().Sub(start)
	metrics.ObserveWork(string(target), elapsed)

	if workErr == nil && target == types.PhaseTestGeneration {
		workErr = e.registerFailingLocked(inst, res)
		if workErr != nil {
			detail = workErr.Error()
		}
	}

	if workErr != nil {
		for _, role := range roles {
			inst.agents.Fail(role, detail)
		}
		e.logger.Warn("Phase work failed",
			"instance", id,
			"phase", target,
			"detail", detail,
			"error", workErr)
		// The failed roles are part of the snapshot; a save failure here is
		// retried on the next call.
		_ = e.saveLocked(context.WithoutCancel(ctx), inst)
		return fail(metrics.OutcomeWorkFailure, &WorkFailureError{
			InstanceID: id,
			Phase:      target,
			Roles:      roles,
			Detail:     detail,
			Err:        workErr,
		})
	}

	// 5. Success.
	for _, role := range roles {
		inst.agents.Complete(role)
	}

	// The record lists every role completed so far, not only this run's.
	transition, err := inst.machine.Transition(target, inst.agents.Completed())
	if err != nil {
		// Check passed under the same lock, so this is unreachable.
		return fail(metrics.OutcomeInvalidTransition, err)
	}
	metrics.PhaseTransitions.WithLabelValues(string(from), string(target)).Inc()

	result := &PhaseResult[R]{
		InstanceID:   id,
		Phase:        target,
		Activated:    roles,
		Transition:   transition,
		FailingTests: inst.tests.Count(),
		Duration:     elapsed,
		Result:       res,
	}
	if target == types.PhaseRelease {
		closed, err := inst.machine.Transition(types.PhaseCompleted, inst.agents.Completed())
		if err != nil {
			return fail(metrics.OutcomeInvalidTransition, err)
		}
		metrics.PhaseTransitions.WithLabelValues(string(types.PhaseRelease), string(types.PhaseCompleted)).Inc()
		result.Closed = &closed
		e.logger.Info("Workflow completed", "instance", id)
	}

	metrics.PhaseRuns.WithLabelValues(string(target), metrics.OutcomeOK).Inc()
	span.Succeeded(elapsed, result.FailingTests)

	if err := e.saveLocked(ctx, inst); err != nil {
		span.SaveFailed(err)
		return result, err
	}
	return result, nil
}

// Run is RunPhase for callers that do not need a typed result.
func (e *Engine) Run(ctx context.Context, id string, target types.Phase, triggers []string, work Work[any], opts ...RunOption) (*PhaseResult[any], error) {
	return RunPhase(ctx, e, id, target, triggers, work, opts...)
}

// activateLocked activates roles for target. The phase's primary role
// receives a handoff from the previous phase's primary role when both
// exist. Caller holds inst.mu.
func (e *Engine) activateLocked(inst *Instance, from, target types.Phase, roles []types.AgentRole, task string) error {
	primary, hasPrimary := e.gates.PrimaryRole(target)
	previous, hasPrevious := e.gates.PrimaryRole(from)

	for _, role := range roles {
		var err error
		if hasPrimary && hasPrevious && role == primary {
			_, err = inst.agents.Handoff(previous, primary, task)
		} else {
			_, err = inst.agents.Activate(role, task)
		}
		if err != nil {
			return err
		}
		metrics.AgentActivations.WithLabelValues(string(role)).Inc()
	}
	return nil
}

// registerFailingLocked reads the failing-test count from a test generation
// result and adds it to the counter.
func (e *Engine) registerFailingLocked(inst *Instance, res any) error {
	n, found, err := failingCountOf(res)
	if err != nil {
		return err
	}
	if !found {
		e.logger.Warn("Test generation result carries no failing-test count",
			"instance", inst.id,
			"type", fmt.Sprintf("%T", res))
		return nil
	}

	total, err := inst.tests.Register(n)
	if err != nil {
		return err
	}
	e.logger.Info("Failing tests registered",
		"instance", inst.id,
		"added", n,
		"total", total)
	return nil
}

// failingCountOf extracts the failing-test count from res. The count method
// is caller code and runs on the engine goroutine with the instance locked,
// so a panic in it is returned as an error.
func failingCountOf(res any) (n int, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, found, err = 0, false, fmt.Errorf("failing test count panicked: %v", r)
		}
	}()
	switch v := res.(type) {
	case FailingTestReporter:
		return v.FailingTestCount(), true, nil
	case int:
		return v, true, nil
	}
	return 0, false, nil
}

type outcome[R any] struct {
	res R
	err error
}

// runWork runs work in its own goroutine and waits for it or for ctx. The
// returned detail is "cancelled", "timeout" or the error text.
func runWork[R any](ctx context.Context, timeout time.Duration, work Work[R]) (R, string, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan outcome[R], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero R
				done <- outcome[R]{res: zero, err: fmt.Errorf("work panicked: %v", r)}
			}
		}()
		res, err := work(ctx)
		done <- outcome[R]{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, detailFor(out.err), out.err
	case <-ctx.Done():
		// Prefer a result that arrived together with the deadline.
		select {
		case out := <-done:
			return out.res, detailFor(out.err), out.err
		default:
		}
		var zero R
		return zero, detailFor(ctx.Err()), ctx.Err()
	}
}

func detailFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return DetailTimeout
	case errors.Is(err, context.Canceled):
		return DetailCancelled
	default:
		return err.Error()
	}
}
