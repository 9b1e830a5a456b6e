// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package temporal

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	wf "gateflow/internal/workflow"
	"gateflow/pkg/types"
)

// Signal and query names of DevelopmentWorkflow.
const (
	// SignalRetryPhase resumes a workflow waiting on a failed phase.
	SignalRetryPhase = "RetryPhase"
	// SignalCancel stops the workflow before its next phase.
	SignalCancel = "Cancel"
	// QueryProgress returns the DevelopmentWorkflowOutput so far.
	QueryProgress = "Progress"
)

// DevelopmentWorkflowInput configures a DevelopmentWorkflow run.
type DevelopmentWorkflowInput struct {
	// InstanceID resumes an existing instance. Empty creates one.
	InstanceID string
	// StopAfter ends the run after this phase. Empty runs through release.
	StopAfter types.Phase
	// Triggers are the content tags of each phase's change set.
	Triggers map[types.Phase][]string
	// PhaseTimeout bounds each phase activity.
	PhaseTimeout time.Duration
	// MaxAttempts caps runs of one phase, counting signalled retries.
	// Zero means unlimited.
	MaxAttempts int
}

// DevelopmentWorkflowOutput reports the phases run by a DevelopmentWorkflow.
type DevelopmentWorkflowOutput struct {
	InstanceID string
	Phase      types.Phase
	Outcomes   []PhaseOutcome
	Cancelled  bool
	// CancelReason is the payload of the cancel signal.
	CancelReason string
}

// PhaseSequence returns the productive phases after from, in gate order,
// ending at stopAfter when it is set.
func PhaseSequence(gates *wf.GateRegistry, from, stopAfter types.Phase) ([]types.Phase, error) {
	if stopAfter != "" && !stopAfter.Valid() {
		return nil, fmt.Errorf("unknown phase %q", stopAfter)
	}
	var out []types.Phase
	for _, p := range gates.Order() {
		if p == types.PhaseIdle || p == types.PhaseCompleted || !from.Before(p) {
			continue
		}
		if stopAfter != "" && stopAfter.Before(p) {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

// DevelopmentWorkflow drives one instance through the phase sequence. A
// failed phase waits for a RetryPhase or Cancel signal; a refused phase
// (invalid transition, blocked gate, disabled role) ends the workflow with
// that error.
func DevelopmentWorkflow(ctx workflow.Context, input DevelopmentWorkflowInput) (*DevelopmentWorkflowOutput, error) {
	logger := workflow.GetLogger(ctx)
	out := &DevelopmentWorkflowOutput{InstanceID: input.InstanceID}

	if err := workflow.SetQueryHandler(ctx, QueryProgress, func() (*DevelopmentWorkflowOutput, error) {
		return out, nil
	}); err != nil {
		return nil, fmt.Errorf("register progress query: %w", err)
	}

	var a *PhaseActivities

	var prepared PrepareOutput
	bookCtx := WithBookkeepingOptions(ctx)
	if err := workflow.ExecuteActivity(bookCtx, a.PrepareActivity, PrepareInput{InstanceID: input.InstanceID}).Get(ctx, &prepared); err != nil {
		return nil, err
	}
	out.InstanceID = prepared.InstanceID
	out.Phase = prepared.Phase

	phases, err := PhaseSequence(wf.MustGateRegistry(), prepared.Phase, input.StopAfter)
	if err != nil {
		return out, temporal.NewNonRetryableApplicationError(err.Error(), "BadInput", err)
	}
	logger.Info("Starting development workflow",
		"instance", out.InstanceID,
		"from", prepared.Phase,
		"phases", phases)

	retryCh := workflow.GetSignalChannel(ctx, SignalRetryPhase)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)
	phaseCtx := WithPhaseOptions(ctx, input.PhaseTimeout)

	for i, attempt := 0, 1; i < len(phases); {
		if cancelCh.ReceiveAsync(&out.CancelReason) {
			out.Cancelled = true
			break
		}

		phase := phases[i]
		var outcome PhaseOutcome
		err := workflow.ExecuteActivity(phaseCtx, a.RunPhaseActivity, RunPhaseInput{
			InstanceID: out.InstanceID,
			Phase:      phase,
			Triggers:   input.Triggers[phase],
			Task:       fmt.Sprintf("%s (attempt %d)", phase, attempt),
		}).Get(ctx, &outcome)

		if err == nil {
			logger.Info("Phase completed", "phase", phase, "attempt", attempt)
			out.Outcomes = append(out.Outcomes, outcome)
			out.Phase = phase
			if outcome.Closed {
				out.Phase = types.PhaseCompleted
			}
			i, attempt = i+1, 1
			continue
		}

		if errorType(err) != ErrTypeWorkFailure {
			logger.Error("Phase refused", "phase", phase, "error", err)
			return out, err
		}
		if input.MaxAttempts > 0 && attempt >= input.MaxAttempts {
			logger.Error("Phase attempts exhausted", "phase", phase, "attempts", attempt)
			return out, err
		}

		logger.Warn("Phase failed, waiting for signal", "phase", phase, "attempt", attempt, "error", err)

		selector := workflow.NewSelector(ctx)
		selector.AddReceive(retryCh, func(c workflow.ReceiveChannel, _ bool) {
			var note string
			c.Receive(ctx, &note)
			logger.Info("Retry signal received", "phase", phase, "note", note)
			attempt++
		})
		selector.AddReceive(cancelCh, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, &out.CancelReason)
			out.Cancelled = true
		})
		selector.Select(ctx)

		if out.Cancelled {
			break
		}
	}

	if out.Cancelled {
		logger.Info("Development workflow cancelled",
			"instance", out.InstanceID,
			"phase", out.Phase,
			"reason", out.CancelReason)
	}
	return out, nil
}

// errorType returns the application error type carried by an activity error.
func errorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
