// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package workflow

import (
	"fmt"
	"sort"
	"time"

	"gateflow/pkg/types"
)

// Logger is the key-value logger used by the state machine. *slog.Logger and
// the Temporal workflow logger both satisfy it.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// StateMachine is the phase-transition authority of one workflow instance.
// It is not safe for concurrent use; the owning engine serializes access.
type StateMachine struct {
	logger     Logger
	gates      *GateRegistry
	instanceID string
	now        func() time.Time
	current    types.Phase
	history    []types.PhaseTransition
}

// NewStateMachine creates a state machine at Idle.
func NewStateMachine(logger Logger, gates *GateRegistry, instanceID string) *StateMachine {
	return &StateMachine{
		logger:     logger,
		gates:      gates,
		instanceID: instanceID,
		now:        func() time.Time { return time.Now().UTC() },
		current:    types.PhaseIdle,
	}
}

// SetClock overrides the wall clock used for transition timestamps.
func (sm *StateMachine) SetClock(now func() time.Time) {
	if now != nil {
		sm.now = now
	}
}

// CurrentState returns the current phase.
func (sm *StateMachine) CurrentState() types.Phase {
	return sm.current
}

// IsTerminal returns true once the workflow reached Completed.
func (sm *StateMachine) IsTerminal() bool {
	return sm.current.Terminal()
}

// History returns a copy of the phase history.
func (sm *StateMachine) History() []types.PhaseTransition {
	return types.CloneHistory(sm.history)
}

// HasCompleted reports whether a successful run of phase is in the history.
func (sm *StateMachine) HasCompleted(phase types.Phase) bool {
	for _, t := range sm.history {
		if t.To == phase {
			return true
		}
	}
	return false
}

// CanTransitionTo checks if target is enterable from the current phase.
func (sm *StateMachine) CanTransitionTo(target types.Phase) bool {
	return sm.gates.CanEnter(sm.current, target)
}

// Check returns the *InvalidTransitionError Transition would return for
// target, or nil.
func (sm *StateMachine) Check(target types.Phase) error {
	if sm.CanTransitionTo(target) {
		return nil
	}
	required, _ := sm.gates.Prerequisite(target)
	return &InvalidTransitionError{
		InstanceID: sm.instanceID,
		From:       sm.current,
		Target:     target,
		Required:   required,
		Valid:      sm.gates.NextPhases(sm.current),
	}
}

// Transition moves to target and appends a record whose satisfied
// prerequisites are the roles completed at call time. On error the state is
// unchanged.
func (sm *StateMachine) Transition(target types.Phase, completed []types.AgentRole) (types.PhaseTransition, error) {
	if err := sm.Check(target); err != nil {
		sm.logger.Warn("State transition rejected",
			"instance", sm.instanceID,
			"from", sm.current,
			"to", target,
			"error", err)
		return types.PhaseTransition{}, err
	}

	satisfied := make([]string, 0, len(completed))
	for _, role := range completed {
		satisfied = append(satisfied, string(role))
	}
	sort.Strings(satisfied)

	at := sm.now()
	if n := len(sm.history); n > 0 && at.Before(sm.history[n-1].TransitionedAt) {
		at = sm.history[n-1].TransitionedAt
	}

	record := types.PhaseTransition{
		From:                   sm.current,
		To:                     target,
		TransitionedAt:         at,
		PrerequisitesSatisfied: satisfied,
	}

	sm.logger.Info("State Transition",
		"instance", sm.instanceID,
		"from", sm.current,
		"to", target,
		"satisfied", satisfied)

	sm.history = append(sm.history, record)
	sm.current = target

	return record.Clone(), nil
}

// Reset returns the machine to Idle, clearing the history. The cleared
// history is returned for auditing.
func (sm *StateMachine) Reset() []types.PhaseTransition {
	cleared := sm.history
	sm.logger.Info("State machine reset",
		"instance", sm.instanceID,
		"from", sm.current,
		"transitions", len(cleared))
	sm.current = types.PhaseIdle
	sm.history = nil
	return cleared
}

// Restore loads a persisted phase and history after checking the history is
// a consistent chain of allowed moves ending at current.
func (sm *StateMachine) Restore(current types.Phase, history []types.PhaseTransition) error {
	if !current.Valid() {
		return fmt.Errorf("restore: unknown phase %q", current)
	}

	phase := types.PhaseIdle
	for i, t := range history {
		if t.From != phase {
			return fmt.Errorf("restore: transition %d starts at %s, expected %s", i, t.From, phase)
		}
		if !sm.gates.CanEnter(t.From, t.To) {
			return fmt.Errorf("restore: transition %d from %s to %s is not allowed", i, t.From, t.To)
		}
		phase = t.To
	}
	if phase != current {
		return fmt.Errorf("restore: history ends at %s but current phase is %s", phase, current)
	}

	sm.current = current
	sm.history = types.CloneHistory(history)
	return nil
}

// StateMetrics summarizes the recorded history.
type StateMetrics struct {
	Transitions  int
	Visited      []types.Phase
	TimeInPhase  map[types.Phase]time.Duration
	CurrentSince time.Time
}

// GetMetrics returns execution metrics from the history.
func (sm *StateMachine) GetMetrics() StateMetrics {
	m := StateMetrics{
		Transitions: len(sm.history),
		TimeInPhase: make(map[types.Phase]time.Duration),
	}
	for i, t := range sm.history {
		m.Visited = append(m.Visited, t.To)
		if i > 0 {
			prev := sm.history[i-1]
			m.TimeInPhase[prev.To] += t.TransitionedAt.Sub(prev.TransitionedAt)
		}
	}
	if n := len(sm.history); n > 0 {
		m.CurrentSince = sm.history[n-1].TransitionedAt
	}
	return m
}
