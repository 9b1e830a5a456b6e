// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gateflow/pkg/types"
)

// ErrActivation is matched by every *ActivationError.
var ErrActivation = errors.New("agent activation failed")

// ActivationError reports a role the registry could not activate.
type ActivationError struct {
	InstanceID string
	Role       types.AgentRole
	Reason     string
}

// Error implements the error interface.
func (e *ActivationError) Error() string {
	return fmt.Sprintf("agent %s could not be activated for instance %s: %s", e.Role, e.InstanceID, e.Reason)
}

// Is matches ErrActivation.
func (e *ActivationError) Is(target error) bool {
	return target == ErrActivation
}

// Registry tracks the activation state of every role for one workflow
// instance, plus the handoff history between roles.
type Registry struct {
	instanceID string
	logger     *slog.Logger
	now        func() time.Time
	disabled   map[types.AgentRole]bool
	states     map[types.AgentRole]types.AgentState
	handoffs   []types.HandoffRecord
	mu         sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDisabled marks roles that can never be activated in this registry.
func WithDisabled(roles ...types.AgentRole) Option {
	return func(r *Registry) {
		for _, role := range roles {
			r.disabled[role] = true
		}
	}
}

// NewRegistry creates a registry with every role idle.
func NewRegistry(instanceID string, opts ...Option) *Registry {
	r := &Registry{
		instanceID: instanceID,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		disabled:   make(map[types.AgentRole]bool),
		states:     make(map[types.AgentRole]types.AgentState),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.resetLocked()
	return r
}

func (r *Registry) resetLocked() {
	r.states = make(map[types.AgentRole]types.AgentState, len(types.Roles()))
	for _, role := range types.Roles() {
		r.states[role] = types.AgentState{Status: types.AgentIdle}
	}
	r.handoffs = nil
}

// Reset returns every role to idle and clears the handoff history.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	r.logger.Info("Agent registry reset", "instance", r.instanceID)
}

// CanActivate returns an *ActivationError if role can not be activated.
func (r *Registry) CanActivate(role types.AgentRole) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkLocked(role)
}

func (r *Registry) checkLocked(role types.AgentRole) error {
	if !role.Valid() {
		return &ActivationError{InstanceID: r.instanceID, Role: role, Reason: "unknown role"}
	}
	if r.disabled[role] {
		return &ActivationError{InstanceID: r.instanceID, Role: role, Reason: "role is disabled"}
	}
	return nil
}

// Activate marks role active with the given task. Activating an already
// active role refreshes LastTask and ActivatedAt.
func (r *Registry) Activate(role types.AgentRole, task string) (types.ActivationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activateLocked(role, task)
}

func (r *Registry) activateLocked(role types.AgentRole, task string) (types.ActivationRecord, error) {
	if err := r.checkLocked(role); err != nil {
		r.logger.Error("Agent activation failed",
			"instance", r.instanceID,
			"role", role,
			"error", err)
		return types.ActivationRecord{}, err
	}

	state := r.states[role]
	reactivated := state.Status == types.AgentActive
	now := r.now()

	state.Status = types.AgentActive
	state.ActivatedAt = now
	state.DeactivatedAt = time.Time{}
	state.LastTask = task
	state.ErrorDetail = ""
	r.states[role] = state

	if reactivated {
		r.logger.Info("Agent re-activated (updating task)",
			"instance", r.instanceID,
			"role", role,
			"task", task)
	} else {
		r.logger.Info("Agent activated",
			"instance", r.instanceID,
			"role", role,
			"task", task)
	}

	return types.ActivationRecord{
		Role:        role,
		Task:        task,
		ActivatedAt: now,
		Reactivated: reactivated,
	}, nil
}

// Complete moves an active role to completed. It is a no-op for roles in
// any other status.
func (r *Registry) Complete(role types.AgentRole) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeLocked(role)
}

func (r *Registry) completeLocked(role types.AgentRole) {
	state, ok := r.states[role]
	if !ok || state.Status != types.AgentActive {
		return
	}
	state.Status = types.AgentCompleted
	state.DeactivatedAt = r.now()
	r.states[role] = state
	r.logger.Debug("Agent completed", "instance", r.instanceID, "role", role)
}

// Fail moves role to error with detail. Failures never halt the registry.
func (r *Registry) Fail(role types.AgentRole, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[role]
	if !ok {
		return
	}
	state.Status = types.AgentError
	state.ErrorDetail = detail
	state.DeactivatedAt = r.now()
	r.states[role] = state
	r.logger.Warn("Agent failed",
		"instance", r.instanceID,
		"role", role,
		"detail", detail)
}

// Handoff completes from, activates to and appends the handoff to the
// history. The whole exchange is one critical section.
func (r *Registry) Handoff(from, to types.AgentRole, task string) (types.HandoffRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkLocked(to); err != nil {
		return types.HandoffRecord{}, err
	}

	r.completeLocked(from)
	activation, err := r.activateLocked(to, task)
	if err != nil {
		return types.HandoffRecord{}, err
	}

	at := activation.ActivatedAt
	if n := len(r.handoffs); n > 0 && at.Before(r.handoffs[n-1].At) {
		// Keep the history ordered even if the wall clock steps back.
		at = r.handoffs[n-1].At
	}

	rec := types.HandoffRecord{From: from, To: to, Context: task, At: at}
	r.handoffs = append(r.handoffs, rec)

	r.logger.Info("Agent handoff",
		"instance", r.instanceID,
		"from", from,
		"to", to,
		"handoffs", len(r.handoffs))

	return rec, nil
}

// Status returns the state of role.
func (r *Registry) Status(role types.AgentRole) (types.AgentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[role]
	return state, ok
}

// States returns a copy of every role's state.
func (r *Registry) States() map[types.AgentRole]types.AgentState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[types.AgentRole]types.AgentState, len(r.states))
	for role, state := range r.states {
		out[role] = state
	}
	return out
}

// Handoffs returns a copy of the handoff history in order.
func (r *Registry) Handoffs() []types.HandoffRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.HandoffRecord, len(r.handoffs))
	copy(out, r.handoffs)
	return out
}

// Completed returns the completed roles, sorted by name.
func (r *Registry) Completed() []types.AgentRole {
	return r.withStatus(types.AgentCompleted)
}

// Active returns the active roles, sorted by name.
func (r *Registry) Active() []types.AgentRole {
	return r.withStatus(types.AgentActive)
}

func (r *Registry) withStatus(status types.AgentStatus) []types.AgentRole {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.AgentRole
	for role, state := range r.states {
		if state.Status == status {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Restore replaces the registry contents with persisted state. Roles missing
// from states are reset to idle; unknown roles are rejected.
func (r *Registry) Restore(states map[types.AgentRole]types.AgentState, handoffs []types.HandoffRecord) error {
	for role, state := range states {
		if !role.Valid() {
			return fmt.Errorf("restore: unknown role %q", role)
		}
		if !state.Status.Valid() {
			return fmt.Errorf("restore: role %s has unknown status %q", role, state.Status)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()
	for role, state := range states {
		r.states[role] = state
	}
	r.handoffs = append([]types.HandoffRecord(nil), handoffs...)
	return nil
}
