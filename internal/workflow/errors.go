// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package workflow

import (
	"errors"
	"fmt"
	"strings"

	"gateflow/internal/gates"
	"gateflow/pkg/agent"
	"gateflow/pkg/types"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrBlocked           = gates.ErrBlocked
	ErrAgentActivation   = agent.ErrActivation
	ErrWorkFailure       = errors.New("phase work failed")
	ErrPersistence       = errors.New("workflow state persistence failed")
)

// BlockedError is an entry gate refusal.
type BlockedError = gates.GateError

// AgentActivationError is a required role that could not be activated.
type AgentActivationError = agent.ActivationError

// InvalidTransitionError reports a phase move the gate table does not allow.
type InvalidTransitionError struct {
	InstanceID string
	From       types.Phase
	Target     types.Phase
	// Required is the phase that must be current to enter Target. Empty when
	// Target has no prerequisite (Idle) or is unknown.
	Required types.Phase
	// Valid lists the phases reachable from From.
	Valid []types.Phase
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	switch {
	case e.From == e.Target:
		return fmt.Sprintf("instance %s is already in phase %s", e.InstanceID, e.Target)
	case e.Required != "":
		return fmt.Sprintf("instance %s cannot move from %s to %s: requires %s", e.InstanceID, e.From, e.Target, e.Required)
	default:
		return fmt.Sprintf("instance %s cannot move from %s to %s", e.InstanceID, e.From, e.Target)
	}
}

// Is matches ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// WorkFailureError wraps a failure of the caller-supplied phase work. The
// phase is unchanged; activated roles were marked error with Detail.
type WorkFailureError struct {
	InstanceID string
	Phase      types.Phase
	Roles      []types.AgentRole
	Detail     string
	Err        error
}

// Error implements the error interface.
func (e *WorkFailureError) Error() string {
	return fmt.Sprintf("instance %s: %s work failed (%s): %v", e.InstanceID, e.Phase, e.Detail, e.Err)
}

// Unwrap returns the underlying cause.
func (e *WorkFailureError) Unwrap() error {
	return e.Err
}

// Is matches ErrWorkFailure.
func (e *WorkFailureError) Is(target error) bool {
	return target == ErrWorkFailure
}

// PersistenceError reports a snapshot or restore failure. In-memory state is
// not affected by it.
type PersistenceError struct {
	InstanceID string
	Op         string
	Err        error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("instance %s: %s state: %v", e.InstanceID, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Kind names the error category of err, or "" for foreign errors.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrBlocked):
		return "Blocked"
	case errors.Is(err, ErrAgentActivation):
		return "AgentActivationError"
	case errors.Is(err, ErrWorkFailure):
		return "WorkFailure"
	case errors.Is(err, ErrPersistence):
		return "PersistenceError"
	}
	return ""
}

// Describe renders err as the one-line operator message: the error kind
// followed by what to do about it.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var (
		invalid *InvalidTransitionError
		blocked *BlockedError
		work    *WorkFailureError
	)

	switch {
	case errors.As(err, &invalid):
		msg := fmt.Sprintf("InvalidTransition: cannot enter %s from %s", invalid.Target, invalid.From)
		if invalid.Required != "" && invalid.Required != invalid.From {
			msg += fmt.Sprintf("; complete %s first", invalid.Required)
		}
		if len(invalid.Valid) > 0 {
			msg += fmt.Sprintf(" (next: %s)", joinPhases(invalid.Valid))
		}
		return msg
	case errors.As(err, &blocked):
		return fmt.Sprintf("Blocked: %s; complete %s first", blocked.Message, blocked.Requires)
	case errors.As(err, &work):
		return fmt.Sprintf("WorkFailure: %s work failed: %v", work.Phase, work.Err)
	}

	if kind := Kind(err); kind != "" {
		return fmt.Sprintf("%s: %v", kind, err)
	}
	return err.Error()
}

func joinPhases(phases []types.Phase) string {
	parts := make([]string, len(phases))
	for i, p := range phases {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
