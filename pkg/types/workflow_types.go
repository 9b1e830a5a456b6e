// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package types provides shared workflow types used across gateflow.
//
// This package contains core workflow types that are shared between the
// registries, the state machine, the coordinator and the persistence layer
// to break circular dependencies. Types here should be:
// - Pure data structures (no behavior beyond ordering and parsing)
// - Serializable for persistence and Temporal payloads
// - Stable and version-controlled
package types

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// PHASES
// ============================================================================

// Phase is a named stage in the fixed development workflow.
type Phase string

const (
	// PhaseIdle is the boundary phase before any work and after a reset.
	PhaseIdle Phase = "idle"

	// PhasePlanning captures requirements and the plan.
	PhasePlanning Phase = "planning"

	// PhaseTestGeneration writes the failing tests for the plan.
	PhaseTestGeneration Phase = "test_generation"

	// PhaseImplementation makes the failing tests pass.
	PhaseImplementation Phase = "implementation"

	// PhaseReview covers quality and, when triggered, security and UX review.
	PhaseReview Phase = "review"

	// PhaseDocumentation updates user and developer documentation.
	PhaseDocumentation Phase = "documentation"

	// PhaseRelease cuts the release.
	PhaseRelease Phase = "release"

	// PhaseCompleted is terminal. Only an explicit reset leaves it.
	PhaseCompleted Phase = "completed"
)

// phaseOrder is the strict total order of phases.
var phaseOrder = []Phase{
	PhaseIdle,
	PhasePlanning,
	PhaseTestGeneration,
	PhaseImplementation,
	PhaseReview,
	PhaseDocumentation,
	PhaseRelease,
	PhaseCompleted,
}

// Phases returns every phase in workflow order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// ProductivePhases returns the six phases that perform work.
func ProductivePhases() []Phase {
	out := make([]Phase, 0, len(phaseOrder)-2)
	for _, p := range phaseOrder {
		if p != PhaseIdle && p != PhaseCompleted {
			out = append(out, p)
		}
	}
	return out
}

// Index returns the position of the phase in the workflow order,
// or -1 for an unknown phase.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Terminal reports whether p is the terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	return string(p)
}

// Before reports whether p comes strictly before other in workflow order.
func (p Phase) Before(other Phase) bool {
	return p.Index() < other.Index()
}

// ParsePhase converts user input such as "test-generation", "TestGeneration"
// or "test_generation" into a Phase.
func ParsePhase(s string) (Phase, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	norm = strings.ReplaceAll(norm, " ", "_")
	switch norm {
	case "testgeneration", "tests", "test":
		norm = string(PhaseTestGeneration)
	case "impl":
		norm = string(PhaseImplementation)
	case "docs":
		norm = string(PhaseDocumentation)
	}
	p := Phase(norm)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// PhaseTransition is an immutable record of one successful phase move.
// The phase history of an instance is a write-once log of these records.
type PhaseTransition struct {
	// From is the phase the instance left.
	From Phase `json:"fromPhase"`

	// To is the phase the instance entered.
	To Phase `json:"toPhase"`

	// TransitionedAt is the wall-clock time of the move.
	TransitionedAt time.Time `json:"transitionedAt"`

	// PrerequisitesSatisfied lists the agent roles that were completed at
	// transition time, sorted.
	PrerequisitesSatisfied []string `json:"prerequisitesSatisfied"`
}

// Clone returns a deep copy of the transition.
func (t PhaseTransition) Clone() PhaseTransition {
	out := t
	if t.PrerequisitesSatisfied != nil {
		out.PrerequisitesSatisfied = append([]string(nil), t.PrerequisitesSatisfied...)
	}
	return out
}

// CloneHistory returns a deep copy of a phase history.
func CloneHistory(history []PhaseTransition) []PhaseTransition {
	if history == nil {
		return nil
	}
	out := make([]PhaseTransition, len(history))
	for i, t := range history {
		out[i] = t.Clone()
	}
	return out
}
