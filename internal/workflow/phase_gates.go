// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package workflow

import (
	"fmt"

	"github.com/gammazero/toposort"

	"gateflow/pkg/agent"
	"gateflow/pkg/types"
)

// PhaseGate is one row of the gate table.
type PhaseGate struct {
	Phase types.Phase
	// Prerequisite must be the current phase to enter Phase. HasPrerequisite
	// is false only for Idle.
	Prerequisite    types.Phase
	HasPrerequisite bool
	Agents          []agent.Requirement
	// Conditions describe what must hold before entry, for operators.
	Conditions []string
}

// defaultPhaseGates is the fixed gate table: six productive phases plus the
// Idle and Completed boundaries.
func defaultPhaseGates() []PhaseGate {
	return []PhaseGate{
		{
			Phase: types.PhaseIdle,
		},
		{
			Phase:           types.PhasePlanning,
			Prerequisite:    types.PhaseIdle,
			HasPrerequisite: true,
			Agents: []agent.Requirement{
				agent.Need(types.RolePlanner),
				agent.Need(types.RoleDocsWriter),
			},
		},
		{
			Phase:           types.PhaseTestGeneration,
			Prerequisite:    types.PhasePlanning,
			HasPrerequisite: true,
			Agents:          []agent.Requirement{agent.Need(types.RoleTestWriter)},
			Conditions:      []string{"requirements recorded in planning"},
		},
		{
			Phase:           types.PhaseImplementation,
			Prerequisite:    types.PhaseTestGeneration,
			HasPrerequisite: true,
			Agents: []agent.Requirement{
				agent.Need(types.RoleImplementer),
				agent.When(types.RoleDebugger, agent.DebugTriggers()...),
			},
			Conditions: []string{"failing tests registered in test_generation"},
		},
		{
			Phase:           types.PhaseReview,
			Prerequisite:    types.PhaseImplementation,
			HasPrerequisite: true,
			Agents: []agent.Requirement{
				agent.Need(types.RoleQualityReviewer),
				agent.When(types.RoleSecurityReviewer, agent.SecurityTriggers()...),
				agent.When(types.RoleUXTester, agent.UXTriggers()...),
			},
			Conditions: []string{"implementation complete"},
		},
		{
			Phase:           types.PhaseDocumentation,
			Prerequisite:    types.PhaseReview,
			HasPrerequisite: true,
			Agents:          []agent.Requirement{agent.Need(types.RoleDocsWriter)},
			Conditions:      []string{"review passed"},
		},
		{
			Phase:           types.PhaseRelease,
			Prerequisite:    types.PhaseDocumentation,
			HasPrerequisite: true,
			Agents:          []agent.Requirement{agent.Need(types.RoleReleaseManager)},
			Conditions:      []string{"documentation updated"},
		},
		{
			Phase:           types.PhaseCompleted,
			Prerequisite:    types.PhaseRelease,
			HasPrerequisite: true,
		},
	}
}

// GateRegistry is the static phase gate table. It has no mutable state;
// every method is a pure lookup.
type GateRegistry struct {
	gates map[types.Phase]PhaseGate
	order []types.Phase
}

// NewGateRegistry builds the registry from the fixed table and verifies the
// prerequisite chain sorts into the phase order.
func NewGateRegistry() (*GateRegistry, error) {
	return newGateRegistry(defaultPhaseGates())
}

// MustGateRegistry is NewGateRegistry for package-level setup.
func MustGateRegistry() *GateRegistry {
	r, err := NewGateRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

func newGateRegistry(table []PhaseGate) (*GateRegistry, error) {
	gates := make(map[types.Phase]PhaseGate, len(table))
	edges := make([]toposort.Edge, 0, len(table))

	for _, g := range table {
		if !g.Phase.Valid() {
			return nil, fmt.Errorf("gate table: unknown phase %q", g.Phase)
		}
		if _, dup := gates[g.Phase]; dup {
			return nil, fmt.Errorf("gate table: duplicate phase %s", g.Phase)
		}
		for _, req := range g.Agents {
			if !req.AgentRole().Valid() {
				return nil, fmt.Errorf("gate table: phase %s requires unknown role %q", g.Phase, req.AgentRole())
			}
		}
		gates[g.Phase] = g
		if g.HasPrerequisite {
			edges = append(edges, toposort.Edge{string(g.Prerequisite), string(g.Phase)})
		}
	}

	for _, p := range types.Phases() {
		if _, ok := gates[p]; !ok {
			return nil, fmt.Errorf("gate table: phase %s has no entry", p)
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("gate table: cycle in prerequisites: %w", err)
	}

	order := make([]types.Phase, 0, len(sorted))
	for _, node := range sorted {
		order = append(order, types.Phase(node.(string)))
	}

	want := types.Phases()
	if len(order) != len(want) {
		return nil, fmt.Errorf("gate table: prerequisite chain covers %d of %d phases", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			return nil, fmt.Errorf("gate table: prerequisites order %s at position %d, expected %s", order[i], i, want[i])
		}
		if i > 0 && gates[want[i]].Prerequisite != want[i-1] {
			return nil, fmt.Errorf("gate table: %s must require %s", want[i], want[i-1])
		}
	}

	return &GateRegistry{gates: gates, order: order}, nil
}

// Gate returns the table row for phase.
func (r *GateRegistry) Gate(phase types.Phase) (PhaseGate, bool) {
	g, ok := r.gates[phase]
	return g, ok
}

// Order returns the phases in prerequisite order.
func (r *GateRegistry) Order() []types.Phase {
	out := make([]types.Phase, len(r.order))
	copy(out, r.order)
	return out
}

// RequiredAgents returns every requirement declared for phase, required and
// conditional.
func (r *GateRegistry) RequiredAgents(phase types.Phase) []agent.Requirement {
	g := r.gates[phase]
	out := make([]agent.Requirement, len(g.Agents))
	copy(out, g.Agents)
	return out
}

// Roles returns the unconditionally required roles of phase.
func (r *GateRegistry) Roles(phase types.Phase) []types.AgentRole {
	var out []types.AgentRole
	for _, req := range r.gates[phase].Agents {
		if _, ok := req.(agent.Required); ok {
			out = append(out, req.AgentRole())
		}
	}
	return out
}

// PrimaryRole returns the first required role of phase. It is the role that
// receives the handoff when the phase starts.
func (r *GateRegistry) PrimaryRole(phase types.Phase) (types.AgentRole, bool) {
	roles := r.Roles(phase)
	if len(roles) == 0 {
		return "", false
	}
	return roles[0], true
}

// Prerequisite returns the phase that must be current to enter phase.
func (r *GateRegistry) Prerequisite(phase types.Phase) (types.Phase, bool) {
	g, ok := r.gates[phase]
	if !ok || !g.HasPrerequisite {
		return "", false
	}
	return g.Prerequisite, true
}

// Conditions returns the blocking conditions of phase.
func (r *GateRegistry) Conditions(phase types.Phase) []string {
	return append([]string(nil), r.gates[phase].Conditions...)
}

// CanEnter reports whether target may be entered from current. Only a
// single-step advance along the prerequisite chain is allowed; re-entering
// the current phase is not.
func (r *GateRegistry) CanEnter(current, target types.Phase) bool {
	if current == target {
		return false
	}
	prereq, ok := r.Prerequisite(target)
	return ok && prereq == current
}

// NextPhases returns the phases enterable from current.
func (r *GateRegistry) NextPhases(current types.Phase) []types.Phase {
	var out []types.Phase
	for _, p := range r.order {
		if r.CanEnter(current, p) {
			out = append(out, p)
		}
	}
	return out
}
