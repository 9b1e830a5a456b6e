// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package agent

import (
	"gateflow/pkg/types"
)

// Requirement declares how a phase needs a role. The set of implementations
// is sealed: Required and Conditional are the only variants.
type Requirement interface {
	// AgentRole returns the role the requirement refers to.
	AgentRole() types.AgentRole

	requirement()
}

// Required is a role that activates on every run of its phase.
type Required struct {
	Role types.AgentRole
}

// AgentRole implements Requirement.
func (r Required) AgentRole() types.AgentRole { return r.Role }

func (Required) requirement() {}

// Conditional is a role that activates only when the caller's triggers
// intersect Triggers.
type Conditional struct {
	Role     types.AgentRole
	Triggers []string
}

// AgentRole implements Requirement.
func (c Conditional) AgentRole() types.AgentRole { return c.Role }

func (Conditional) requirement() {}

// Need is shorthand for Required{Role: role}.
func Need(role types.AgentRole) Requirement {
	return Required{Role: role}
}

// When is shorthand for a Conditional requirement.
func When(role types.AgentRole, triggers ...string) Requirement {
	return Conditional{Role: role, Triggers: triggers}
}
