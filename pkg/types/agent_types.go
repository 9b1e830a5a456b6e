// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package types

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// AGENT ROLES
// ============================================================================

// AgentRole is a logical responsibility label coordinated by the engine.
// Roles are markers, not processes.
type AgentRole string

const (
	RolePlanner          AgentRole = "planner"
	RoleDocsWriter       AgentRole = "docs-writer"
	RoleTestWriter       AgentRole = "test-writer"
	RoleImplementer      AgentRole = "implementer"
	RoleDebugger         AgentRole = "debugger"
	RoleQualityReviewer  AgentRole = "quality-reviewer"
	RoleSecurityReviewer AgentRole = "security-reviewer"
	RoleUXTester         AgentRole = "ux-tester"
	RoleReleaseManager   AgentRole = "release-manager"
)

var allRoles = []AgentRole{
	RolePlanner,
	RoleDocsWriter,
	RoleTestWriter,
	RoleImplementer,
	RoleDebugger,
	RoleQualityReviewer,
	RoleSecurityReviewer,
	RoleUXTester,
	RoleReleaseManager,
}

// Roles returns the closed set of agent roles.
func Roles() []AgentRole {
	out := make([]AgentRole, len(allRoles))
	copy(out, allRoles)
	return out
}

// Valid reports whether r belongs to the closed role set.
func (r AgentRole) Valid() bool {
	for _, candidate := range allRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (r AgentRole) String() string {
	return string(r)
}

// ParseRole converts "security_reviewer" or "Security-Reviewer" into a role.
func ParseRole(s string) (AgentRole, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "_", "-")
	r := AgentRole(norm)
	if !r.Valid() {
		return "", fmt.Errorf("unknown agent role %q", s)
	}
	return r, nil
}

// ============================================================================
// AGENT STATE
// ============================================================================

// AgentStatus is the lifecycle status of one role within an instance.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentActive    AgentStatus = "active"
	AgentCompleted AgentStatus = "completed"
	AgentError     AgentStatus = "error"
)

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentIdle, AgentActive, AgentCompleted, AgentError:
		return true
	}
	return false
}

// AgentState is the observable state of one role.
type AgentState struct {
	Status        AgentStatus `json:"status"`
	ActivatedAt   time.Time   `json:"activatedAt,omitempty"`
	DeactivatedAt time.Time   `json:"deactivatedAt,omitempty"`
	LastTask      string      `json:"lastTask,omitempty"`
	ErrorDetail   string      `json:"errorDetail,omitempty"`
}

// ActivationRecord is returned by an activation request.
type ActivationRecord struct {
	Role        AgentRole `json:"role"`
	Task        string    `json:"task"`
	ActivatedAt time.Time `json:"activatedAt"`
	// Reactivated is true when the role was already active.
	Reactivated bool `json:"reactivated"`
}

// HandoffRecord is the recorded transfer of active responsibility between roles.
type HandoffRecord struct {
	From    AgentRole `json:"from"`
	To      AgentRole `json:"to"`
	Context string    `json:"context,omitempty"`
	At      time.Time `json:"at"`
}
