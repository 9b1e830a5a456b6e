// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package agent

import (
	"fmt"
	"sort"
	"strings"

	"gateflow/pkg/types"
)

// Trigger sets for the optional roles. A change set tagged with any of these
// activates the role.
var (
	securityTriggers = []string{"auth", "network", "fs", "templates", "db", "crypto"}
	uxTriggers       = []string{"ui", "frontend", "ux", "accessibility"}
	debugTriggers    = []string{"bug", "regression", "flaky", "crash"}
)

// SecurityTriggers returns a copy of the security reviewer trigger set.
func SecurityTriggers() []string { return append([]string(nil), securityTriggers...) }

// UXTriggers returns a copy of the UX tester trigger set.
func UXTriggers() []string { return append([]string(nil), uxTriggers...) }

// DebugTriggers returns a copy of the debugger trigger set.
func DebugTriggers() []string { return append([]string(nil), debugTriggers...) }

// Policy decides whether conditional roles activate for a set of content tags.
// A Policy is immutable after construction; decisions depend only on the
// arguments.
type Policy struct {
	triggers map[types.AgentRole]map[string]struct{}
}

// DefaultPolicy returns the policy with the built-in trigger sets.
func DefaultPolicy() *Policy {
	return MustPolicy(map[types.AgentRole][]string{
		types.RoleSecurityReviewer: securityTriggers,
		types.RoleUXTester:         uxTriggers,
		types.RoleDebugger:         debugTriggers,
	})
}

// MustPolicy is NewPolicy for trigger sets known at compile time. It panics
// on an invalid set.
func MustPolicy(sets map[types.AgentRole][]string) *Policy {
	p, err := NewPolicy(sets)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy builds a policy from per-role trigger sets.
func NewPolicy(sets map[types.AgentRole][]string) (*Policy, error) {
	p := &Policy{triggers: make(map[types.AgentRole]map[string]struct{}, len(sets))}
	for role, tags := range sets {
		if !role.Valid() {
			return nil, fmt.Errorf("policy: unknown role %q", role)
		}
		if len(tags) == 0 {
			return nil, fmt.Errorf("policy: role %s has an empty trigger set", role)
		}
		p.triggers[role] = toSet(tags)
	}
	return p, nil
}

// IsConditional reports whether the policy declares a trigger set for role.
func (p *Policy) IsConditional(role types.AgentRole) bool {
	_, ok := p.triggers[role]
	return ok
}

// TriggerSet returns the declared triggers for role, sorted.
func (p *Policy) TriggerSet(role types.AgentRole) []string {
	set := p.triggers[role]
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// ShouldActivate reports whether role must activate for triggers. Roles
// without a declared trigger set never activate conditionally.
func (p *Policy) ShouldActivate(role types.AgentRole, triggers []string) bool {
	set, ok := p.triggers[role]
	if !ok {
		return false
	}
	return intersects(set, triggers)
}

// Resolve returns the roles to activate for reqs, in declaration order.
// Required roles always appear. A Conditional role appears when the policy
// (or, for roles the policy does not know, the requirement's own trigger
// list) matches triggers.
func (p *Policy) Resolve(reqs []Requirement, triggers []string) []types.AgentRole {
	out := make([]types.AgentRole, 0, len(reqs))
	seen := make(map[types.AgentRole]bool, len(reqs))
	for _, req := range reqs {
		var activate bool
		switch r := req.(type) {
		case Required:
			activate = true
		case Conditional:
			if p.IsConditional(r.Role) {
				activate = p.ShouldActivate(r.Role, triggers)
			} else {
				activate = intersects(toSet(r.Triggers), triggers)
			}
		}
		if activate && !seen[req.AgentRole()] {
			seen[req.AgentRole()] = true
			out = append(out, req.AgentRole())
		}
	}
	return out
}

func toSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if n := normalizeTag(tag); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func intersects(set map[string]struct{}, triggers []string) bool {
	for _, tag := range triggers {
		if _, ok := set[normalizeTag(tag)]; ok {
			return true
		}
	}
	return false
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
