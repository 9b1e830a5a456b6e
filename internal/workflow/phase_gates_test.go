package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/pkg/agent"
	"gateflow/pkg/types"
)

func TestGateRegistry_Order(t *testing.T) {
	r, err := NewGateRegistry()
	require.NoError(t, err)
	assert.Equal(t, types.Phases(), r.Order())
}

func TestGateRegistry_NoSelfEntry(t *testing.T) {
	r := MustGateRegistry()
	for _, p := range types.Phases() {
		assert.False(t, r.CanEnter(p, p), "phase %s must not be re-enterable", p)
	}
}

func TestGateRegistry_CanEnter(t *testing.T) {
	r := MustGateRegistry()

	tests := []struct {
		name    string
		current types.Phase
		target  types.Phase
		want    bool
	}{
		{"idle to planning", types.PhaseIdle, types.PhasePlanning, true},
		{"planning to test generation", types.PhasePlanning, types.PhaseTestGeneration, true},
		{"skip test generation", types.PhasePlanning, types.PhaseImplementation, false},
		{"backwards", types.PhaseReview, types.PhasePlanning, false},
		{"release to completed", types.PhaseRelease, types.PhaseCompleted, true},
		{"idle has no prerequisite", types.PhaseCompleted, types.PhaseIdle, false},
		{"unknown target", types.PhaseIdle, types.Phase("limbo"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.CanEnter(tt.current, tt.target))
		})
	}
}

func TestGateRegistry_NextPhases(t *testing.T) {
	r := MustGateRegistry()

	assert.Equal(t, []types.Phase{types.PhasePlanning}, r.NextPhases(types.PhaseIdle))
	assert.Equal(t, []types.Phase{types.PhaseReview}, r.NextPhases(types.PhaseImplementation))
	assert.Empty(t, r.NextPhases(types.PhaseCompleted))
}

func TestGateRegistry_Roles(t *testing.T) {
	r := MustGateRegistry()

	tests := []struct {
		phase   types.Phase
		roles   []types.AgentRole
		primary types.AgentRole
	}{
		{types.PhasePlanning, []types.AgentRole{types.RolePlanner, types.RoleDocsWriter}, types.RolePlanner},
		{types.PhaseTestGeneration, []types.AgentRole{types.RoleTestWriter}, types.RoleTestWriter},
		{types.PhaseImplementation, []types.AgentRole{types.RoleImplementer}, types.RoleImplementer},
		{types.PhaseReview, []types.AgentRole{types.RoleQualityReviewer}, types.RoleQualityReviewer},
		{types.PhaseDocumentation, []types.AgentRole{types.RoleDocsWriter}, types.RoleDocsWriter},
		{types.PhaseRelease, []types.AgentRole{types.RoleReleaseManager}, types.RoleReleaseManager},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			assert.Equal(t, tt.roles, r.Roles(tt.phase))
			primary, ok := r.PrimaryRole(tt.phase)
			require.True(t, ok)
			assert.Equal(t, tt.primary, primary)
		})
	}

	_, ok := r.PrimaryRole(types.PhaseIdle)
	assert.False(t, ok)
	_, ok = r.PrimaryRole(types.PhaseCompleted)
	assert.False(t, ok)
}

func TestGateRegistry_ReviewConditionalAgents(t *testing.T) {
	r := MustGateRegistry()

	var conditional []types.AgentRole
	for _, req := range r.RequiredAgents(types.PhaseReview) {
		if c, ok := req.(agent.Conditional); ok {
			conditional = append(conditional, c.Role)
		}
	}
	assert.Equal(t, []types.AgentRole{types.RoleSecurityReviewer, types.RoleUXTester}, conditional)
}

func TestGateRegistry_Prerequisite(t *testing.T) {
	r := MustGateRegistry()

	_, ok := r.Prerequisite(types.PhaseIdle)
	assert.False(t, ok)

	prereq, ok := r.Prerequisite(types.PhaseImplementation)
	require.True(t, ok)
	assert.Equal(t, types.PhaseTestGeneration, prereq)

	assert.NotEmpty(t, r.Conditions(types.PhaseImplementation))
}

func TestNewGateRegistry_RejectsBrokenTables(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]PhaseGate) []PhaseGate
	}{
		{
			name: "missing phase",
			mutate: func(g []PhaseGate) []PhaseGate {
				return g[:len(g)-1]
			},
		},
		{
			name: "duplicate phase",
			mutate: func(g []PhaseGate) []PhaseGate {
				return append(g, g[2])
			},
		},
		{
			name: "unknown role",
			mutate: func(g []PhaseGate) []PhaseGate {
				g[2].Agents = []agent.Requirement{agent.Need(types.AgentRole("oracle"))}
				return g
			},
		},
		{
			name: "cycle",
			mutate: func(g []PhaseGate) []PhaseGate {
				g[0].Prerequisite = types.PhaseCompleted
				g[0].HasPrerequisite = true
				return g
			},
		},
		{
			name: "out of order",
			mutate: func(g []PhaseGate) []PhaseGate {
				g[3].Prerequisite = types.PhasePlanning
				return g
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGateRegistry(tt.mutate(defaultPhaseGates()))
			assert.Error(t, err)
		})
	}
}
