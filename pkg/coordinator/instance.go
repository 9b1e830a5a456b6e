// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package coordinator

import (
	"fmt"
	"sync"
	"time"

	"gateflow/internal/gates"
	"gateflow/internal/store"
	"gateflow/internal/workflow"
	"gateflow/pkg/agent"
	"gateflow/pkg/types"
)

// Instance is one workflow run owned by the engine. All mutation happens
// under mu; callers outside the package only see snapshots.
type Instance struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	machine   *workflow.StateMachine
	agents    *agent.Registry
	tests     gates.TestCounter
	// savedAt is the SavedAt of the snapshot last written or loaded by this
	// engine. A stored snapshot with another value was written elsewhere.
	savedAt time.Time
	// dirty is set when the last snapshot write failed.
	dirty bool
}

// InstanceID implements gates.Subject.
func (i *Instance) InstanceID() string {
	return i.id
}

// FailingTests implements gates.Subject.
func (i *Instance) FailingTests() int {
	return i.tests.Count()
}

// HasCompleted implements gates.Subject.
func (i *Instance) HasCompleted(phase types.Phase) bool {
	return i.machine.HasCompleted(phase)
}

// record builds a deep-copied snapshot. Caller holds mu.
func (i *Instance) record(savedAt time.Time) *store.Record {
	return &store.Record{
		ID:           i.id,
		CurrentPhase: i.machine.CurrentState(),
		PhaseHistory: i.machine.History(),
		AgentStates:  i.agents.States(),
		Handoffs:     i.agents.Handoffs(),
		TestCounter:  i.tests.Count(),
		CreatedAt:    i.createdAt,
		SavedAt:      savedAt,
		Version:      store.Version,
	}
}

// restore loads rec into a freshly built instance.
func (i *Instance) restore(rec *store.Record) error {
	if err := i.machine.Restore(rec.CurrentPhase, rec.PhaseHistory); err != nil {
		return err
	}
	if err := i.agents.Restore(rec.AgentStates, rec.Handoffs); err != nil {
		return err
	}
	if err := i.tests.Restore(rec.TestCounter); err != nil {
		return err
	}
	i.createdAt = rec.CreatedAt
	i.savedAt = rec.SavedAt
	return nil
}

// Status is a read-only summary of an instance.
type Status struct {
	ID           string                               `json:"id"`
	Phase        types.Phase                          `json:"phase"`
	Terminal     bool                                 `json:"terminal"`
	Next         []types.Phase                        `json:"next"`
	FailingTests int                                  `json:"failingTests"`
	Transitions  int                                  `json:"transitions"`
	Agents       map[types.AgentRole]types.AgentState `json:"agents"`
	Active       []types.AgentRole                    `json:"active"`
	CreatedAt    time.Time                            `json:"createdAt"`
	// Unsaved is true while a failed snapshot write is waiting for retry.
	Unsaved bool `json:"unsaved"`
}

// String renders the status for terminal output.
func (s Status) String() string {
	return fmt.Sprintf("%s: phase=%s transitions=%d failing_tests=%d next=%v",
		s.ID, s.Phase, s.Transitions, s.FailingTests, s.Next)
}
