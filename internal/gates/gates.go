// Package gates implements the blocking entry gates of the development workflow.
// A gate inspects a workflow instance and refuses phase entry until its
// precondition holds; every entry attempt is re-checked.
package gates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gateflow/pkg/types"
)

// GateType identifies which gate refused entry.
type GateType string

const (
	// GateImplementation refuses implementation until failing tests exist.
	GateImplementation GateType = "implementation_entry"
)

// ErrBlocked is matched by every *GateError.
var ErrBlocked = errors.New("phase entry blocked")

// GateError represents a refusal by a gate.
type GateError struct {
	Gate       GateType
	InstanceID string
	Phase      types.Phase
	// Requires names the phase that must be completed first.
	Requires  types.Phase
	Message   string
	Details   string
	Timestamp int64
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("[%s] instance %s: %s", e.Gate, e.InstanceID, e.Message)
}

// Is matches ErrBlocked.
func (e *GateError) Is(target error) bool {
	return target == ErrBlocked
}

// Subject is the read-only view of a workflow instance that gates inspect.
type Subject interface {
	InstanceID() string
	// FailingTests is the registered failing-test count.
	FailingTests() int
	// HasCompleted reports whether the phase appears in the phase history.
	HasCompleted(phase types.Phase) bool
}

// Gate is the interface for all entry gates.
type Gate interface {
	// Check verifies the gate condition. Returns nil if passed, *GateError if refused.
	Check(ctx context.Context, subject Subject) error

	// Type returns which gate this is.
	Type() GateType

	// Name returns human-readable name.
	Name() string

	// Guards returns the phase whose entry the gate protects.
	Guards() types.Phase
}

// GateChain manages sequential execution of gates.
type GateChain struct {
	gates []Gate
}

// NewGateChain creates a new gate chain.
func NewGateChain(gates ...Gate) *GateChain {
	return &GateChain{gates: gates}
}

// Execute runs all gates in sequence. Returns first failure, or nil if all pass.
func (gc *GateChain) Execute(ctx context.Context, subject Subject) error {
	for _, g := range gc.gates {
		if err := g.Check(ctx, subject); err != nil {
			return err
		}
	}
	return nil
}

// ForPhase runs only the gates guarding phase.
func (gc *GateChain) ForPhase(ctx context.Context, phase types.Phase, subject Subject) error {
	for _, g := range gc.gates {
		if g.Guards() != phase {
			continue
		}
		if err := g.Check(ctx, subject); err != nil {
			return err
		}
	}
	return nil
}

// Gates returns the gates in the chain.
func (gc *GateChain) Gates() []Gate {
	out := make([]Gate, len(gc.gates))
	copy(out, gc.gates)
	return out
}

// GateBuilder is a fluent builder for constructing gate chains.
type GateBuilder struct {
	gates []Gate
}

// NewGateBuilder creates a new gate builder.
func NewGateBuilder() *GateBuilder {
	return &GateBuilder{}
}

// Add adds a gate to the builder.
func (gb *GateBuilder) Add(g Gate) *GateBuilder {
	gb.gates = append(gb.gates, g)
	return gb
}

// Build returns a GateChain ready to execute.
func (gb *GateBuilder) Build() *GateChain {
	return NewGateChain(gb.gates...)
}

func refusal(g Gate, subject Subject, requires types.Phase, message, details string) *GateError {
	return &GateError{
		Gate:       g.Type(),
		InstanceID: subject.InstanceID(),
		Phase:      g.Guards(),
		Requires:   requires,
		Message:    message,
		Details:    details,
		Timestamp:  time.Now().Unix(),
	}
}
