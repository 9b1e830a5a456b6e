package gates

import (
	"context"
	"fmt"
	"sync"

	"gateflow/pkg/types"
)

// DefaultMinFailingTests is the failing-test count implementation requires.
const DefaultMinFailingTests = 1

// TestCounter is the per-instance count of registered failing tests.
// Only the test-generation phase raises it; gates only read it.
type TestCounter struct {
	mu    sync.RWMutex
	count int
}

// Register adds n failing tests and returns the new total.
func (c *TestCounter) Register(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("cannot register a negative failing-test count (%d)", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count += n
	return c.count, nil
}

// Count returns the current total.
func (c *TestCounter) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Reset sets the count back to zero.
func (c *TestCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 0
}

// Restore sets the count from a persisted snapshot.
func (c *TestCounter) Restore(n int) error {
	if n < 0 {
		return fmt.Errorf("persisted failing-test count is negative (%d)", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = n
	return nil
}

// ImplementationGate blocks implementation until test generation has
// completed and registered at least MinFailingTests failing tests.
type ImplementationGate struct {
	minFailing int
}

// NewImplementationGate creates the gate. A non-positive minimum falls back
// to DefaultMinFailingTests so the gate can never be configured open.
func NewImplementationGate(minFailing int) *ImplementationGate {
	if minFailing < DefaultMinFailingTests {
		minFailing = DefaultMinFailingTests
	}
	return &ImplementationGate{minFailing: minFailing}
}

// Type returns the gate type.
func (g *ImplementationGate) Type() GateType {
	return GateImplementation
}

// Name returns the human-readable name.
func (g *ImplementationGate) Name() string {
	return "Failing Tests Before Implementation"
}

// Guards returns the implementation phase.
func (g *ImplementationGate) Guards() types.Phase {
	return types.PhaseImplementation
}

// MinFailingTests returns the configured minimum.
func (g *ImplementationGate) MinFailingTests() int {
	return g.minFailing
}

// Check refuses entry unless test generation is in the phase history and
// enough failing tests are registered.
func (g *ImplementationGate) Check(_ context.Context, subject Subject) error {
	if !subject.HasCompleted(types.PhaseTestGeneration) {
		return refusal(g, subject, types.PhaseTestGeneration,
			"test generation has not completed",
			"complete the test_generation phase before implementation")
	}

	if got := subject.FailingTests(); got < g.minFailing {
		return refusal(g, subject, types.PhaseTestGeneration,
			fmt.Sprintf("%d failing tests registered, %d required", got, g.minFailing),
			"register failing tests in the test_generation phase before implementation")
	}

	return nil
}
