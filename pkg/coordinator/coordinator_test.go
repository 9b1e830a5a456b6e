// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/config"
	"gateflow/internal/store"
	"gateflow/pkg/types"
)

// flakyStore is a memory store whose writes can be made to fail.
type flakyStore struct {
	*store.Memory
	fail  atomic.Bool
	saves atomic.Int32
}

func (f *flakyStore) Save(ctx context.Context, r *store.Record) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	f.saves.Add(1)
	return f.Memory.Save(ctx, r)
}

func (f *flakyStore) Archive(ctx context.Context, r *store.Record) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Memory.Archive(ctx, r)
}

// report is a test generation result.
type report struct{ failing int }

func (r report) FailingTestCount() int { return r.failing }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithLogger(quietLogger()), WithClock(stepClock())}
	return New(append(base, opts...)...)
}

func newInstance(t *testing.T, e *Engine) string {
	t.Helper()
	id, err := e.Create(context.Background())
	require.NoError(t, err)
	return id
}

func ok(context.Context) (any, error) { return "done", nil }

// walk runs the phases after the current one up to and including target.
// Test generation registers three failing tests.
func walk(t *testing.T, e *Engine, id string, target types.Phase) {
	t.Helper()
	ctx := context.Background()
	for _, p := range types.ProductivePhases() {
		st, err := e.Status(ctx, id)
		require.NoError(t, err)
		if !st.Phase.Before(p) {
			continue
		}
		var runErr error
		if p == types.PhaseTestGeneration {
			_, runErr = RunPhase(ctx, e, id, p, nil, func(context.Context) (int, error) { return 3, nil })
		} else {
			_, runErr = e.Run(ctx, id, p, nil, ok)
		}
		require.NoError(t, runErr, "run %s", p)
		if p == target {
			return
		}
	}
}

func TestScenarioA_PlanningFromIdle(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)

	res, err := RunPhase(context.Background(), e, id, types.PhasePlanning, nil,
		func(context.Context) (string, error) { return "requirements", nil })
	require.NoError(t, err)

	assert.Equal(t, "requirements", res.Result)
	assert.Equal(t, []types.AgentRole{types.RolePlanner, types.RoleDocsWriter}, res.Activated)
	assert.Equal(t, types.PhaseIdle, res.Transition.From)
	assert.Equal(t, types.PhasePlanning, res.Transition.To)
	assert.Equal(t, []string{"docs-writer", "planner"}, res.Transition.PrerequisitesSatisfied)
	assert.Nil(t, res.Closed)

	st, err := e.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.PhasePlanning, st.Phase)
	assert.Equal(t, types.AgentCompleted, st.Agents[types.RolePlanner].Status)
	assert.Equal(t, types.AgentCompleted, st.Agents[types.RoleDocsWriter].Status)
	assert.Equal(t, []types.Phase{types.PhaseTestGeneration}, st.Next)
}

func TestScenarioB_ImplementationWithoutTestGeneration(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	walk(t, e, id, types.PhasePlanning)

	called := false
	_, err := e.Run(context.Background(), id, types.PhaseImplementation, nil, func(context.Context) (any, error) {
		called = true
		return nil, nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, types.PhaseTestGeneration, blocked.Requires)
	assert.False(t, called, "work must not run when blocked")

	st, err := e.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.PhasePlanning, st.Phase)
	assert.Equal(t, types.AgentIdle, st.Agents[types.RoleImplementer].Status)
}

func TestScenarioC_FailingTestsOpenImplementation(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	walk(t, e, id, types.PhasePlanning)
	ctx := context.Background()

	gen, err := RunPhase(ctx, e, id, types.PhaseTestGeneration, nil,
		func(context.Context) (report, error) { return report{failing: 3}, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, gen.FailingTests)

	impl, err := e.Run(ctx, id, types.PhaseImplementation, nil, ok)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseImplementation, impl.Transition.To)

	snap, err := e.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TestCounter)
	assert.Equal(t, types.PhaseImplementation, snap.CurrentPhase)
}

func TestScenarioD_ConditionalSecurityReview(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		triggers []string
		want     []types.AgentRole
	}{
		{
			name:     "sensitive change",
			triggers: []string{"auth", "db"},
			want:     []types.AgentRole{types.RoleQualityReviewer, types.RoleSecurityReviewer},
		},
		{
			name: "plain change",
			want: []types.AgentRole{types.RoleQualityReviewer},
		},
		{
			name:     "frontend change",
			triggers: []string{"UI"},
			want:     []types.AgentRole{types.RoleQualityReviewer, types.RoleUXTester},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			id := newInstance(t, e)
			walk(t, e, id, types.PhaseImplementation)

			res, err := e.Run(ctx, id, types.PhaseReview, tt.triggers, ok)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Activated)

			st, err := e.Status(ctx, id)
			require.NoError(t, err)
			for _, role := range tt.want {
				assert.Equal(t, types.AgentCompleted, st.Agents[role].Status, role)
			}
			if len(tt.want) == 1 {
				assert.Equal(t, types.AgentIdle, st.Agents[types.RoleSecurityReviewer].Status)
			}
		})
	}
}

func TestScenarioE_CancellationDuringImplementation(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	walk(t, e, id, types.PhaseTestGeneration)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, err := e.Run(ctx, id, types.PhaseImplementation, nil, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkFailure)
	assert.ErrorIs(t, err, context.Canceled)
	var wf *WorkFailureError
	require.True(t, errors.As(err, &wf))
	assert.Equal(t, DetailCancelled, wf.Detail)

	st, err := e.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseTestGeneration, st.Phase)
	assert.Equal(t, types.AgentError, st.Agents[types.RoleImplementer].Status)
	assert.Equal(t, DetailCancelled, st.Agents[types.RoleImplementer].ErrorDetail)

	// The instance stays resumable.
	_, err = e.Run(context.Background(), id, types.PhaseImplementation, nil, ok)
	assert.NoError(t, err)
}

func TestRunPhase_Timeout(t *testing.T) {
	e := newEngine(t, WithWorkTimeout(time.Hour))
	id := newInstance(t, e)

	release := make(chan struct{})
	defer close(release)

	_, err := e.Run(context.Background(), id, types.PhasePlanning, nil, func(context.Context) (any, error) {
		<-release
		return nil, nil
	}, WithTimeout(20*time.Millisecond))

	var wf *WorkFailureError
	require.True(t, errors.As(err, &wf))
	assert.Equal(t, DetailTimeout, wf.Detail)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	st, err := e.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseIdle, st.Phase)
	assert.Equal(t, DetailTimeout, st.Agents[types.RolePlanner].ErrorDetail)
}

func TestRunPhase_WorkErrorAndPanic(t *testing.T) {
	tests := []struct {
		name   string
		work   Work[any]
		detail string
	}{
		{
			name:   "error",
			work:   func(context.Context) (any, error) { return nil, errors.New("linter crashed") },
			detail: "linter crashed",
		},
		{
			name:   "panic",
			work:   func(context.Context) (any, error) { panic("nil map") },
			detail: "work panicked: nil map",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			id := newInstance(t, e)

			_, err := e.Run(context.Background(), id, types.PhasePlanning, nil, tt.work, WithTask("draft plan"))
			var wf *WorkFailureError
			require.True(t, errors.As(err, &wf))
			assert.Equal(t, tt.detail, wf.Detail)
			assert.Equal(t, []types.AgentRole{types.RolePlanner, types.RoleDocsWriter}, wf.Roles)

			st, err := e.Status(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, types.PhaseIdle, st.Phase)
			assert.Equal(t, types.AgentError, st.Agents[types.RolePlanner].Status)
			assert.Equal(t, "draft plan", st.Agents[types.RolePlanner].LastTask)
			assert.Zero(t, st.Transitions)
		})
	}
}

func TestRunPhase_InvalidTransitions(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	walk(t, e, id, types.PhasePlanning)
	ctx := context.Background()

	for _, target := range []types.Phase{types.PhasePlanning, types.PhaseReview, types.PhaseIdle, types.Phase("limbo")} {
		_, err := e.Run(ctx, id, target, nil, ok)
		assert.ErrorIs(t, err, ErrInvalidTransition, "target %s", target)
	}

	st, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhasePlanning, st.Phase)
	assert.Equal(t, 1, st.Transitions)
}

func TestRunPhase_FullSequenceClosesInstance(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	ctx := context.Background()
	walk(t, e, id, types.PhaseDocumentation)

	res, err := e.Run(ctx, id, types.PhaseRelease, nil, ok)
	require.NoError(t, err)
	require.NotNil(t, res.Closed)
	assert.Equal(t, types.PhaseRelease, res.Closed.From)
	assert.Equal(t, types.PhaseCompleted, res.Closed.To)

	snap, err := e.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseCompleted, snap.CurrentPhase)
	require.Len(t, snap.PhaseHistory, 7)
	for i := 1; i < len(snap.PhaseHistory); i++ {
		assert.Greater(t, snap.PhaseHistory[i].To.Index(), snap.PhaseHistory[i-1].To.Index())
		assert.False(t, snap.PhaseHistory[i].TransitionedAt.Before(snap.PhaseHistory[i-1].TransitionedAt))
	}

	// Handoffs follow the primary roles through the sequence.
	require.NotEmpty(t, snap.Handoffs)
	assert.Equal(t, types.RolePlanner, snap.Handoffs[0].From)
	assert.Equal(t, types.RoleTestWriter, snap.Handoffs[0].To)

	for _, p := range types.Phases() {
		_, err := e.Run(ctx, id, p, nil, ok)
		assert.Error(t, err, "completed must not advance to %s", p)
	}
}

func TestRunPhase_GateRechecksAfterResetTests(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	ctx := context.Background()
	walk(t, e, id, types.PhaseTestGeneration)

	require.NoError(t, e.ResetTests(ctx, id))

	_, err := e.Run(ctx, id, types.PhaseImplementation, nil, ok)
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestRunPhase_ZeroFailingTestsBlocks(t *testing.T) {
	e := newEngine(t, WithMinFailingTests(2))
	id := newInstance(t, e)
	ctx := context.Background()
	walk(t, e, id, types.PhasePlanning)

	_, err := RunPhase(ctx, e, id, types.PhaseTestGeneration, nil,
		func(context.Context) (report, error) { return report{failing: 1}, nil })
	require.NoError(t, err)

	_, err = e.Run(ctx, id, types.PhaseImplementation, nil, ok)
	require.ErrorIs(t, err, ErrBlocked)
	assert.Contains(t, err.Error(), "1 failing tests registered, 2 required")
}

func TestRunPhase_NegativeFailingCountIsWorkFailure(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	ctx := context.Background()
	walk(t, e, id, types.PhasePlanning)

	_, err := RunPhase(ctx, e, id, types.PhaseTestGeneration, nil,
		func(context.Context) (int, error) { return -2, nil })
	assert.ErrorIs(t, err, ErrWorkFailure)

	st, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhasePlanning, st.Phase)
	assert.Zero(t, st.FailingTests)
}

func TestRunPhase_DisabledRoles(t *testing.T) {
	ctx := context.Background()

	t.Run("required role", func(t *testing.T) {
		e := newEngine(t, WithDisabledRoles(types.RoleDocsWriter))
		id := newInstance(t, e)

		_, err := e.Run(ctx, id, types.PhasePlanning, nil, ok)
		require.ErrorIs(t, err, ErrAgentActivation)
		var ae *AgentActivationError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, types.RoleDocsWriter, ae.Role)

		st, err := e.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.PhaseIdle, st.Phase)
		assert.Equal(t, types.AgentIdle, st.Agents[types.RolePlanner].Status, "no role may be activated")
	})

	t.Run("triggered conditional role", func(t *testing.T) {
		e := newEngine(t, WithDisabledRoles(types.RoleSecurityReviewer))
		id := newInstance(t, e)
		walk(t, e, id, types.PhaseImplementation)

		_, err := e.Run(ctx, id, types.PhaseReview, []string{"crypto"}, ok)
		assert.ErrorIs(t, err, ErrAgentActivation)

		_, err = e.Run(ctx, id, types.PhaseReview, nil, ok)
		assert.NoError(t, err, "untriggered disabled role is not needed")
	})
}

func TestRunPhase_PersistenceErrorIsRetried(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	e := newEngine(t, WithStore(st))
	id := newInstance(t, e)
	ctx := context.Background()

	st.fail.Store(true)
	res, err := e.Run(ctx, id, types.PhasePlanning, nil, ok)
	require.ErrorIs(t, err, ErrPersistence)
	require.NotNil(t, res, "the result survives a failed save")
	assert.Equal(t, types.PhasePlanning, res.Transition.To)

	status, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhasePlanning, status.Phase)
	assert.True(t, status.Unsaved)

	persisted, err := st.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseIdle, persisted.CurrentPhase)

	// The next call retries even when it is itself rejected.
	st.fail.Store(false)
	_, err = e.Run(ctx, id, types.PhaseRelease, nil, ok)
	require.ErrorIs(t, err, ErrInvalidTransition)

	persisted, err = st.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhasePlanning, persisted.CurrentPhase)

	status, err = e.Status(ctx, id)
	require.NoError(t, err)
	assert.False(t, status.Unsaved)
}

func TestResumeRoundTrip(t *testing.T) {
	shared := store.NewMemory()
	ctx := context.Background()

	first := newEngine(t, WithStore(shared))
	id := newInstance(t, first)
	walk(t, first, id, types.PhaseImplementation)
	before, err := first.Snapshot(ctx, id)
	require.NoError(t, err)

	second := newEngine(t, WithStore(shared))
	require.NoError(t, second.Resume(ctx, id))
	after, err := second.Snapshot(ctx, id)
	require.NoError(t, err)

	after.SavedAt = before.SavedAt
	assert.Equal(t, before, after)

	// The resumed instance continues where it left off.
	_, err = second.Run(ctx, id, types.PhaseReview, nil, ok)
	assert.NoError(t, err)
}

func TestResume_Unknown(t *testing.T) {
	e := newEngine(t)
	err := e.Resume(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Run(context.Background(), "missing", types.PhasePlanning, nil, ok)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReset(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	ctx := context.Background()
	walk(t, e, id, types.PhaseRelease)

	require.NoError(t, e.Reset(ctx, id))

	st, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseIdle, st.Phase)
	assert.Zero(t, st.Transitions)
	assert.Zero(t, st.FailingTests)
	for role, state := range st.Agents {
		assert.Equal(t, types.AgentIdle, state.Status, role)
	}

	history, err := e.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.PhaseCompleted, history[0].CurrentPhase)
	assert.Len(t, history[0].PhaseHistory, 7)

	// A reset instance starts over from planning.
	_, err = e.Run(ctx, id, types.PhasePlanning, nil, ok)
	assert.NoError(t, err)
}

func TestReset_ArchiveFailureLeavesInstance(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	e := newEngine(t, WithStore(st))
	id := newInstance(t, e)
	ctx := context.Background()
	walk(t, e, id, types.PhasePlanning)

	st.fail.Store(true)
	require.ErrorIs(t, e.Reset(ctx, id), ErrPersistence)

	status, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhasePlanning, status.Phase)
}

func TestConcurrentRunsOnOneInstanceSerialize(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Run(ctx, id, types.PhasePlanning, nil, func(context.Context) (any, error) {
				time.Sleep(5 * time.Millisecond)
				return nil, nil
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInvalidTransition):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(7), rejected.Load())
}

func TestInstancesRunInParallel(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a, b := newInstance(t, e), newInstance(t, e)

	// a's work waits for b to finish; with a shared lock this would deadlock.
	bDone := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, a, types.PhasePlanning, nil, func(context.Context) (any, error) {
			<-bDone
			return nil, nil
		})
		errs <- err
	}()

	_, err := e.Run(ctx, b, types.PhasePlanning, nil, ok)
	require.NoError(t, err)
	close(bDone)
	require.NoError(t, <-errs)

	assert.ElementsMatch(t, []string{a, b}, e.Instances())
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.MinFailingTests = 5
	cfg.Agents.Disabled = []string{"ux-tester"}

	e, err := NewFromConfig(cfg, store.NewMemory(), quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []types.AgentRole{types.RoleUXTester}, e.disabled)

	_, err = NewFromConfig(nil, nil, nil)
	assert.Error(t, err)

	cfg.Agents.Disabled = []string{"oracle"}
	_, err = NewFromConfig(cfg, nil, nil)
	assert.Error(t, err)
}

func TestCreate_SaveFailureStillCreates(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	st.fail.Store(true)
	e := newEngine(t, WithStore(st), WithIDGenerator(func() string { return "wf-fixed" }))

	id, err := e.Create(context.Background())
	assert.Equal(t, "wf-fixed", id)
	assert.ErrorIs(t, err, ErrPersistence)

	status, err := e.Status(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, status.Unsaved)
}

func TestRunPhase_TransitionRecordsAllCompletedRoles(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	ctx := context.Background()
	walk(t, e, id, types.PhaseImplementation)

	snap, err := e.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.PhaseHistory, 3)
	assert.Equal(t, []string{"docs-writer", "planner", "test-writer"}, snap.PhaseHistory[1].PrerequisitesSatisfied)
	assert.ElementsMatch(t,
		[]string{"planner", "docs-writer", "test-writer", "implementer"},
		snap.PhaseHistory[2].PrerequisitesSatisfied)

	walk(t, e, id, types.PhaseRelease)
	snap, err = e.Snapshot(ctx, id)
	require.NoError(t, err)
	closing := snap.PhaseHistory[len(snap.PhaseHistory)-1]
	assert.Equal(t, types.PhaseCompleted, closing.To)
	assert.Contains(t, closing.PrerequisitesSatisfied, "planner")
	assert.Contains(t, closing.PrerequisitesSatisfied, "implementer")
	assert.Subset(t, closing.PrerequisitesSatisfied, snap.PhaseHistory[len(snap.PhaseHistory)-2].PrerequisitesSatisfied)
}

// nilReport dereferences its receiver, so a nil *nilReport panics when asked
// for its count.
type nilReport struct{ failing int }

func (r *nilReport) FailingTestCount() int { return r.failing }

func TestRunPhase_PanickingFailingCountIsWorkFailure(t *testing.T) {
	e := newEngine(t)
	id := newInstance(t, e)
	ctx := context.Background()
	walk(t, e, id, types.PhasePlanning)

	var res *PhaseResult[*nilReport]
	var err error
	require.NotPanics(t, func() {
		res, err = RunPhase(ctx, e, id, types.PhaseTestGeneration, nil,
			func(context.Context) (*nilReport, error) { return nil, nil })
	})
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrWorkFailure)
	var wf *WorkFailureError
	require.ErrorAs(t, err, &wf)
	assert.Contains(t, wf.Detail, "failing test count panicked")

	st, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhasePlanning, st.Phase)
	assert.Zero(t, st.FailingTests)
	assert.Equal(t, types.AgentError, st.Agents[types.RoleTestWriter].Status)

	// The engine still serves the instance; a retry with a real count works.
	_, err = RunPhase(ctx, e, id, types.PhaseTestGeneration, nil,
		func(context.Context) (*nilReport, error) { return &nilReport{failing: 2}, nil })
	require.NoError(t, err)
}

func TestStaleEngineReloadsNewerSnapshot(t *testing.T) {
	shared := store.NewMemory()
	clock := stepClock()
	ctx := context.Background()
	three := func(context.Context) (int, error) { return 3, nil }

	first := newEngine(t, WithStore(shared), WithClock(clock))
	id := newInstance(t, first)
	walk(t, first, id, types.PhasePlanning)

	second := newEngine(t, WithStore(shared), WithClock(clock))
	require.NoError(t, second.Resume(ctx, id))
	_, err := RunPhase(ctx, second, id, types.PhaseTestGeneration, nil, three)
	require.NoError(t, err)

	// first still holds planning in memory; its run must see test generation
	// already recorded instead of registering the tests a second time.
	_, err = RunPhase(ctx, first, id, types.PhaseTestGeneration, nil, three)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	rec, err := shared.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseTestGeneration, rec.CurrentPhase)
	assert.Equal(t, 3, rec.TestCounter)
	assert.Len(t, rec.PhaseHistory, 2)

	st, err := first.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseTestGeneration, st.Phase)
	assert.Equal(t, 3, st.FailingTests)

	// A reset through second is seen by first as well.
	require.NoError(t, second.Reset(ctx, id))
	st, err = first.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseIdle, st.Phase)
	assert.Zero(t, st.FailingTests)

	_, err = first.Run(ctx, id, types.PhasePlanning, nil, ok)
	assert.NoError(t, err)
}
