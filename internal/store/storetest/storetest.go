// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/store"
	"gateflow/pkg/types"
)

// SampleRecord returns a populated snapshot of an instance in implementation.
func SampleRecord(id string) *store.Record {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	states := make(map[types.AgentRole]types.AgentState)
	for _, role := range types.Roles() {
		states[role] = types.AgentState{Status: types.AgentIdle}
	}
	states[types.RolePlanner] = types.AgentState{
		Status:        types.AgentCompleted,
		ActivatedAt:   base,
		DeactivatedAt: base.Add(time.Minute),
		LastTask:      "plan login flow",
	}
	states[types.RoleImplementer] = types.AgentState{
		Status:      types.AgentActive,
		ActivatedAt: base.Add(3 * time.Minute),
		LastTask:    "implement login flow",
	}

	return &store.Record{
		ID:           id,
		CurrentPhase: types.PhaseImplementation,
		PhaseHistory: []types.PhaseTransition{
			{From: types.PhaseIdle, To: types.PhasePlanning, TransitionedAt: base.Add(time.Minute), PrerequisitesSatisfied: []string{"docs-writer", "planner"}},
			{From: types.PhasePlanning, To: types.PhaseTestGeneration, TransitionedAt: base.Add(2 * time.Minute), PrerequisitesSatisfied: []string{"test-writer"}},
			{From: types.PhaseTestGeneration, To: types.PhaseImplementation, TransitionedAt: base.Add(3 * time.Minute), PrerequisitesSatisfied: []string{"implementer"}},
		},
		AgentStates: states,
		Handoffs: []types.HandoffRecord{
			{From: types.RolePlanner, To: types.RoleTestWriter, Context: "write tests", At: base.Add(time.Minute)},
		},
		TestCounter: 4,
		CreatedAt:   base,
		SavedAt:     base.Add(4 * time.Minute),
		Version:     store.Version,
	}
}

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t)
		rec := SampleRecord(uuid.NewString())

		require.NoError(t, s.Save(ctx, rec))
		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("save replaces", func(t *testing.T) {
		s := newStore(t)
		rec := SampleRecord(uuid.NewString())
		require.NoError(t, s.Save(ctx, rec))

		rec.TestCounter = 9
		require.NoError(t, s.Save(ctx, rec))

		got, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, 9, got.TestCounter)
	})

	t.Run("load unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx, uuid.NewString())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("loaded records are copies", func(t *testing.T) {
		s := newStore(t)
		rec := SampleRecord(uuid.NewString())
		require.NoError(t, s.Save(ctx, rec))

		first, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		first.PhaseHistory[0].To = types.PhaseRelease

		second, err := s.Load(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, types.PhasePlanning, second.PhaseHistory[0].To)
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		a, b := "a-"+uuid.NewString(), "b-"+uuid.NewString()
		require.NoError(t, s.Save(ctx, SampleRecord(b)))
		require.NoError(t, s.Save(ctx, SampleRecord(a)))

		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{a, b}, ids)
	})

	t.Run("archive history", func(t *testing.T) {
		s := newStore(t)
		rec := SampleRecord(uuid.NewString())

		history, err := s.History(ctx, rec.ID)
		require.NoError(t, err)
		assert.Empty(t, history)

		require.NoError(t, s.Archive(ctx, rec))
		second := rec.Clone()
		second.CurrentPhase = types.PhaseReview
		second.SavedAt = rec.SavedAt.Add(time.Hour)
		require.NoError(t, s.Archive(ctx, second))

		history, err = s.History(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, types.PhaseImplementation, history[0].CurrentPhase)
		assert.Equal(t, types.PhaseReview, history[1].CurrentPhase)

		_, err = s.Load(ctx, rec.ID)
		assert.ErrorIs(t, err, store.ErrNotFound, "archiving must not create a live snapshot")
	})
}
