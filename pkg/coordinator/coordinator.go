// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package coordinator runs workflow instances through the phase sequence,
// activating agent roles, enforcing entry gates and persisting each
// successful step.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gateflow/internal/config"
	"gateflow/internal/gates"
	"gateflow/internal/metrics"
	"gateflow/internal/store"
	"gateflow/internal/workflow"
	"gateflow/pkg/agent"
	"gateflow/pkg/types"
)

// Errors returned by the engine. The typed errors match these via errors.Is.
var (
	ErrInvalidTransition = workflow.ErrInvalidTransition
	ErrBlocked           = workflow.ErrBlocked
	ErrAgentActivation   = workflow.ErrAgentActivation
	ErrWorkFailure       = workflow.ErrWorkFailure
	ErrPersistence       = workflow.ErrPersistence
	ErrNotFound          = store.ErrNotFound
)

// Typed errors returned by the engine.
type (
	InvalidTransitionError = workflow.InvalidTransitionError
	BlockedError           = workflow.BlockedError
	AgentActivationError   = workflow.AgentActivationError
	WorkFailureError       = workflow.WorkFailureError
	PersistenceError       = workflow.PersistenceError
)

// Engine coordinates workflow instances. Each instance has its own lock;
// the engine lock only guards the instance map.
type Engine struct {
	logger      *slog.Logger
	store       store.Store
	gates       *workflow.GateRegistry
	policy      *agent.Policy
	chain       *gates.GateChain
	disabled    []types.AgentRole
	workTimeout time.Duration
	now         func() time.Time
	newID       func() string

	mu        sync.RWMutex
	instances map[string]*Instance
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStore sets the snapshot store. The default is an in-memory store.
func WithStore(s store.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithPolicy replaces the conditional activation policy.
func WithPolicy(p *agent.Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithMinFailingTests sets the implementation gate threshold. Values below
// one keep the default.
func WithMinFailingTests(n int) Option {
	return func(e *Engine) {
		e.chain = gates.NewGateBuilder().Add(gates.NewImplementationGate(n)).Build()
	}
}

// WithDisabledRoles marks roles that may never be activated.
func WithDisabledRoles(roles ...types.AgentRole) Option {
	return func(e *Engine) {
		e.disabled = append(e.disabled, roles...)
	}
}

// WithWorkTimeout bounds the work of every phase run. Zero disables it.
func WithWorkTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.workTimeout = d
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides instance id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:    slog.Default(),
		store:     store.NewMemory(),
		gates:     workflow.MustGateRegistry(),
		policy:    agent.DefaultPolicy(),
		chain:     gates.NewGateBuilder().Add(gates.NewImplementationGate(gates.DefaultMinFailingTests)).Build(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		instances: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig creates an engine from the engine and agents sections of cfg.
func NewFromConfig(cfg *config.Config, st store.Store, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	disabled, err := cfg.DisabledRoles()
	if err != nil {
		return nil, fmt.Errorf("agents.disabled: %w", err)
	}
	return New(
		WithLogger(logger),
		WithStore(st),
		WithMinFailingTests(cfg.Engine.MinFailingTests),
		WithWorkTimeout(cfg.Engine.WorkTimeout),
		WithDisabledRoles(disabled...),
	), nil
}

// Gates returns the phase gate table.
func (e *Engine) Gates() *workflow.GateRegistry {
	return e.gates
}

// Store returns the snapshot store.
func (e *Engine) Store() store.Store {
	return e.store
}

func (e *Engine) newInstance(id string) *Instance {
	logger := e.logger.With("instance", id)
	machine := workflow.NewStateMachine(logger, e.gates, id)
	machine.SetClock(e.now)
	return &Instance{
		id:        id,
		createdAt: e.now(),
		machine:   machine,
		agents: agent.NewRegistry(id,
			agent.WithLogger(logger),
			agent.WithClock(e.now),
			agent.WithDisabled(e.disabled...)),
	}
}

// Create starts a new instance at Idle and saves its first snapshot. When
// the save fails the instance still exists and a *PersistenceError is
// returned alongside its id.
func (e *Engine) Create(ctx context.Context) (string, error) {
	id := e.newID()
	inst := e.newInstance(id)

	e.mu.Lock()
	if _, exists := e.instances[id]; exists {
		e.mu.Unlock()
		return "", fmt.Errorf("instance %s already exists", id)
	}
	e.instances[id] = inst
	metrics.Instances.Set(float64(len(e.instances)))
	e.mu.Unlock()

	e.logger.Info("Workflow instance created", "instance", id)

	inst.mu.Lock()
	defer inst.mu.Unlock()
	return id, e.saveLocked(ctx, inst)
}

// Resume loads an instance from the store. An instance already held in
// memory is reloaded on its next operation if another engine has saved it
// since.
func (e *Engine) Resume(ctx context.Context, id string) error {
	_, err := e.instance(ctx, id)
	return err
}

// instance returns the in-memory instance, loading it from the store on a miss.
func (e *Engine) instance(ctx context.Context, id string) (*Instance, error) {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if ok {
		return inst, nil
	}

	rec, err := e.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("instance %s: %w", id, store.ErrNotFound)
		}
		metrics.PersistenceErrors.WithLabelValues("load").Inc()
		return nil, &PersistenceError{InstanceID: id, Op: "load", Err: err}
	}

	loaded := e.newInstance(id)
	if err := loaded.restore(rec); err != nil {
		return nil, &PersistenceError{InstanceID: id, Op: "restore", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.instances[id]; ok {
		return existing, nil
	}
	e.instances[id] = loaded
	metrics.Instances.Set(float64(len(e.instances)))
	e.logger.Info("Workflow instance resumed",
		"instance", id,
		"phase", rec.CurrentPhase,
		"transitions", len(rec.PhaseHistory))
	return loaded, nil
}

// saveLocked writes the snapshot of inst. Caller holds inst.mu.
func (e *Engine) saveLocked(ctx context.Context, inst *Instance) error {
	at := e.now()
	if err := e.store.Save(ctx, inst.record(at)); err != nil {
		inst.dirty = true
		metrics.PersistenceErrors.WithLabelValues("save").Inc()
		e.logger.Error("Snapshot save failed",
			"instance", inst.id,
			"error", err)
		return &PersistenceError{InstanceID: inst.id, Op: "save", Err: err}
	}
	inst.dirty = false
	inst.savedAt = at
	return nil
}

// refreshLocked reloads inst when the stored snapshot was written by another
// engine since this one last saved or loaded it. An instance with an unsaved
// change keeps its in-memory state. Caller holds inst.mu.
func (e *Engine) refreshLocked(ctx context.Context, inst *Instance) error {
	if inst.dirty {
		return nil
	}
	rec, err := e.store.Load(ctx, inst.id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		metrics.PersistenceErrors.WithLabelValues("load").Inc()
		return &PersistenceError{InstanceID: inst.id, Op: "load", Err: err}
	}
	if rec.SavedAt.Equal(inst.savedAt) {
		return nil
	}

	fresh := e.newInstance(inst.id)
	if err := fresh.restore(rec); err != nil {
		return &PersistenceError{InstanceID: inst.id, Op: "restore", Err: err}
	}
	if err := inst.tests.Restore(rec.TestCounter); err != nil {
		return &PersistenceError{InstanceID: inst.id, Op: "restore", Err: err}
	}
	inst.machine = fresh.machine
	inst.agents = fresh.agents
	inst.createdAt = rec.CreatedAt
	inst.savedAt = rec.SavedAt

	e.logger.Info("Workflow instance reloaded",
		"instance", inst.id,
		"phase", rec.CurrentPhase,
		"saved_at", rec.SavedAt)
	return nil
}

// retrySaveLocked retries a failed snapshot write. A second failure is
// logged and left for the next call.
func (e *Engine) retrySaveLocked(ctx context.Context, inst *Instance) {
	if !inst.dirty {
		return
	}
	if err := e.saveLocked(ctx, inst); err == nil {
		e.logger.Info("Pending snapshot saved", "instance", inst.id)
	}
}

// Snapshot returns a deep copy of the instance state.
func (e *Engine) Snapshot(ctx context.Context, id string) (*store.Record, error) {
	inst, err := e.instance(ctx, id)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if err := e.refreshLocked(ctx, inst); err != nil {
		return nil, err
	}
	return inst.record(e.now()), nil
}

// Status summarizes an instance.
func (e *Engine) Status(ctx context.Context, id string) (Status, error) {
	inst, err := e.instance(ctx, id)
	if err != nil {
		return Status{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if err := e.refreshLocked(ctx, inst); err != nil {
		return Status{}, err
	}

	current := inst.machine.CurrentState()
	return Status{
		ID:           inst.id,
		Phase:        current,
		Terminal:     current.Terminal(),
		Next:         e.gates.NextPhases(current),
		FailingTests: inst.tests.Count(),
		Transitions:  len(inst.machine.History()),
		Agents:       inst.agents.States(),
		Active:       inst.agents.Active(),
		CreatedAt:    inst.createdAt,
		Unsaved:      inst.dirty,
	}, nil
}

// Instances returns the ids of instances held in memory, sorted.
func (e *Engine) Instances() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.instances))
	for id := range e.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset returns an instance to Idle from any phase. The pre-reset snapshot
// is archived first; if archiving fails nothing is reset. History, agent
// states and the failing-test count are cleared.
func (e *Engine) Reset(ctx context.Context, id string) error {
	inst, err := e.instance(ctx, id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	e.retrySaveLocked(ctx, inst)
	if err := e.refreshLocked(ctx, inst); err != nil {
		return err
	}

	if err := e.store.Archive(ctx, inst.record(e.now())); err != nil {
		metrics.PersistenceErrors.WithLabelValues("archive").Inc()
		return &PersistenceError{InstanceID: id, Op: "archive", Err: err}
	}

	from := inst.machine.CurrentState()
	cleared := inst.machine.Reset()
	inst.agents.Reset()
	inst.tests.Reset()

	e.logger.Info("Workflow instance reset",
		"instance", id,
		"from", from,
		"cleared_transitions", len(cleared))

	return e.saveLocked(ctx, inst)
}

// ResetTests sets the failing-test count back to zero. The implementation
// gate blocks again until test generation registers new failures.
func (e *Engine) ResetTests(ctx context.Context, id string) error {
	inst, err := e.instance(ctx, id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	e.retrySaveLocked(ctx, inst)
	if err := e.refreshLocked(ctx, inst); err != nil {
		return err
	}

	inst.tests.Reset()
	e.logger.Info("Failing test count reset", "instance", id)
	return e.saveLocked(ctx, inst)
}

// History returns the archived pre-reset snapshots of an instance.
func (e *Engine) History(ctx context.Context, id string) ([]*store.Record, error) {
	records, err := e.store.History(ctx, id)
	if err != nil {
		return nil, &PersistenceError{InstanceID: id, Op: "history", Err: err}
	}
	return records, nil
}
