// Package store persists workflow instance snapshots. A Record is the durable
// form of one instance; backends store its JSON encoding keyed by instance id.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gateflow/pkg/types"
)

// Version is the only snapshot layout this build reads and writes.
const Version = "1"

var (
	// ErrNotFound is returned by Load for an unknown instance id.
	ErrNotFound = errors.New("workflow instance not found")
	// ErrUnsupportedVersion is returned when a snapshot carries another layout version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

// Record is the persisted snapshot of one workflow instance.
type Record struct {
	ID           string                               `json:"id"`
	CurrentPhase types.Phase                          `json:"currentPhase"`
	PhaseHistory []types.PhaseTransition              `json:"phaseHistory"`
	AgentStates  map[types.AgentRole]types.AgentState `json:"agentStates"`
	Handoffs     []types.HandoffRecord                `json:"handoffs"`
	TestCounter  int                                  `json:"testCounter"`
	CreatedAt    time.Time                            `json:"createdAt"`
	SavedAt      time.Time                            `json:"savedAt"`
	Version      string                               `json:"version"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.PhaseHistory = types.CloneHistory(r.PhaseHistory)
	if r.AgentStates != nil {
		out.AgentStates = make(map[types.AgentRole]types.AgentState, len(r.AgentStates))
		for role, state := range r.AgentStates {
			out.AgentStates[role] = state
		}
	}
	if r.Handoffs != nil {
		out.Handoffs = append([]types.HandoffRecord(nil), r.Handoffs...)
	}
	return &out
}

// Validate checks the fields a restore depends on.
func (r *Record) Validate() error {
	if r.ID == "" {
		return errors.New("record has no instance id")
	}
	if r.Version != Version {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, r.Version)
	}
	if !r.CurrentPhase.Valid() {
		return fmt.Errorf("record %s: unknown phase %q", r.ID, r.CurrentPhase)
	}
	if r.TestCounter < 0 {
		return fmt.Errorf("record %s: negative test counter %d", r.ID, r.TestCounter)
	}
	return nil
}

// Encode marshals r, stamping the current layout version when unset.
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("encode: nil record")
	}
	if r.Version == "" {
		r.Version = Version
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.ID, err)
	}
	return data, nil
}

// Decode unmarshals and validates a snapshot.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Store is the persistence boundary of the coordination engine.
type Store interface {
	// Save writes the latest snapshot of an instance, replacing the previous one.
	Save(ctx context.Context, r *Record) error
	// Load returns the latest snapshot, or ErrNotFound.
	Load(ctx context.Context, id string) (*Record, error)
	// List returns the ids of every saved instance, sorted.
	List(ctx context.Context) ([]string, error)
	// Archive appends an audit copy of a snapshot, used before a reset.
	Archive(ctx context.Context, r *Record) error
	// History returns the archived snapshots of an instance, oldest first.
	History(ctx context.Context, id string) ([]*Record, error)
}

// Pinger is implemented by backends that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks s when it supports it.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
