package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store. It keeps encoded snapshots so callers never
// share memory with what was saved.
type Memory struct {
	mu       sync.RWMutex
	records  map[string][]byte
	archives map[string][][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string][]byte),
		archives: make(map[string][][]byte),
	}
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, r *Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = data
	return nil
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	data, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(data)
}

// List implements Store.
func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Archive implements Store.
func (m *Memory) Archive(_ context.Context, r *Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[r.ID] = append(m.archives[r.ID], data)
	return nil
}

// History implements Store.
func (m *Memory) History(_ context.Context, id string) ([]*Record, error) {
	m.mu.RLock()
	entries := append([][]byte(nil), m.archives[id]...)
	m.mu.RUnlock()

	out := make([]*Record, 0, len(entries))
	for _, data := range entries {
		r, err := Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
