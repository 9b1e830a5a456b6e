// Package cached puts an in-process read cache in front of a store.Store.
// Cached values are encoded snapshots, so every Load decodes a private copy.
package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"gateflow/internal/store"
)

// DefaultMaxCostBytes is the cache size used when none is configured.
const DefaultMaxCostBytes = 16 << 20

// Store caches Load results of a backing store. Writes go through to the
// backing store first and then replace the cached entry.
type Store struct {
	next  store.Store
	cache *ristretto.Cache[string, []byte]
	group singleflight.Group
}

// New wraps next. maxCostBytes is the total size of cached snapshots.
func New(next store.Store, maxCostBytes int64) (*Store, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = DefaultMaxCostBytes
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/100*10, 1000), // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &Store{next: next, cache: c}, nil
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, r *store.Record) error {
	if err := s.next.Save(ctx, r); err != nil {
		s.cache.Del(r.ID)
		return err
	}
	data, err := store.Encode(r)
	if err != nil {
		s.cache.Del(r.ID)
		return err
	}
	if !s.cache.Set(r.ID, data, int64(len(data))) {
		s.cache.Del(r.ID)
	}
	s.cache.Wait()
	return nil
}

// Load implements store.Store. Concurrent misses for one id share a single
// backing load.
func (s *Store) Load(ctx context.Context, id string) (*store.Record, error) {
	if data, ok := s.cache.Get(id); ok {
		return store.Decode(data)
	}

	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		r, err := s.next.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		data, err := store.Encode(r)
		if err != nil {
			return nil, err
		}
		s.cache.Set(id, data, int64(len(data)))
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return store.Decode(v.([]byte))
}

// List implements store.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.next.List(ctx)
}

// Archive implements store.Store.
func (s *Store) Archive(ctx context.Context, r *store.Record) error {
	return s.next.Archive(ctx, r)
}

// History implements store.Store.
func (s *Store) History(ctx context.Context, id string) ([]*store.Record, error) {
	return s.next.History(ctx, id)
}

// Ping forwards to the backing store.
func (s *Store) Ping(ctx context.Context) error {
	return store.Ping(ctx, s.next)
}

// Close releases the cache.
func (s *Store) Close() {
	s.cache.Close()
}
