// Package natskv stores workflow snapshots in NATS JetStream key-value buckets.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"gateflow/internal/store"
)

// Default bucket names.
const (
	DefaultBucket = "GATEFLOW_INSTANCES"
	archiveSuffix = "_ARCHIVE"
)

// Store is a JetStream KV backed store.Store. Live snapshots go to one
// bucket keyed by instance id; archived copies go to a second bucket keyed
// by "<id>.<sequence>".
type Store struct {
	records  jetstream.KeyValue
	archives jetstream.KeyValue
}

// New opens or creates the buckets.
func New(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	records, err := getOrCreateBucket(ctx, js, bucket, 1)
	if err != nil {
		return nil, fmt.Errorf("create instances bucket: %w", err)
	}

	archives, err := getOrCreateBucket(ctx, js, bucket+archiveSuffix, 1)
	if err != nil {
		return nil, fmt.Errorf("create archive bucket: %w", err)
	}

	return &Store{records: records, archives: archives}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string, history uint8) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("gateflow %s", strings.ToLower(name)),
		History:     history,
	})
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, r *store.Record) error {
	data, err := store.Encode(r)
	if err != nil {
		return err
	}
	if _, err := s.records.Put(ctx, r.ID, data); err != nil {
		return fmt.Errorf("put snapshot %s: %w", r.ID, err)
	}
	return nil
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, id string) (*store.Record, error) {
	entry, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return store.Decode(entry.Value())
}

// List implements store.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.records.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshot keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Archive implements store.Store. Sequence numbers are claimed with Create
// so concurrent archivers never overwrite each other.
func (s *Store) Archive(ctx context.Context, r *store.Record) error {
	data, err := store.Encode(r)
	if err != nil {
		return err
	}

	keys, err := s.archiveKeys(ctx, r.ID)
	if err != nil {
		return err
	}

	for seq := len(keys) + 1; ; seq++ {
		_, err := s.archives.Create(ctx, archiveKey(r.ID, seq), data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("archive snapshot %s: %w", r.ID, err)
		}
	}
}

// History implements store.Store.
func (s *Store) History(ctx context.Context, id string) ([]*store.Record, error) {
	keys, err := s.archiveKeys(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]*store.Record, 0, len(keys))
	for _, key := range keys {
		entry, err := s.archives.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get archived snapshot %s: %w", key, err)
		}
		r, err := store.Decode(entry.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Ping checks the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.records.Status(ctx)
	return err
}

func (s *Store) archiveKeys(ctx context.Context, id string) ([]string, error) {
	keys, err := s.archives.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list archive keys: %w", err)
	}

	prefix := id + "."
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	// Keys are zero-padded, so lexical order is archive order.
	sort.Strings(out)
	return out, nil
}

func archiveKey(id string, seq int) string {
	return fmt.Sprintf("%s.%06d", id, seq)
}
