// Package backends opens the snapshot store selected in configuration.
package backends

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"gateflow/internal/config"
	"gateflow/internal/store"
	"gateflow/internal/store/cached"
	"gateflow/internal/store/filestore"
	"gateflow/internal/store/natskv"
	"gateflow/internal/store/postgres"
)

// Backend is an opened store together with the connections it holds.
type Backend struct {
	store.Store
	Name    string
	closers []func()
}

// Close releases the backend's connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Ping checks the underlying store when it supports it.
func (b *Backend) Ping(ctx context.Context) error {
	return store.Ping(ctx, b.Store)
}

// Open connects the configured backend. When CacheBytes is positive the
// store is wrapped in a read cache.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{Name: cfg.Backend}

	switch cfg.Backend {
	case config.BackendMemory, "":
		b.Name = config.BackendMemory
		b.Store = store.NewMemory()

	case config.BackendFile:
		fs, err := filestore.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		b.Store = fs

	case config.BackendNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("gateflow"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		b.closers = append(b.closers, nc.Close)

		js, err := jetstream.New(nc)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("jetstream init: %w", err)
		}
		kv, err := natskv.New(ctx, js, cfg.Bucket)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Store = kv

	case config.BackendPostgres:
		if err := postgres.RunMigrations(ctx, cfg.DSN); err != nil {
			return nil, err
		}
		pool, err := postgres.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.Store = postgres.NewStore(pool)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if cfg.CacheBytes > 0 {
		c, err := cached.New(b.Store, cfg.CacheBytes)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, c.Close)
		b.Store = c
	}

	if err := store.Ping(ctx, b.Store); err != nil {
		b.Close()
		return nil, fmt.Errorf("%s store unreachable: %w", b.Name, err)
	}

	logger.Info("Snapshot store opened",
		"backend", b.Name,
		"cached", cfg.CacheBytes > 0)
	return b, nil
}
