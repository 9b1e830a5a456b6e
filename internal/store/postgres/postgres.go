// Package postgres stores workflow snapshots in PostgreSQL. Schema changes are
// embedded goose migrations.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql (needed by goose)
	"github.com/pressly/goose/v3"

	"gateflow/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewPool creates a connection pool and checks it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// RunMigrations applies all pending goose migrations from the embedded SQL files.
func RunMigrations(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrations)

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, r *store.Record) error {
	data, err := store.Encode(r)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_instances (id, current_phase, snapshot, saved_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET current_phase = EXCLUDED.current_phase,
		     snapshot = EXCLUDED.snapshot,
		     saved_at = EXCLUDED.saved_at`,
		r.ID, string(r.CurrentPhase), data, r.SavedAt)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", r.ID, err)
	}
	return nil
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, id string) (*store.Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM workflow_instances WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	return store.Decode(data)
}

// List implements store.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM workflow_instances ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return ids, nil
}

// Archive implements store.Store.
func (s *Store) Archive(ctx context.Context, r *store.Record) error {
	data, err := store.Encode(r)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_instance_archive (instance_id, snapshot) VALUES ($1, $2)`,
		r.ID, data)
	if err != nil {
		return fmt.Errorf("archive instance %s: %w", r.ID, err)
	}
	return nil
}

// History implements store.Store.
func (s *Store) History(ctx context.Context, id string) ([]*store.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT snapshot FROM workflow_instance_archive WHERE instance_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", id, err)
	}
	snapshots, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", id, err)
	}

	out := make([]*store.Record, 0, len(snapshots))
	for _, data := range snapshots {
		r, err := store.Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Ping implements store.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
