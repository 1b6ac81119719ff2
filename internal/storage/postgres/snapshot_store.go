// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds one row per finished extraction.
const DefaultTable = "extraction_snapshots"

// Config controls the Postgres connection pool used for job snapshots.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// SnapshotStore keeps terminal job snapshots as JSONB rows keyed by
// extraction ID.
type SnapshotStore struct {
	pool  querier
	table string
}

// New connects to cfg.DSN.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SnapshotStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the snapshot table when missing.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	finished_at TIMESTAMPTZ,
	snapshot    JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Save upserts the snapshot for job.ID.
func (s *SnapshotStore) Save(ctx context.Context, job crawler.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, finished_at, snapshot)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, finished_at = EXCLUDED.finished_at, snapshot = EXCLUDED.snapshot`, s.table)
	if _, err := s.pool.Exec(ctx, query, job.ID, string(job.Status), job.Finished, body); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", job.ID, err)
	}
	return nil
}

// Load returns the stored snapshot or crawler.ErrNotFound.
func (s *SnapshotStore) Load(ctx context.Context, id string) (crawler.Job, error) {
	var body []byte
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE id = $1`, s.table)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, crawler.ErrNotFound
		}
		return crawler.Job{}, fmt.Errorf("select snapshot %s: %w", id, err)
	}
	var job crawler.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return job, nil
}

// Delete removes the snapshot or reports crawler.ErrNotFound.
func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
