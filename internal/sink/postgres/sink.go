// Package postgres persists records and run summaries in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
	"github.com/JakeFAU/gather-vision/internal/sink"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	ItemsTable      string        `mapstructure:"items_table"`
	RunsTable       string        `mapstructure:"runs_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// Migrate creates the tables on startup when they are missing.
	Migrate bool `mapstructure:"migrate"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes one row per distinct record.
type Sink struct {
	pool    execCloser
	items   string
	runs    string
	encoder *sink.Encoder
}

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config, encoder *sink.Encoder) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, cfg, encoder)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool builds a Sink over an existing pool.
func NewWithPool(pool execCloser, cfg Config, encoder *sink.Encoder) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	items, runs := cfg.ItemsTable, cfg.RunsTable
	if items == "" {
		items = "gather_items"
	}
	if runs == "" {
		runs = "gather_runs"
	}
	for _, table := range []string{items, runs} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	if encoder == nil {
		encoder = sink.NewEncoder(nil, nil)
	}
	return &Sink{pool: pool, items: items, runs: runs, encoder: encoder}, nil
}

// Migrate creates the item and run tables.
func (s *Sink) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	item_hash   TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     JSONB NOT NULL,
	accepted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_source_idx ON %[1]s (source, accepted_at);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id      TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	state       TEXT NOT NULL,
	stats       JSONB NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`, s.items, s.runs)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate postgres sink: %w", err)
	}
	return nil
}

// Accept implements crawler.Sink. A record already stored under the same hash is skipped.
func (s *Sink) Accept(ctx context.Context, source string, item crawler.Item) error {
	rec, err := s.encoder.Encode(source, item)
	if err != nil {
		metrics.ObserveSinkWrite("postgres", err)
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (item_hash, source, kind, payload, accepted_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (item_hash) DO NOTHING`, s.items)
	_, err = s.pool.Exec(ctx, query, rec.Hash, rec.Source, rec.Kind, []byte(rec.Payload), rec.AcceptedAt)
	metrics.ObserveSinkWrite("postgres", err)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// RecordRun implements sink.RunRecorder.
func (s *Sink) RecordRun(ctx context.Context, result crawler.RunResult) error {
	row, err := sink.NewRunRow(result)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, source, state, stats, error, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (run_id) DO UPDATE SET
	state = EXCLUDED.state,
	stats = EXCLUDED.stats,
	error = EXCLUDED.error,
	finished_at = EXCLUDED.finished_at`, s.runs)
	if _, err := s.pool.Exec(ctx, query,
		row.RunID, row.Source, row.State, row.Stats, row.Error, row.StartedAt, row.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
