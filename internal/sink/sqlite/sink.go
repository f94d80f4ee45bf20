// Package sqlite persists records and run summaries in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
	"github.com/JakeFAU/gather-vision/internal/sink"
)

// Config names the database file.
type Config struct {
	Path string `mapstructure:"path"`
}

// Sink writes records into an items table keyed by hash.
type Sink struct {
	db      *sql.DB
	encoder *sink.Encoder
}

const migration = `
CREATE TABLE IF NOT EXISTS items (
	item_hash   TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	accepted_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	state       TEXT NOT NULL,
	stats       TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_source ON items(source, accepted_at);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
`

// Open opens (or creates) the database, configures WAL mode and migrates it.
func Open(ctx context.Context, cfg Config, encoder *sink.Encoder) (*Sink, error) {
	if cfg.Path == "" {
		return nil, eris.New("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, migration); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	if encoder == nil {
		encoder = sink.NewEncoder(nil, nil)
	}
	return &Sink{db: db, encoder: encoder}, nil
}

// Accept implements crawler.Sink. Duplicate hashes are ignored.
func (s *Sink) Accept(ctx context.Context, source string, item crawler.Item) error {
	rec, err := s.encoder.Encode(source, item)
	if err != nil {
		metrics.ObserveSinkWrite("sqlite", err)
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO items (item_hash, source, kind, payload, accepted_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Hash, rec.Source, rec.Kind, string(rec.Payload), rec.AcceptedAt,
	)
	metrics.ObserveSinkWrite("sqlite", err)
	return eris.Wrap(err, "sqlite: insert item")
}

// RecordRun implements sink.RunRecorder.
func (s *Sink) RecordRun(ctx context.Context, result crawler.RunResult) error {
	row, err := sink.NewRunRow(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, source, state, stats, error, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, row.Source, row.State, string(row.Stats), row.Error, row.StartedAt, row.FinishedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", row.RunID)
}

// Records returns the stored records of source in acceptance order.
func (s *Sink) Records(ctx context.Context, source string) ([]sink.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_hash, source, kind, payload, accepted_at FROM items WHERE source = ? ORDER BY accepted_at, rowid`,
		source,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query items")
	}
	defer rows.Close()

	var out []sink.Record
	for rows.Next() {
		var (
			rec     sink.Record
			payload string
		)
		if err := rows.Scan(&rec.Hash, &rec.Source, &rec.Kind, &payload, &rec.AcceptedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate items")
}

// RunCount returns how many runs are recorded for source.
func (s *Sink) RunCount(ctx context.Context, source string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE source = ?`, source).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count runs")
}

// Close closes the database.
func (s *Sink) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}
