// Package results persists benchmark runs and their latency snapshots to
// sqlite so runs over different transports can be compared afterwards.
package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run has no stored row.
var ErrNotFound = errors.New("results: not found")

// Store persists runs and snapshots
type Store struct {
	db *sql.DB
}

// Run is one benchmark run over one transport.
type Run struct {
	ID                string
	Transport         string
	Source            string
	StartedUnixMillis int64
	StoppedUnixMillis sql.NullInt64
}

// Snapshot is the recorder state at one point of a run. Durations are
// stored in nanoseconds.
type Snapshot struct {
	RunID        string
	TsUnixMillis int64
	Count        int64
	Window       int
	MinNanos     int64
	MeanNanos    int64
	P50Nanos     int64
	P95Nanos     int64
	P99Nanos     int64
	MaxNanos     int64
	Received     int64
	Published    int64
	Errors       int64
	Anomalies    int64
	Backpressure int64
}

// P50 returns the median latency.
func (s Snapshot) P50() time.Duration { return time.Duration(s.P50Nanos) }

// P95 returns the 95th percentile latency.
func (s Snapshot) P95() time.Duration { return time.Duration(s.P95Nanos) }

// P99 returns the 99th percentile latency.
func (s Snapshot) P99() time.Duration { return time.Duration(s.P99Nanos) }

// NewSnapshot builds a row from a recorder snapshot and its counters.
func NewSnapshot(runID string, snap metrics.Snapshot, counters map[string]int64, nowMillis int64) Snapshot {
	return Snapshot{
		RunID:        runID,
		TsUnixMillis: nowMillis,
		Count:        int64(snap.Count),
		Window:       snap.Window,
		MinNanos:     int64(snap.Min),
		MeanNanos:    int64(snap.Mean),
		P50Nanos:     int64(snap.P50),
		P95Nanos:     int64(snap.P95),
		P99Nanos:     int64(snap.P99),
		MaxNanos:     int64(snap.Max),
		Received:     counters[metrics.CounterReceived],
		Published:    counters[metrics.CounterPublished],
		Errors:       counters[metrics.CounterErrors],
		Anomalies:    counters[metrics.CounterClockAnomalies],
		Backpressure: counters[metrics.CounterBackpressure],
	}
}

// Open creates or opens the results store
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			transport TEXT NOT NULL,
			source TEXT NOT NULL,
			started_unix_millis INTEGER NOT NULL,
			stopped_unix_millis INTEGER NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			ts_unix_millis INTEGER NOT NULL,
			count INTEGER NOT NULL,
			window_size INTEGER NOT NULL,
			min_nanos INTEGER NOT NULL,
			mean_nanos INTEGER NOT NULL,
			p50_nanos INTEGER NOT NULL,
			p95_nanos INTEGER NOT NULL,
			p99_nanos INTEGER NOT NULL,
			max_nanos INTEGER NOT NULL,
			received INTEGER NOT NULL,
			published INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			backpressure INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run
			ON snapshots(run_id, ts_unix_millis)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// StartRun inserts a new run with a fresh id.
func (s *Store) StartRun(ctx context.Context, transportKind, source string, nowMillis int64) (Run, error) {
	run := Run{
		ID:                uuid.NewString(),
		Transport:         transportKind,
		Source:            source,
		StartedUnixMillis: nowMillis,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, transport, source, started_unix_millis, stopped_unix_millis)
		 VALUES (?, ?, ?, ?, NULL)`,
		run.ID, run.Transport, run.Source, run.StartedUnixMillis,
	)
	if err != nil {
		return Run{}, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// FinishRun records when a run stopped.
func (s *Store) FinishRun(ctx context.Context, runID string, nowMillis int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET stopped_unix_millis = ? WHERE id = ?",
		nowMillis, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// SaveSnapshot appends a snapshot to its run.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, ts_unix_millis, count, window_size, min_nanos, mean_nanos,
			p50_nanos, p95_nanos, p99_nanos, max_nanos, received, published, errors, anomalies, backpressure)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.RunID, snap.TsUnixMillis, snap.Count, snap.Window, snap.MinNanos, snap.MeanNanos,
		snap.P50Nanos, snap.P95Nanos, snap.P99Nanos, snap.MaxNanos,
		snap.Received, snap.Published, snap.Errors, snap.Anomalies, snap.Backpressure,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transport, source, started_unix_millis, stopped_unix_millis
		 FROM runs
		 ORDER BY started_unix_millis DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Transport, &r.Source, &r.StartedUnixMillis, &r.StoppedUnixMillis); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// LatestSnapshot returns the most recent snapshot of a run.
func (s *Store) LatestSnapshot(ctx context.Context, runID string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, ts_unix_millis, count, window_size, min_nanos, mean_nanos,
			p50_nanos, p95_nanos, p99_nanos, max_nanos, received, published, errors, anomalies, backpressure
		 FROM snapshots
		 WHERE run_id = ?
		 ORDER BY ts_unix_millis DESC, id DESC
		 LIMIT 1`,
		runID,
	).Scan(
		&snap.RunID, &snap.TsUnixMillis, &snap.Count, &snap.Window, &snap.MinNanos, &snap.MeanNanos,
		&snap.P50Nanos, &snap.P95Nanos, &snap.P99Nanos, &snap.MaxNanos,
		&snap.Received, &snap.Published, &snap.Errors, &snap.Anomalies, &snap.Backpressure,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("snapshot for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return snap, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
