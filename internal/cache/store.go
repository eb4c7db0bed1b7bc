package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/tranqh/urbanair-hub/internal/domain"
)

// schemaVersion tags persisted windows. Loads with a different version are
// discarded wholesale to avoid stale-shape crashes across deployments.
const schemaVersion = 1

const createTable = `CREATE TABLE IF NOT EXISTS chart_window (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload TEXT NOT NULL,
	written_at INTEGER NOT NULL,
	schema_version INTEGER NOT NULL
)`

// Store persists the chart window to a local sqlite file. One row: the JSON
// payload and its write timestamp (epoch milliseconds).
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

// Open creates or opens the cache database at path and ensures the schema.
// ttl bounds how old a persisted window may be before a load discards it.
func Open(path string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &Store{db: db, ttl: ttl, clock: clockwork.NewRealClock(), logger: logger}, nil
}

// SetClock swaps the time source used for write timestamps and expiry checks.
// Pass nil to reset to real time.
func (s *Store) SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	s.clock = c
}

// Load returns the persisted window points, or nil when the row is absent,
// expired, from another schema version, or unreadable. Storage problems are
// logged, never returned: the hub must start without the cache.
func (s *Store) Load(ctx context.Context) []domain.ChartPoint {
	var payload string
	var writtenAt int64
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, written_at, schema_version FROM chart_window WHERE id = 1`,
	).Scan(&payload, &writtenAt, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		s.logger.Warn("cache load failed", "error", err)
		return nil
	}

	if version != schemaVersion {
		s.logger.Info("discarding cached window", "reason", "schema version", "found", version, "want", schemaVersion)
		return nil
	}
	age := s.clock.Now().Sub(time.UnixMilli(writtenAt))
	if age > s.ttl {
		s.logger.Info("discarding cached window", "reason", "expired", "age", age, "ttl", s.ttl)
		return nil
	}

	var points []domain.ChartPoint
	if err := json.Unmarshal([]byte(payload), &points); err != nil {
		s.logger.Warn("cache payload unreadable", "error", err)
		return nil
	}
	return points
}

// Save upserts the window with a fresh write timestamp. The error is returned
// so the hub can count persist failures, but callers treat it as non-fatal.
func (s *Store) Save(ctx context.Context, points []domain.ChartPoint) error {
	payload, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("encode window: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chart_window (id, payload, written_at, schema_version) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload,
		   written_at = excluded.written_at, schema_version = excluded.schema_version`,
		string(payload), s.clock.Now().UnixMilli(), schemaVersion,
	)
	if err != nil {
		return fmt.Errorf("write window: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
