// Package sqlite implements eventsource.Store on a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	id             TEXT PRIMARY KEY,
	stream_id      TEXT    NOT NULL,
	version        INTEGER NOT NULL,
	aggregate_id   TEXT    NOT NULL,
	aggregate_type TEXT    NOT NULL,
	tenant_id      TEXT    NOT NULL,
	event_type     TEXT    NOT NULL,
	schema_version INTEGER NOT NULL DEFAULT 1,
	payload        TEXT    NOT NULL,
	created_at     TEXT    NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ledger_events_stream_version ON ledger_events (stream_id, version);
`

// Store persists event streams in SQLite.
type Store struct {
	db *sql.DB
	// SQLite allows one writer; serialising here avoids SQLITE_BUSY churn.
	mu sync.Mutex
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("eventsource/sqlite: open: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("eventsource/sqlite: ensure schema: %w", err)
	}
	return &Store{db: conn}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements eventsource.Store.
func (s *Store) Append(ctx context.Context, stream eventsource.StreamID, expected eventsource.Version, records []eventsource.Record) (eventsource.Version, error) {
	if err := eventsource.ValidateAppend(stream, expected, records); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("eventsource/sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var head int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM ledger_events WHERE stream_id = ?`, string(stream)).Scan(&head); err != nil {
		return 0, fmt.Errorf("eventsource/sqlite: read head: %w", err)
	}
	current := eventsource.Version(head)
	if current != expected {
		return current, fmt.Errorf("%w: stream %s at version %d, expected %d", eventsource.ErrConcurrencyConflict, stream, current, expected)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_events
		(id, stream_id, version, aggregate_id, aggregate_type, tenant_id, event_type, schema_version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("eventsource/sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.ID.String(), string(rec.StreamID), int64(rec.Version), rec.AggregateID,
			rec.AggregateType, rec.TenantID, rec.Type, rec.SchemaVersion, string(rec.Payload),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			if isUniqueViolation(err) {
				return 0, fmt.Errorf("%w: stream %s: %v", eventsource.ErrConcurrencyConflict, stream, err)
			}
			return 0, fmt.Errorf("eventsource/sqlite: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("eventsource/sqlite: commit: %w", err)
	}
	return expected + eventsource.Version(len(records)), nil
}

// Load implements eventsource.Store.
func (s *Store) Load(ctx context.Context, stream eventsource.StreamID) ([]eventsource.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, stream_id, version, aggregate_id, aggregate_type, tenant_id,
		event_type, schema_version, payload, created_at
		FROM ledger_events WHERE stream_id = ? ORDER BY version`, string(stream))
	if err != nil {
		return nil, fmt.Errorf("eventsource/sqlite: load: %w", err)
	}
	defer rows.Close()

	var out []eventsource.Record
	for rows.Next() {
		var (
			rec       eventsource.Record
			id        string
			streamID  string
			version   int64
			payload   string
			createdAt string
		)
		if err := rows.Scan(&id, &streamID, &version, &rec.AggregateID, &rec.AggregateType, &rec.TenantID,
			&rec.Type, &rec.SchemaVersion, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("eventsource/sqlite: scan: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("eventsource/sqlite: event id %q: %w", id, err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("eventsource/sqlite: created_at %q: %w", createdAt, err)
		}
		rec.StreamID = eventsource.StreamID(streamID)
		rec.Version = eventsource.Version(version)
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventsource/sqlite: rows: %w", err)
	}
	return out, nil
}

// Exists implements eventsource.Store.
func (s *Store) Exists(ctx context.Context, stream eventsource.StreamID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_events WHERE stream_id = ?)`, string(stream)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("eventsource/sqlite: exists: %w", err)
	}
	return ok, nil
}

// Streams lists the distinct stream ids recorded for a tenant and aggregate type.
func (s *Store) Streams(ctx context.Context, tenantID, aggregateType string) ([]eventsource.StreamID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT stream_id FROM ledger_events
		WHERE tenant_id = ? AND aggregate_type = ? ORDER BY stream_id`, tenantID, aggregateType)
	if err != nil {
		return nil, fmt.Errorf("eventsource/sqlite: streams: %w", err)
	}
	defer rows.Close()
	var out []eventsource.StreamID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("eventsource/sqlite: scan stream: %w", err)
		}
		out = append(out, eventsource.StreamID(id))
	}
	return out, rows.Err()
}

// isUniqueViolation reports a duplicate (stream, version) or event id.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
