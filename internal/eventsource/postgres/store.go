// Package postgres implements eventsource.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	id             UUID PRIMARY KEY,
	stream_id      TEXT        NOT NULL,
	version        BIGINT      NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	tenant_id      TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	schema_version INT         NOT NULL DEFAULT 1,
	payload        JSONB       NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (stream_id, version)
);
CREATE INDEX IF NOT EXISTS ledger_events_tenant_idx ON ledger_events (tenant_id, aggregate_type);
`

// Store persists event streams in the ledger_events table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the events table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("eventsource/postgres: ensure schema: %w", err)
	}
	return nil
}

// Append implements eventsource.Store.
func (s *Store) Append(ctx context.Context, stream eventsource.StreamID, expected eventsource.Version, records []eventsource.Record) (eventsource.Version, error) {
	if err := eventsource.ValidateAppend(stream, expected, records); err != nil {
		return 0, err
	}
	var current eventsource.Version
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var head int64
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM ledger_events WHERE stream_id = $1`, string(stream)).Scan(&head); err != nil {
			return fmt.Errorf("eventsource/postgres: read head: %w", err)
		}
		current = eventsource.Version(head)
		if current != expected {
			return fmt.Errorf("%w: stream %s at version %d, expected %d", eventsource.ErrConcurrencyConflict, stream, current, expected)
		}
		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(`INSERT INTO ledger_events
				(id, stream_id, version, aggregate_id, aggregate_type, tenant_id, event_type, schema_version, payload, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)`,
				rec.ID.String(), string(rec.StreamID), int64(rec.Version), rec.AggregateID, rec.AggregateType,
				rec.TenantID, rec.Type, rec.SchemaVersion, string(rec.Payload), rec.CreatedAt.UTC())
		}
		results := tx.SendBatch(ctx, batch)
		for range records {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return err
			}
		}
		if err := results.Close(); err != nil {
			return err
		}
		current = expected + eventsource.Version(len(records))
		return nil
	})
	if err != nil {
		if errors.Is(err, eventsource.ErrConcurrencyConflict) {
			return current, err
		}
		if db.IsUniqueViolation(err) || db.IsSerializationFailure(err) {
			return 0, fmt.Errorf("%w: stream %s: %v", eventsource.ErrConcurrencyConflict, stream, err)
		}
		return 0, fmt.Errorf("eventsource/postgres: append: %w", err)
	}
	return current, nil
}

// Load implements eventsource.Store.
func (s *Store) Load(ctx context.Context, stream eventsource.StreamID) ([]eventsource.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text, stream_id, version, aggregate_id, aggregate_type, tenant_id,
		event_type, schema_version, payload::text, created_at
		FROM ledger_events WHERE stream_id = $1 ORDER BY version`, string(stream))
	if err != nil {
		return nil, fmt.Errorf("eventsource/postgres: load: %w", err)
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
			createdAt time.Time
		)
		if err := rows.Scan(&id, &streamID, &version, &rec.AggregateID, &rec.AggregateType, &rec.TenantID,
			&rec.Type, &rec.SchemaVersion, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("eventsource/postgres: scan: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("eventsource/postgres: event id %q: %w", id, err)
		}
		rec.ID = parsed
		rec.StreamID = eventsource.StreamID(streamID)
		rec.Version = eventsource.Version(version)
		rec.Payload = []byte(payload)
		rec.CreatedAt = createdAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventsource/postgres: rows: %w", err)
	}
	return out, nil
}

// Exists implements eventsource.Store.
func (s *Store) Exists(ctx context.Context, stream eventsource.StreamID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_events WHERE stream_id = $1)`, string(stream)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("eventsource/postgres: exists: %w", err)
	}
	return ok, nil
}

// Streams lists the distinct stream ids recorded for a tenant and aggregate type.
func (s *Store) Streams(ctx context.Context, tenantID, aggregateType string) ([]eventsource.StreamID, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT stream_id FROM ledger_events
		WHERE tenant_id = $1 AND aggregate_type = $2 ORDER BY stream_id`, tenantID, aggregateType)
	if err != nil {
		return nil, fmt.Errorf("eventsource/postgres: streams: %w", err)
	}
	defer rows.Close()
	var out []eventsource.StreamID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("eventsource/postgres: scan stream: %w", err)
		}
		out = append(out, eventsource.StreamID(id))
	}
	return out, rows.Err()
}
