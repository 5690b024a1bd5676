package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrConcurrencyConflict indicates the expected version no longer matches the stream.
	ErrConcurrencyConflict = errors.New("eventsource: concurrency conflict")
	// ErrInvalidRecord indicates a malformed record handed to Append.
	ErrInvalidRecord = errors.New("eventsource: invalid record")
)

// StreamID names one aggregate's event stream: {tenant}-{aggregateType}-{aggregateID}.
type StreamID string

// NewStreamID composes the stream key for an aggregate instance.
func NewStreamID(tenantID, aggregateType, aggregateID string) StreamID {
	return StreamID(fmt.Sprintf("%s-%s-%s", tenantID, aggregateType, aggregateID))
}

// Record is the persisted form of one event.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	StreamID      StreamID        `json:"stream_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	TenantID      string          `json:"tenant_id"`
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	Version       Version         `json:"version"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store persists and reads event streams.
type Store interface {
	// Append writes records after expected; records carry versions expected+1..n.
	// A stale expected version yields ErrConcurrencyConflict.
	Append(ctx context.Context, stream StreamID, expected Version, records []Record) (Version, error)
	// Load returns the stream in version order; an unknown stream is empty.
	Load(ctx context.Context, stream StreamID) ([]Record, error)
	// Exists reports whether the stream has at least one event.
	Exists(ctx context.Context, stream StreamID) (bool, error)
}

// StreamLister is implemented by stores that can enumerate their streams.
type StreamLister interface {
	Streams(ctx context.Context, tenantID, aggregateType string) ([]StreamID, error)
}

// ValidateAppend checks the record batch shape shared by every Store.
func ValidateAppend(stream StreamID, expected Version, records []Record) error {
	if strings.TrimSpace(string(stream)) == "" {
		return fmt.Errorf("%w: stream id required", ErrInvalidRecord)
	}
	if expected < NoStream {
		return fmt.Errorf("%w: negative expected version", ErrInvalidRecord)
	}
	for i, rec := range records {
		if rec.StreamID != stream {
			return fmt.Errorf("%w: record %d belongs to stream %s", ErrInvalidRecord, i, rec.StreamID)
		}
		if rec.Version != expected+Version(i)+1 {
			return fmt.Errorf("%w: record %d has version %d, want %d", ErrInvalidRecord, i, rec.Version, expected+Version(i)+1)
		}
		if rec.Type == "" {
			return fmt.Errorf("%w: record %d missing type", ErrInvalidRecord, i)
		}
		if rec.ID == uuid.Nil {
			return fmt.Errorf("%w: record %d missing id", ErrInvalidRecord, i)
		}
	}
	return nil
}
