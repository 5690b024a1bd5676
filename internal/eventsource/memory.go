package eventsource

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore is a process-local Store used by tests and the `memory` store kind.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[StreamID][]Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[StreamID][]Record)}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, stream StreamID, expected Version, records []Record) (Version, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ValidateAppend(stream, expected, records); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := Version(len(s.streams[stream]))
	if current != expected {
		return current, fmt.Errorf("%w: stream %s at version %d, expected %d", ErrConcurrencyConflict, stream, current, expected)
	}
	s.streams[stream] = append(s.streams[stream], records...)
	return Version(len(s.streams[stream])), nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, stream StreamID) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.streams[stream]))
	copy(out, s.streams[stream])
	return out, nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, stream StreamID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[stream]) > 0, nil
}

// Streams lists the stream ids recorded for a tenant and aggregate type, sorted.
func (s *MemoryStore) Streams(ctx context.Context, tenantID, aggregateType string) ([]StreamID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StreamID
	for id, recs := range s.streams {
		if len(recs) > 0 && recs[0].TenantID == tenantID && recs[0].AggregateType == aggregateType {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}
