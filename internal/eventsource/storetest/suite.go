// Package storetest holds the behaviour every eventsource.Store must satisfy.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
)

// Suite runs the Store contract against the store returned by NewStore.
type Suite struct {
	suite.Suite
	NewStore func() eventsource.Store

	store eventsource.Store
	ctx   context.Context
}

// SetupTest creates a fresh store per test.
func (s *Suite) SetupTest() {
	s.store = s.NewStore()
	s.ctx = context.Background()
}

// Records builds a contiguous batch after expected.
func Records(stream eventsource.StreamID, expected eventsource.Version, types ...string) []eventsource.Record {
	out := make([]eventsource.Record, 0, len(types))
	for i, typ := range types {
		out = append(out, eventsource.Record{
			ID:            uuid.New(),
			StreamID:      stream,
			AggregateID:   "acc-1",
			AggregateType: "account",
			TenantID:      "tenant-a",
			Type:          typ,
			SchemaVersion: 1,
			Version:       expected + eventsource.Version(i) + 1,
			Payload:       json.RawMessage(`{"n":` + string(rune('0'+i)) + `}`),
			CreatedAt:     time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		})
	}
	return out
}

func (s *Suite) TestAppendAndLoadInOrder() {
	t := s.T()
	stream := eventsource.NewStreamID("tenant-a", "account", "acc-1")

	v, err := s.store.Append(s.ctx, stream, eventsource.NoStream, Records(stream, 0, "a", "b"))
	require.NoError(t, err)
	require.Equal(t, eventsource.Version(2), v)

	v, err = s.store.Append(s.ctx, stream, 2, Records(stream, 2, "c"))
	require.NoError(t, err)
	require.Equal(t, eventsource.Version(3), v)

	got, err := s.store.Load(s.ctx, stream)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rec := range got {
		require.Equal(t, eventsource.Version(i+1), rec.Version)
		require.Equal(t, "tenant-a", rec.TenantID)
		require.Equal(t, "acc-1", rec.AggregateID)
	}
	require.Equal(t, []string{"a", "b", "c"}, []string{got[0].Type, got[1].Type, got[2].Type})
	require.JSONEq(t, `{"n":0}`, string(got[2].Payload))
	require.True(t, got[0].CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func (s *Suite) TestStaleExpectedVersionConflicts() {
	t := s.T()
	stream := eventsource.NewStreamID("tenant-a", "account", "acc-2")

	_, err := s.store.Append(s.ctx, stream, eventsource.NoStream, Records(stream, 0, "a"))
	require.NoError(t, err)

	_, err = s.store.Append(s.ctx, stream, eventsource.NoStream, Records(stream, 0, "b"))
	require.ErrorIs(t, err, eventsource.ErrConcurrencyConflict)

	got, err := s.store.Load(s.ctx, stream)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func (s *Suite) TestConcurrentWritersOneWins() {
	t := s.T()
	stream := eventsource.NewStreamID("tenant-a", "account", "acc-3")

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Append(s.ctx, stream, eventsource.NoStream, Records(stream, 0, "race"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, eventsource.ErrConcurrencyConflict)
		conflicts++
	}
	require.Equal(t, 1, ok)
	require.Equal(t, writers-1, conflicts)
}

func (s *Suite) TestRejectsMalformedBatch() {
	t := s.T()
	stream := eventsource.NewStreamID("tenant-a", "account", "acc-4")
	batch := Records(stream, 0, "a", "b")
	batch[1].Version = 5

	_, err := s.store.Append(s.ctx, stream, eventsource.NoStream, batch)
	require.ErrorIs(t, err, eventsource.ErrInvalidRecord)
}

func (s *Suite) TestExistsAndEmptyStream() {
	t := s.T()
	stream := eventsource.NewStreamID("tenant-a", "account", "acc-5")

	ok, err := s.store.Exists(s.ctx, stream)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.store.Load(s.ctx, stream)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = s.store.Append(s.ctx, stream, eventsource.NoStream, Records(stream, 0, "a"))
	require.NoError(t, err)

	ok, err = s.store.Exists(s.ctx, stream)
	require.NoError(t, err)
	require.True(t, ok)
}

func (s *Suite) TestStreamsAreIsolatedPerTenant() {
	t := s.T()
	a := eventsource.NewStreamID("tenant-a", "account", "shared-id")
	b := eventsource.NewStreamID("tenant-b", "account", "shared-id")

	_, err := s.store.Append(s.ctx, a, eventsource.NoStream, Records(a, 0, "a"))
	require.NoError(t, err)

	got, err := s.store.Load(s.ctx, b)
	require.NoError(t, err)
	require.Empty(t, got)
}

func (s *Suite) TestStreamsListsTenantStreams() {
	t := s.T()
	lister, ok := s.store.(eventsource.StreamLister)
	if !ok {
		t.Skip("store cannot list streams")
	}
	a1 := eventsource.NewStreamID("tenant-a", "account", "acc-1")
	a2 := eventsource.NewStreamID("tenant-a", "account", "acc-2")
	_, err := s.store.Append(s.ctx, a2, eventsource.NoStream, Records(a2, 0, "a"))
	require.NoError(t, err)
	_, err = s.store.Append(s.ctx, a1, eventsource.NoStream, Records(a1, 0, "a", "b"))
	require.NoError(t, err)

	got, err := lister.Streams(s.ctx, "tenant-a", "account")
	require.NoError(t, err)
	require.Equal(t, []eventsource.StreamID{a1, a2}, got)

	got, err = lister.Streams(s.ctx, "tenant-b", "account")
	require.NoError(t, err)
	require.Empty(t, got)
}
