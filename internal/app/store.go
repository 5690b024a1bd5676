package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource/postgres"
	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource/sqlite"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// EventStore bundles the configured store with the resources it owns.
type EventStore struct {
	Kind  string
	Store interface {
		eventsource.Store
		eventsource.StreamLister
	}
	// Pool is set for the postgres store and shared with the audit logger.
	Pool  *pgxpool.Pool
	close func()
}

// OpenEventStore opens the store selected by EVENT_STORE and ensures its schema.
func OpenEventStore(ctx context.Context, cfg *Config) (*EventStore, error) {
	switch cfg.EventStore {
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns))
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &EventStore{Kind: StorePostgres, Store: store, Pool: pool, close: pool.Close}, nil
	case StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &EventStore{Kind: StoreSQLite, Store: store, close: func() { _ = store.Close() }}, nil
	case StoreMemory:
		return &EventStore{Kind: StoreMemory, Store: eventsource.NewMemoryStore(), close: func() {}}, nil
	default:
		return nil, fmt.Errorf("config: unknown EVENT_STORE %q", cfg.EventStore)
	}
}

// Close releases the store resources.
func (s *EventStore) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}
