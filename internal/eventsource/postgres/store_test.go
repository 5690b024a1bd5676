package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource/storetest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	suite.Run(t, &storetest.Suite{NewStore: func() eventsource.Store {
		_, err := pool.Exec(ctx, `TRUNCATE ledger_events`)
		require.NoError(t, err)
		return store
	}})
}
