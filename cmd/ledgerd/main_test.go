package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	_ "github.com/odyssey-erp/odyssey-ledger/internal/testing/guard"
)

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}

func TestRuntimeWiresMemoryStore(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := &app.Config{
		AppEnv:             "test",
		AppAddr:            "127.0.0.1:0",
		AppRateLimit:       1000,
		EventStore:         app.StoreMemory,
		RedisAddr:          srv.Addr(),
		LedgerMaxRetries:   3,
		LedgerEventChannel: "ledger.events",
		LedgerVerifyCron:   "0 3 * * *",
		LedgerVerifyTenant: "tenant-a",
	}
	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	require.NotNil(t, rt.worker)
	require.NotNil(t, rt.redis)

	_, err = rt.service.CreateAccount(ctx, ledger.CreateAccount{
		AccountID: "cash",
		TenantID:  "tenant-a",
		Code:      "1000",
		Name:      "Cash",
		Type:      ledger.AccountTypeAsset,
		Currency:  money.USD,
	})
	require.NoError(t, err)
	_, err = rt.service.Debit(ctx, "tenant-a", "cash", money.FromInt(10, money.USD), "ops")
	require.NoError(t, err)

	version, err := rt.redis.Get(ctx, "ledger:version:tenant-a").Int64()
	require.NoError(t, err)
	require.Equal(t, int64(2), version)

	rec := httptest.NewRecorder()
	rt.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/tenant-a/cash/verify", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	rt.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ledger_commands_total")
}
