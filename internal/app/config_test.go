package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("EVENT_STORE", "")
	cfg, err := LoadConfig()
	require.Error(t, err)
	require.Nil(t, cfg)

	t.Setenv("EVENT_STORE", "Memory")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.EventStore)
	require.Equal(t, ":8081", cfg.AppAddr)
	require.Equal(t, 3, cfg.LedgerMaxRetries)
	require.Equal(t, "ledger.events", cfg.LedgerEventChannel)
	require.Equal(t, "0 3 * * *", cfg.LedgerVerifyCron)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		cfg Config
		err string
	}{
		"postgres without dsn": {Config{EventStore: "postgres"}, "PG_DSN"},
		"sqlite without path":  {Config{EventStore: "sqlite"}, "SQLITE_PATH"},
		"memory in production": {Config{EventStore: "memory", AppEnv: "production"}, "not allowed"},
		"unknown store":        {Config{EventStore: "mongo"}, "unknown EVENT_STORE"},
		"negative retries":     {Config{EventStore: "memory", LedgerMaxRetries: -1}, "must not be negative"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := tc.cfg
			require.ErrorContains(t, cfg.Validate(), tc.err)
		})
	}

	ok := Config{EventStore: " SQLITE ", SQLitePath: "/tmp/l.db"}
	require.NoError(t, ok.Validate())
	require.Equal(t, StoreSQLite, ok.EventStore)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "account_id", "cash")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.HasPrefix(out, "{"))
	require.Contains(t, out, `"account_id":"cash"`)

	buf.Reset()
	newLogger(&Config{LogLevel: "debug"}, &buf).Debug("visible")
	require.Contains(t, buf.String(), "msg=visible")
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
