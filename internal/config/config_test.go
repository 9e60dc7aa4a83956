package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.usaspending.gov/api/v2", cfg.USASpending.BaseURL)
	assert.Equal(t, 30, cfg.USASpending.TimeoutSecs)
	assert.Equal(t, 5.0, cfg.USASpending.RateLimit)
	assert.Equal(t, "spendtrack/1.0", cfg.USASpending.UserAgent)
	assert.Equal(t, 5, cfg.USASpending.FullWindowYears)

	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Empty(t, cfg.Store.DatabaseURL)

	assert.Equal(t, 5, cfg.Sync.DefaultPages)
	assert.Equal(t, 100, cfg.Sync.PageSize)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPENDTRACK_STORE_DATABASE_URL", "postgres://worker:pw@db:5432/spendtrack")
	t.Setenv("SPENDTRACK_SYNC_DEFAULT_PAGES", "9")
	t.Setenv("SPENDTRACK_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://worker:pw@db:5432/spendtrack", cfg.Store.DatabaseURL)
	assert.Equal(t, 9, cfg.Sync.DefaultPages)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))

	err := InitLogger(LogConfig{Level: "shouting", Format: "json"})
	require.Error(t, err)
}
