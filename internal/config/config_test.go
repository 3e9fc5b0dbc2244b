package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8001", cfg.HTTPPort)
	assert.Equal(t, 3, cfg.OutboxMaxRetries)
	assert.Equal(t, time.Second, cfg.OutboxBackoffUnit)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Empty(t, cfg.ValidAPIKeys)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("OUTBOX_MAX_RETRIES", "5")
	t.Setenv("SYNC_INTERVAL", "10s")
	t.Setenv("VALID_API_KEYS", "a, b,,c")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.HTTPPort)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.SyncInterval)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.ValidAPIKeys)
}

func TestLoadFallsBackOnGarbage(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "lots")
	t.Setenv("PROBE_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int32(15), cfg.DBMaxConns)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CHAT_WEBHOOK_URL", "not a url")

	_, err := Load()
	require.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "5432", DBName: "d", DBMaxConns: 4}
	assert.Equal(t, "postgres://u:p@h:5432/d?pool_max_conns=4", cfg.DatabaseURL())
}
