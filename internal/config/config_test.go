package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SEED_OWNER_PASSWORD", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.SeedOwnerPassword)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", " postgres://localhost/dahab ")
	t.Setenv("PRICE_POLL_INTERVAL", "90s")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "postgres://localhost/dahab", cfg.DatabaseURL)
	assert.Equal(t, 90*time.Second, cfg.PricePollInterval)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "owner", cfg.SeedOwnerUsername)
}
