package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	r := require.New(t)
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	r.NoError(err)
	r.Equal(8083, cfg.Port)
	r.Equal(StoreDriverPostgres, cfg.StoreDriver)
	r.Equal(PresenceBackendStore, cfg.PresenceBackend)
	r.Equal(90*time.Second, cfg.PresenceLiveness)
	r.Equal(5*time.Second, cfg.StoreTimeout)
	r.Equal(2*time.Second, cfg.ReorderWindow)
	r.Equal(64, cfg.SubscriberBuffer)
	r.False(cfg.DebugRoutes)
}

func TestLoadOverrides(t *testing.T) {
	r := require.New(t)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PRESENCE_LIVENESS", "30s")
	t.Setenv("DEBUG_ROUTES", "true")

	cfg, err := Load()
	r.NoError(err)
	r.Equal(StoreDriverMemory, cfg.StoreDriver)
	r.Equal(30*time.Second, cfg.PresenceLiveness)
	r.True(cfg.DebugRoutes)
}

func TestRedisBackendRequiresURL(t *testing.T) {
	r := require.New(t)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PRESENCE_BACKEND", "redis")

	_, err := Load()
	r.ErrorContains(err, "REDIS_URL")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Config{
		StoreDriver:      "mongo",
		PresenceBackend:  PresenceBackendStore,
		StoreTimeout:     time.Second,
		PresenceLiveness: time.Second,
		SubscriberBuffer: 1,
	}
	require.ErrorContains(t, cfg.Validate(), "STORE_DRIVER")
}
