package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ZCHAT_TOKEN", "tok")
	t.Setenv("ZCHAT_API_URL", "https://chat.example.com/api/")
	t.Setenv("ZCHAT_DAY_LOCATION", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/api", cfg.APIBaseURL)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.WSURL)
	assert.Equal(t, 30*time.Second, cfg.RingTimeout)
	assert.Equal(t, 3*time.Minute, cfg.GroupProximity)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, time.UTC, cfg.DayLocation)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ZCHAT_TOKEN", "tok")
	t.Setenv("ZCHAT_API_URL", "http://localhost:9000/api")
	t.Setenv("ZCHAT_WS_URL", "ws://relay:9001/ws")
	t.Setenv("ZCHAT_RING_TIMEOUT", "45s")
	t.Setenv("ZCHAT_GROUP_PROXIMITY", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://relay:9001/ws", cfg.WSURL)
	assert.Equal(t, 45*time.Second, cfg.RingTimeout)
	assert.Equal(t, 3*time.Minute, cfg.GroupProximity, "invalid values fall back to the default")
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("ZCHAT_TOKEN", "")
	_, err := Load()
	assert.ErrorContains(t, err, "ZCHAT_TOKEN")
}

func TestLoadRejectsBadLocation(t *testing.T) {
	t.Setenv("ZCHAT_TOKEN", "tok")
	t.Setenv("ZCHAT_DAY_LOCATION", "Mars/Olympus")
	_, err := Load()
	assert.ErrorContains(t, err, "ZCHAT_DAY_LOCATION")
}

func TestLoadRelay(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := LoadRelay()
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres:postgres@db:5432/zchat?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
}

func TestLoadRelayValidation(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadRelay()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "mysql")
	_, err = LoadRelay()
	assert.ErrorContains(t, err, "DB_DRIVER")
}
