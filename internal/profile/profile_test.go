package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "bosswork:", p.RedisKeyPrefix)
	assert.Equal(t, 30*time.Second, p.BackendTimeout)
	assert.Equal(t, 30*time.Minute, p.PlanningTimeout)
	assert.Equal(t, 24*time.Hour, p.PlanningStaleAfter)
	assert.Equal(t, 7*24*time.Hour, p.PlanningRetention)
	assert.False(t, p.IsRedisEnabled())
	assert.False(t, p.IsAIEnabled())
}

func TestProfileFromEnv(t *testing.T) {
	t.Setenv("BOSSWORK_REDIS_ADDR", "localhost:6379")
	t.Setenv("BOSSWORK_PLANNING_TIMEOUT", "15m")
	t.Setenv("BOSSWORK_PLANNING_STALE_AFTER", "48h")
	t.Setenv("BOSSWORK_OPENAI_API_KEY", "test-key-123")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "localhost:6379", p.RedisAddr)
	assert.Equal(t, 15*time.Minute, p.PlanningTimeout)
	assert.Equal(t, 48*time.Hour, p.PlanningStaleAfter)
	assert.True(t, p.IsRedisEnabled())
	assert.True(t, p.IsAIEnabled())
}

func TestProfileFromEnvInvalidDuration(t *testing.T) {
	t.Setenv("BOSSWORK_PLANNING_TIMEOUT", "not-a-duration")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, 30*time.Minute, p.PlanningTimeout)
}

func TestProfileValidate(t *testing.T) {
	t.Run("SQLiteDefaults", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir()}
		p.FromEnv()
		require.NoError(t, p.Validate())

		assert.Equal(t, "sqlite", p.Driver)
		assert.Contains(t, p.DSN, "bosswork_dev.db")
	})

	t.Run("PostgresRequiresDSN", func(t *testing.T) {
		p := &Profile{Mode: "prod", Driver: "postgres", Data: t.TempDir()}
		p.FromEnv()
		assert.Error(t, p.Validate())
	})

	t.Run("UnknownModeFallsBackToDev", func(t *testing.T) {
		p := &Profile{Mode: "demo", Data: t.TempDir()}
		p.FromEnv()
		require.NoError(t, p.Validate())
		assert.Equal(t, "dev", p.Mode)
	})
}
