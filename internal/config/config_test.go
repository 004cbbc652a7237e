package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 5, cfg.TriageMaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.MessagingWindow)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 3, cfg.MatchMaxRetries)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TRIAGE_MAX_ATTEMPTS", "7")
	t.Setenv("MESSAGING_WINDOW", "12h")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 7, cfg.TriageMaxAttempts)
	assert.Equal(t, 12*time.Hour, cfg.MessagingWindow)
	assert.True(t, cfg.UseMemoryQueue)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("WORKER_COUNT", "not-a-number")
	t.Setenv("SWEEP_INTERVAL", "soon")

	cfg := Load()

	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}
