package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"WORKER_RETRY_MAX_ATTEMPTS", "WORKER_RETRY_BACKOFF_BASE_MS",
		"WORKER_RETRY_BACKOFF_MAX_MS", "WORKER_RETRY_JITTER_FRACTION",
		"SESSION_REUSE_WINDOW_HOURS", "AGENT_RESPONSE_TIMEOUT_SECONDS",
		"QUEUE_POLL_TIMEOUT_MS", "QUEUE_BATCH_SIZE", "QUEUE_CONSUMER_GROUP",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 500, cfg.Worker.BackoffBaseMS)
	assert.Equal(t, 30000, cfg.Worker.BackoffMaxMS)
	assert.Equal(t, 0.2, cfg.Worker.JitterFraction)
	assert.Equal(t, 24, cfg.Session.ReuseWindowHours)
	assert.Equal(t, 180, cfg.Agent.TimeoutSeconds)
	assert.Equal(t, "migrations", cfg.Postgres.MigrationsDir)
	assert.Equal(t, 1000, cfg.Queue.PollTimeoutMS)
	assert.Equal(t, int64(10), cfg.Queue.BatchSize)
	assert.Equal(t, "ingest-workers", cfg.Queue.ConsumerGroup)
	assert.Equal(t, "ingest.incoming", cfg.Queue.IncomingStream)
	assert.Equal(t, "ingest.dead_letter", cfg.Queue.DeadLetterStream)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero retry attempts", "WORKER_RETRY_MAX_ATTEMPTS", "0"},
		{"negative backoff base", "WORKER_RETRY_BACKOFF_BASE_MS", "-1"},
		{"jitter above one", "WORKER_RETRY_JITTER_FRACTION", "1.5"},
		{"jitter not a number", "WORKER_RETRY_JITTER_FRACTION", "lots"},
		{"zero session window", "SESSION_REUSE_WINDOW_HOURS", "0"},
		{"zero poll timeout", "QUEUE_POLL_TIMEOUT_MS", "0"},
		{"zero agent timeout", "AGENT_RESPONSE_TIMEOUT_SECONDS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestBackoffBoundsMustBeOrdered(t *testing.T) {
	t.Setenv("WORKER_RETRY_BACKOFF_BASE_MS", "5000")
	t.Setenv("WORKER_RETRY_BACKOFF_MAX_MS", "1000")
	_, err := Load()
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{}
	cfg.Queue.PollTimeoutMS = 1500
	cfg.Session.ReuseWindowHours = 24
	cfg.Agent.TimeoutSeconds = 180

	assert.Equal(t, "1.5s", cfg.Queue.PollTimeout().String())
	assert.Equal(t, "24h0m0s", cfg.Session.ReuseWindow().String())
	assert.Equal(t, "3m0s", cfg.Agent.Timeout().String())
}
