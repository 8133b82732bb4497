package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Client.APIURL)
	assert.Equal(t, 2*time.Minute, cfg.Client.StreamIdleTimeout)
	assert.True(t, cfg.Client.UseStream)
	assert.Equal(t, 20, cfg.Server.HistoryLimit)
	assert.Equal(t, "mock", cfg.Server.DefaultLLM)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:3001"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Server.NATSURL)
	assert.Equal(t, 7*24*time.Hour, cfg.Server.JournalMaxAge)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAT_API_URL", "https://chat.example.com")
	t.Setenv("STREAM_IDLE_TIMEOUT", "0")
	t.Setenv("USE_STREAM", "false")
	t.Setenv("HISTORY_LIMIT", "5")
	t.Setenv("MOCK_DELAY", "1ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.Client.APIURL)
	assert.Zero(t, cfg.Client.StreamIdleTimeout)
	assert.False(t, cfg.Client.UseStream)
	assert.Equal(t, 5, cfg.Server.HistoryLimit)
	assert.Equal(t, time.Millisecond, cfg.Server.MockDelay)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad url", "CHAT_API_URL", "not a url"},
		{"bad duration", "REQUEST_TIMEOUT", "soon"},
		{"negative idle", "STREAM_IDLE_TIMEOUT", "-1s"},
		{"zero history", "HISTORY_LIMIT", "0"},
		{"cert without key", "NATS_CERT_FILE", "client.pem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
