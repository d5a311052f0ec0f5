package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Wyydra/callsig/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: prod
http:
  address: ":9000"
signaling:
  ring_timeout: 10s
  session_retention: 5s
websocket:
  send_queue: 8
  allowed_origins: ["https://app.example.com"]
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":9000", cfg.HTTP.Address)
	assert.Equal(t, 10*time.Second, cfg.Signaling.RingTimeout)
	assert.Equal(t, 5*time.Second, cfg.Signaling.SessionRetention)
	assert.Equal(t, 8, cfg.WebSocket.SendQueue)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.WebSocket.AllowedOrigins)

	// untouched keys keep their defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingPeriod())
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":7070")
	t.Setenv("SIGNALING_RING_TIMEOUT", "3s")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Address)
	assert.Equal(t, 3*time.Second, cfg.Signaling.RingTimeout)
	assert.Equal(t, 30*time.Second, cfg.Signaling.SessionRetention)
	assert.Equal(t, "local", cfg.Env)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SIGNALING_RING_TIMEOUT", "0s")

	_, err := config.Load("")
	assert.Error(t, err)
}
