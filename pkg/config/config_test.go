package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Signaling.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.Signaling.ReconnectBaseDelay)
	assert.Equal(t, 5, cfg.WebRTC.CandidateErrorThreshold)
	assert.Equal(t, 15*time.Second, cfg.WebRTC.CloseGraceWindow)
	assert.Equal(t, 3*time.Second, cfg.Capture.Interval)
	assert.NotEmpty(t, cfg.WebRTC.ICEServers)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Endpoints.SignalURL)
}

func TestLoad_FromYAML(t *testing.T) {
	path := writeTempConfig(t, `
endpoints:
  signal_url: ws://signal.example.com
  api_base_url: http://api.example.com
signaling:
  max_reconnect_attempts: 3
  reconnect_base_delay: 500ms
webrtc:
  port_range:
    min: 50000
    max: 50100
capture:
  interval: 5s
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://signal.example.com", cfg.Endpoints.SignalURL)
	assert.Equal(t, 3, cfg.Signaling.MaxReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Signaling.ReconnectBaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Capture.Interval)
	assert.Equal(t, uint16(50000), cfg.WebRTC.PortRange.Min)
	assert.Equal(t, uint16(50100), cfg.WebRTC.PortRange.Max)
	// Unset sections keep their defaults.
	assert.Equal(t, 8*time.Second, cfg.Relay.JoinTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STREAMCART_SIGNAL_URL", "ws://env.example.com")
	t.Setenv("STREAMCART_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ws://env.example.com", cfg.Endpoints.SignalURL)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty signal url", func(c *Config) { c.Endpoints.SignalURL = "" }},
		{"negative reconnect attempts", func(c *Config) { c.Signaling.MaxReconnectAttempts = -1 }},
		{"zero base delay", func(c *Config) { c.Signaling.ReconnectBaseDelay = 0 }},
		{"no ice servers", func(c *Config) { c.WebRTC.ICEServers = nil }},
		{"zero candidate threshold", func(c *Config) { c.WebRTC.CandidateErrorThreshold = 0 }},
		{"port range missing max", func(c *Config) { c.WebRTC.PortRange.Min = 50000 }},
		{"port range inverted", func(c *Config) {
			c.WebRTC.PortRange.Min = 51000
			c.WebRTC.PortRange.Max = 50000
		}},
		{"relay join timeout too long", func(c *Config) { c.Relay.JoinTimeout = 30 * time.Second }},
		{"rtp port collision", func(c *Config) { c.Media.AudioRTPPort = c.Media.VideoRTPPort }},
		{"zero capture interval", func(c *Config) { c.Capture.Interval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
