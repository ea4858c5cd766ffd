package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Endpoints struct {
		SignalURL  string `yaml:"signal_url"`
		RelayURL   string `yaml:"relay_url"`
		APIBaseURL string `yaml:"api_base_url"`
	} `yaml:"endpoints"`

	Signaling struct {
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
		PingInterval         time.Duration `yaml:"ping_interval"`
		PongTimeout          time.Duration `yaml:"pong_timeout"`
		WriteTimeout         time.Duration `yaml:"write_timeout"`
		MessagesPerSecond    float64       `yaml:"messages_per_second"`
		MessageBurst         int           `yaml:"message_burst"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		CloseGraceWindow        time.Duration `yaml:"close_grace_window"`
		CandidateErrorThreshold int           `yaml:"candidate_error_threshold"`
		// PortRange pins ICE to a fixed UDP port window for firewalled
		// deployments; zero values leave port selection to the OS.
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Relay struct {
		JoinTimeout time.Duration `yaml:"join_timeout"`
		// MaxDirectViewers is the direct-session capacity before a
		// broadcaster falls back to publishing through the relay.
		MaxDirectViewers int `yaml:"max_direct_viewers"`
	} `yaml:"relay"`

	Capture struct {
		Interval time.Duration `yaml:"interval"`
		FrameURL string        `yaml:"frame_url"`
	} `yaml:"capture"`

	Media struct {
		VideoRTPPort int           `yaml:"video_rtp_port"`
		AudioRTPPort int           `yaml:"audio_rtp_port"`
		ProbeTimeout time.Duration `yaml:"probe_timeout"`
	} `yaml:"media"`

	Chat struct {
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"chat"`

	Control struct {
		Address           string  `yaml:"address"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"control"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Auth struct {
		Token string `yaml:"token"`
	} `yaml:"auth"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Endpoints.SignalURL == "" {
		return fmt.Errorf("endpoints.signal_url must not be empty")
	}
	if c.Endpoints.APIBaseURL == "" {
		return fmt.Errorf("endpoints.api_base_url must not be empty")
	}

	if c.Signaling.MaxReconnectAttempts < 0 {
		return fmt.Errorf("signaling.max_reconnect_attempts must be >= 0")
	}
	if c.Signaling.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("signaling.reconnect_base_delay must be > 0")
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.PongTimeout <= c.Signaling.PingInterval {
		return fmt.Errorf("signaling.pong_timeout must be > ping_interval")
	}
	if c.Signaling.WriteTimeout <= 0 {
		return fmt.Errorf("signaling.write_timeout must be > 0")
	}
	if c.Signaling.MessagesPerSecond <= 0 {
		return fmt.Errorf("signaling.messages_per_second must be > 0")
	}

	if len(c.WebRTC.ICEServers) == 0 {
		return fmt.Errorf("webrtc.ice_servers must contain at least one entry")
	}
	if c.WebRTC.CloseGraceWindow <= 0 {
		return fmt.Errorf("webrtc.close_grace_window must be > 0")
	}
	if c.WebRTC.CandidateErrorThreshold <= 0 {
		return fmt.Errorf("webrtc.candidate_error_threshold must be > 0")
	}
	if (c.WebRTC.PortRange.Min == 0) != (c.WebRTC.PortRange.Max == 0) {
		return fmt.Errorf("webrtc.port_range requires both min and max")
	}
	if c.WebRTC.PortRange.Min > c.WebRTC.PortRange.Max {
		return fmt.Errorf("webrtc.port_range min must not exceed max")
	}

	if c.Relay.JoinTimeout <= 0 || c.Relay.JoinTimeout >= 10*time.Second {
		return fmt.Errorf("relay.join_timeout must be in (0s, 10s)")
	}
	if c.Relay.MaxDirectViewers < 0 {
		return fmt.Errorf("relay.max_direct_viewers must be >= 0")
	}

	if c.Capture.Interval <= 0 {
		return fmt.Errorf("capture.interval must be > 0")
	}

	if c.Media.VideoRTPPort <= 0 || c.Media.VideoRTPPort > 65535 {
		return fmt.Errorf("media.video_rtp_port must be a valid port")
	}
	if c.Media.AudioRTPPort <= 0 || c.Media.AudioRTPPort > 65535 {
		return fmt.Errorf("media.audio_rtp_port must be a valid port")
	}
	if c.Media.VideoRTPPort == c.Media.AudioRTPPort {
		return fmt.Errorf("media.video_rtp_port and audio_rtp_port must differ")
	}

	if c.Chat.MessagesPerSecond <= 0 {
		return fmt.Errorf("chat.messages_per_second must be > 0")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Endpoints.SignalURL = "ws://localhost:8080"
	cfg.Endpoints.RelayURL = "ws://localhost:8188"
	cfg.Endpoints.APIBaseURL = "http://localhost:8080"

	cfg.Signaling.MaxReconnectAttempts = 5
	cfg.Signaling.ReconnectBaseDelay = time.Second
	cfg.Signaling.PingInterval = 30 * time.Second
	cfg.Signaling.PongTimeout = 60 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second
	cfg.Signaling.MessagesPerSecond = 50
	cfg.Signaling.MessageBurst = 100

	cfg.WebRTC.ICEServers = []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty"`
	}{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
	cfg.WebRTC.CloseGraceWindow = 15 * time.Second
	cfg.WebRTC.CandidateErrorThreshold = 5

	cfg.Relay.JoinTimeout = 8 * time.Second
	cfg.Relay.MaxDirectViewers = 8

	cfg.Capture.Interval = 3 * time.Second
	cfg.Capture.FrameURL = "http://127.0.0.1:8090/frame.mjpeg"

	cfg.Media.VideoRTPPort = 5004
	cfg.Media.AudioRTPPort = 5006
	cfg.Media.ProbeTimeout = 5 * time.Second

	cfg.Chat.MessagesPerSecond = 2
	cfg.Chat.Burst = 5

	cfg.Control.Address = ":8085"
	cfg.Control.RequestsPerSecond = 20
	cfg.Control.Burst = 40

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9091

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STREAMCART_SIGNAL_URL"); v != "" {
		c.Endpoints.SignalURL = v
	}
	if v := os.Getenv("STREAMCART_RELAY_URL"); v != "" {
		c.Endpoints.RelayURL = v
	}
	if v := os.Getenv("STREAMCART_API_URL"); v != "" {
		c.Endpoints.APIBaseURL = v
	}
	if v := os.Getenv("STREAMCART_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STREAMCART_TOKEN"); v != "" {
		c.Auth.Token = v
	}
}
