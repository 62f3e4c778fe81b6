package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the complete vigild configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	UserID           int64         `yaml:"user_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Server           ServerConfig  `yaml:"server"`
	Camera           CameraConfig  `yaml:"camera"`
	Monitor          MonitorConfig `yaml:"monitor"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
}

// ServerConfig contains analysis/session server settings
type ServerConfig struct {
	BaseURL         string `yaml:"base_url"`   // e.g. http://localhost:8000/api/v1
	SocketURL       string `yaml:"socket_url"` // e.g. ws://localhost:8000/api/v1/ws
	RequestTimeoutS int    `yaml:"request_timeout_s"`
}

// CameraConfig contains capture device settings
type CameraConfig struct {
	Device     string `yaml:"device"`     // /dev/video0, or "mock" for synthetic frames
	Resolution string `yaml:"resolution"` // 480p, 720p, 1080p
	FPS        int    `yaml:"fps"`
}

// MonitorConfig contains pipeline timing settings
type MonitorConfig struct {
	DispatchIntervalMS int `yaml:"dispatch_interval_ms"` // frame submission cadence (500-2000)
	ReconcileIntervalS int `yaml:"reconcile_interval_s"` // active-session poll (default: 10)
	StatsIntervalS     int `yaml:"stats_interval_s"`     // stats poll for the viewed session (default: 5)
	AlertTTLS          int `yaml:"alert_ttl_s"`          // notification display lifetime (default: 5)
	JPEGQuality        int `yaml:"jpeg_quality"`         // frame encode quality (default: 70)
}

// MQTTConfig contains optional broker settings for posture rebroadcast.
// Leave Broker empty to disable the emitter.
type MQTTConfig struct {
	Broker string     `yaml:"broker"`
	Topics MQTTTopics `yaml:"topics"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Posture string `yaml:"posture"`
	Alerts  string `yaml:"alerts"`
}

// Load reads and parses a YAML configuration file. Environment variables
// VIGIL_SERVER_URL, VIGIL_SOCKET_URL and VIGIL_USER_ID override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("VIGIL_SOCKET_URL"); v != "" {
		cfg.Server.SocketURL = v
	}
	if v := os.Getenv("VIGIL_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.UserID = id
		}
	}
}
