package config

import (
	"fmt"
	"regexp"
	"strings"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and applies defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}

	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if cfg.Server.SocketURL == "" {
		return fmt.Errorf("server.socket_url is required")
	}
	if !strings.HasPrefix(cfg.Server.SocketURL, "ws://") && !strings.HasPrefix(cfg.Server.SocketURL, "wss://") {
		return fmt.Errorf("server.socket_url must use ws:// or wss:// scheme")
	}
	if cfg.Server.RequestTimeoutS <= 0 {
		cfg.Server.RequestTimeoutS = 10
	}

	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video0"
	}
	if cfg.Camera.Resolution == "" {
		cfg.Camera.Resolution = "480p"
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 10
	}

	// Dispatch cadence is bounded: faster than 500ms hammers the analysis
	// endpoint for no gain, slower than 2s makes the status feel dead.
	switch {
	case cfg.Monitor.DispatchIntervalMS == 0:
		cfg.Monitor.DispatchIntervalMS = 2000
	case cfg.Monitor.DispatchIntervalMS < 500 || cfg.Monitor.DispatchIntervalMS > 2000:
		return fmt.Errorf("monitor.dispatch_interval_ms must be between 500 and 2000, got %d",
			cfg.Monitor.DispatchIntervalMS)
	}

	if cfg.Monitor.ReconcileIntervalS <= 0 {
		cfg.Monitor.ReconcileIntervalS = 10
	}
	if cfg.Monitor.StatsIntervalS <= 0 {
		cfg.Monitor.StatsIntervalS = 5
	}
	if cfg.Monitor.AlertTTLS <= 0 {
		cfg.Monitor.AlertTTLS = 5
	}
	if cfg.Monitor.JPEGQuality <= 0 || cfg.Monitor.JPEGQuality > 100 {
		cfg.Monitor.JPEGQuality = 70
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Posture == "" {
			cfg.MQTT.Topics.Posture = fmt.Sprintf("vigil/posture/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Alerts == "" {
			cfg.MQTT.Topics.Alerts = fmt.Sprintf("vigil/alerts/%s", cfg.InstanceID)
		}
	}

	return nil
}
