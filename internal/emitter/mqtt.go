// Package emitter republishes posture state transitions and alerts to an
// MQTT broker, so dashboards or home-automation rules can react without
// talking to the analysis server. Optional: disabled when no broker is
// configured.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wellness/vigil/internal/config"
	"github.com/wellness/vigil/internal/types"
)

// MQTTEmitter publishes posture transitions and alerts to an MQTT broker
type MQTTEmitter struct {
	cfg    *config.Config
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to the MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// postureEvent is the published payload for a posture state transition
type postureEvent struct {
	InstanceID string              `json:"instance_id"`
	SessionID  int64               `json:"session_id,omitempty"`
	Status     types.PostureStatus `json:"status"`
	Timestamp  time.Time           `json:"timestamp"`
}

// alertEvent is the published payload for a notification
type alertEvent struct {
	InstanceID string    `json:"instance_id"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishPosture publishes a posture state transition
func (e *MQTTEmitter) PublishPosture(sessionID int64, status types.PostureStatus) error {
	return e.publish(e.cfg.MQTT.Topics.Posture, postureEvent{
		InstanceID: e.cfg.InstanceID,
		SessionID:  sessionID,
		Status:     status,
		Timestamp:  time.Now(),
	})
}

// PublishAlert publishes a server notification
func (e *MQTTEmitter) PublishAlert(message string) error {
	return e.publish(e.cfg.MQTT.Topics.Alerts, alertEvent{
		InstanceID: e.cfg.InstanceID,
		Message:    message,
		Timestamp:  time.Now(),
	})
}

func (e *MQTTEmitter) publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	token := e.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	return nil
}

// Connected reports whether the broker connection is up
func (e *MQTTEmitter) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected && e.client != nil && e.client.IsConnected()
}

// Disconnect closes the broker connection
func (e *MQTTEmitter) Disconnect() error {
	if e.client == nil {
		return nil
	}

	e.client.Disconnect(250) // 250ms grace period

	e.mu.Lock()
	e.connected = false
	published := uint64(0)
	for _, n := range e.published {
		published += n
	}
	errors := e.errors
	e.mu.Unlock()

	slog.Info("mqtt emitter disconnected",
		"published", published,
		"errors", errors,
	)

	return nil
}
