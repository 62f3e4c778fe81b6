package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/wellness/vigil/internal/session"
)

// HealthStatus represents the health state of the monitoring pipeline
type HealthStatus struct {
	Status          string  `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64   `json:"uptime_seconds"`
	CameraActive    bool    `json:"camera_active"`
	SocketConnected bool    `json:"socket_connected"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	SessionState    string  `json:"session_state"`
	SessionID       int64   `json:"session_id,omitempty"`
	PostureStatus   string  `json:"posture_status"`
	PostureAgeS     float64 `json:"posture_age_s"`
	FramesCaptured  uint64  `json:"frames_captured"`
	FramesSubmitted uint64  `json:"frames_submitted"`
}

// HealthCheck returns the current health status of the pipeline
func (v *Vigil) HealthCheck() HealthStatus {
	v.mu.RLock()
	running := v.isRunning
	started := v.started
	v.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(started).Seconds()),
		CameraActive:  v.capture.Active(),
		SessionState:  v.sessions.State().String(),
	}

	if active := v.sessions.Active(); active != nil {
		status.SessionID = active.ID
	}

	v.resultsMu.RLock()
	status.SocketConnected = v.results != nil
	v.resultsMu.RUnlock()

	if v.emitter != nil {
		status.MQTTConnected = v.emitter.Connected()
	}

	posture, at := v.Posture()
	status.PostureStatus = string(posture)
	if !at.IsZero() {
		status.PostureAgeS = time.Since(at).Seconds()
	}

	status.FramesCaptured = v.capture.Stats().FrameCount
	_, submitted, _ := v.dispatch.Stats()
	status.FramesSubmitted = submitted

	// The camera is only held while a session runs, so its absence is
	// degraded only when there is a session to serve
	if !running {
		status.Status = "unhealthy"
	} else if !status.SocketConnected || (status.SessionID != 0 && !status.CameraActive) {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health (simple liveness check)
func (v *Vigil) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(v.started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness (detailed readiness check)
func (v *Vigil) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := v.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// StatusHandler handles /status: pipeline state plus the latest session
// statistics snapshot, for a local dashboard
func (v *Vigil) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	latest, sessionID := v.statsPoll.Latest()
	message, visible := v.presenter.Current()
	posture, _ := v.Posture()

	response := map[string]any{
		"session_state": v.sessions.State().String(),
		"view_session":  v.sessions.ViewSession(),
		"posture":       posture,
	}
	if visible {
		response["alert"] = message
	}
	if latest != nil {
		response["stats"] = latest
		response["stats_session"] = sessionID
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// StartHealthServer starts the HTTP health check server on the given port.
// Runs in a separate goroutine and does not block.
func (v *Vigil) StartHealthServer(port string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", v.LivenessHandler)
	mux.HandleFunc("/readiness", v.ReadinessHandler)
	mux.HandleFunc("/status", v.StatusHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/status"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}

// interface guard
var _ session.Listener = (*Vigil)(nil)
