package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wellness/vigil/internal/alert"
	"github.com/wellness/vigil/internal/api"
	"github.com/wellness/vigil/internal/capture"
	"github.com/wellness/vigil/internal/config"
	"github.com/wellness/vigil/internal/dispatch"
	"github.com/wellness/vigil/internal/emitter"
	"github.com/wellness/vigil/internal/overlay"
	"github.com/wellness/vigil/internal/results"
	"github.com/wellness/vigil/internal/sampler"
	"github.com/wellness/vigil/internal/session"
	"github.com/wellness/vigil/internal/stats"
	"github.com/wellness/vigil/internal/types"
)

// Vigil is the main service orchestrator
type Vigil struct {
	cfg *config.Config

	// Core components
	capture   capture.Provider
	sampler   *sampler.Sampler
	dispatch  *dispatch.Scheduler
	client    *api.Client
	sessions  *session.Manager
	statsPoll *stats.Poller
	presenter *alert.Presenter
	renderer  *overlay.Renderer
	emitter   *emitter.MQTTEmitter // nil when no broker configured

	// Current posture state
	postureMu sync.RWMutex
	posture   types.PostureStatus
	postureAt time.Time

	// Result channel (re-dialed by maintainResultChannel)
	resultsMu sync.RWMutex
	results   *results.Channel

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	runCtx    context.Context
	cancelCtx context.CancelFunc
}

// NewVigil creates a new service instance from a configuration file
func NewVigil(configPath string) (*Vigil, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"user_id", cfg.UserID,
		"server", cfg.Server.BaseURL,
	)

	provider := capture.New(cfg.Camera.Device, cfg.Camera.Resolution, cfg.Camera.FPS)

	// Treat the device as not ready once the newest frame is older than a
	// few capture intervals.
	maxAge := 3 * time.Second / time.Duration(cfg.Camera.FPS)
	if maxAge < time.Second {
		maxAge = time.Second
	}
	smp := sampler.New(cfg.Monitor.JPEGQuality, maxAge)

	client := api.NewClient(cfg.Server.BaseURL, time.Duration(cfg.Server.RequestTimeoutS)*time.Second)

	v := &Vigil{
		cfg:     cfg,
		capture: provider,
		sampler: smp,
		client:  client,
		posture: types.StatusWaiting,
	}

	v.dispatch = dispatch.NewScheduler(smp, client,
		time.Duration(cfg.Monitor.DispatchIntervalMS)*time.Millisecond)

	v.sessions = session.NewManager(client, cfg.UserID,
		time.Duration(cfg.Monitor.ReconcileIntervalS)*time.Second, v)

	v.statsPoll = stats.NewPoller(client, v.sessions,
		time.Duration(cfg.Monitor.StatsIntervalS)*time.Second)

	v.presenter = alert.New(time.Duration(cfg.Monitor.AlertTTLS)*time.Second, nil)

	width, height := overlaySize(cfg.Camera.Resolution)
	v.renderer = overlay.NewRenderer(width, height)

	if cfg.MQTT.Broker != "" {
		v.emitter = emitter.NewMQTTEmitter(cfg)
	}

	return v, nil
}

// Sessions exposes the session state machine (start/stop/history commands).
func (v *Vigil) Sessions() *session.Manager {
	return v.sessions
}

// Renderer exposes the overlay surface for display layers.
func (v *Vigil) Renderer() *overlay.Renderer {
	return v.renderer
}

// Alerts exposes the notification presenter.
func (v *Vigil) Alerts() *alert.Presenter {
	return v.presenter
}

// Posture returns the displayed posture status and when it was last updated.
func (v *Vigil) Posture() (types.PostureStatus, time.Time) {
	v.postureMu.RLock()
	defer v.postureMu.RUnlock()
	return v.posture, v.postureAt
}

// Run starts the monitoring pipeline and blocks until ctx is cancelled
func (v *Vigil) Run(ctx context.Context) error {
	v.mu.Lock()
	if v.isRunning {
		v.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	v.isRunning = true
	v.started = time.Now()
	v.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	v.mu.Lock()
	v.runCtx = ctx
	v.cancelCtx = cancel
	v.mu.Unlock()

	slog.Info("vigil service starting", "instance_id", v.cfg.InstanceID)

	// Operator preferences are server-side; fetch once for visibility
	if settings, err := v.client.Settings(ctx, v.cfg.UserID); err != nil {
		slog.Warn("failed to fetch user settings", "error", err)
	} else {
		slog.Info("user settings loaded",
			"blur_screenshots", settings.BlurScreenshots,
			"report_frequency", settings.ReportFrequency,
		)
	}

	// The camera is not acquired here: the device is held only while a
	// session runs (SessionStarted acquires, SessionEnded releases)

	// Result channel with re-dial; the channel itself never retries
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.maintainResultChannel(ctx)
	}()

	// Adopt a server-side active session before the first reconcile tick,
	// so an externally-started session begins dispatching immediately
	v.sessions.Reconcile(ctx)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.sessions.RunReconciler(ctx)
	}()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.statsPoll.Run(ctx)
	}()

	if v.emitter != nil {
		if err := v.emitter.Connect(ctx); err != nil {
			// Rebroadcast is best-effort; the pipeline runs without it
			slog.Warn("mqtt emitter unavailable", "error", err)
		}
	}

	slog.Info("vigil service running",
		"session_state", v.sessions.State().String(),
		"camera_active", v.capture.Active(),
	)

	<-ctx.Done()

	slog.Info("vigil service run loop exiting")
	return nil
}

// Shutdown performs graceful shutdown of all components
func (v *Vigil) Shutdown(ctx context.Context) error {
	v.mu.Lock()
	if !v.isRunning {
		v.mu.Unlock()
		return nil
	}
	cancel := v.cancelCtx
	v.mu.Unlock()

	slog.Info("shutting down vigil service")

	if cancel != nil {
		cancel()
	}

	// Shutdown sequence (order is important!):
	// 1. Stop dispatching before the sampler loses its source
	v.dispatch.Stop()

	// 2. Release the camera if a session still holds it (Stop is idempotent)
	if err := v.capture.Stop(); err != nil {
		slog.Error("failed to stop capture", "error", err)
	}

	// 3. Close the push channel
	v.resultsMu.Lock()
	if v.results != nil {
		if err := v.results.Close(); err != nil {
			slog.Error("failed to close result channel", "error", err)
		}
		v.results = nil
	}
	v.resultsMu.Unlock()

	// 4. Cancel any pending alert dismissal
	v.presenter.Stop()

	// 5. Wait for goroutines, bounded by the caller's deadline
	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Error("shutdown timed out waiting for goroutines")
		return ctx.Err()
	}

	// 6. Disconnect MQTT last
	if v.emitter != nil {
		if err := v.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	v.mu.Lock()
	uptime := time.Since(v.started)
	v.isRunning = false
	v.mu.Unlock()

	slog.Info("vigil service shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (v *Vigil) ShutdownTimeout() time.Duration {
	timeout := time.Duration(v.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

// maintainResultChannel keeps the push channel dialed while the service
// runs. Reconnection lives here, not in the channel: exponential backoff,
// capped, reset after a successful connect.
func (v *Vigil) maintainResultChannel(ctx context.Context) {
	retryDelay := 1 * time.Second
	const maxRetryDelay = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ch, err := results.Dial(ctx, v.cfg.Server.SocketURL, results.Handlers{
			OnPosture:      v.handlePosture,
			OnNotification: v.handleNotification,
		})
		if err != nil {
			slog.Warn("result channel dial failed",
				"error", err,
				"retry_in", retryDelay,
			)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return
			}
			retryDelay *= 2
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
			continue
		}

		retryDelay = 1 * time.Second
		v.resultsMu.Lock()
		v.results = ch
		v.resultsMu.Unlock()

		select {
		case <-ctx.Done():
			ch.Close()
			return
		case <-ch.Done():
			v.resultsMu.Lock()
			v.results = nil
			v.resultsMu.Unlock()
			slog.Warn("result channel lost, re-dialing")
		}
	}
}

// handlePosture applies one pushed posture update: status immediately, then
// the overlay. An update tagged with a session other than the live one is
// stale and ignored.
func (v *Vigil) handlePosture(snapshot types.PostureSnapshot) {
	if snapshot.SessionID != 0 {
		active := v.sessions.Active()
		if active == nil || active.ID != snapshot.SessionID {
			slog.Debug("ignoring posture update for stale session",
				"session_id", snapshot.SessionID,
			)
			return
		}
	}

	v.postureMu.Lock()
	previous := v.posture
	v.posture = snapshot.Status
	v.postureAt = time.Now()
	v.postureMu.Unlock()

	if len(snapshot.Landmarks) > 0 {
		v.renderer.Render(snapshot.Landmarks, snapshot.Status)
	} else {
		// No landmarks: keep the status text fresh but drop the stale pose
		v.renderer.Clear()
	}

	if v.emitter != nil && snapshot.Status != previous {
		if err := v.emitter.PublishPosture(snapshot.SessionID, snapshot.Status); err != nil {
			slog.Debug("posture rebroadcast failed", "error", err)
		}
	}
}

// handleNotification surfaces one transient notification.
func (v *Vigil) handleNotification(notification types.Notification) {
	v.presenter.Show(notification.Message)

	if v.emitter != nil {
		if err := v.emitter.PublishAlert(notification.Message); err != nil {
			slog.Debug("alert rebroadcast failed", "error", err)
		}
	}
}

// SessionStarted implements session.Listener: acquire the camera and arm the
// dispatch scheduler for the new session. Always cancels any prior timer
// first.
func (v *Vigil) SessionStarted(s types.Session) {
	v.mu.RLock()
	runCtx := v.runCtx
	v.mu.RUnlock()
	if runCtx == nil {
		runCtx = context.Background()
	}

	// The device is held only for the session's lifetime
	if err := v.capture.Start(runCtx); err != nil {
		slog.Error("failed to acquire camera", "error", err)
	} else {
		frames := v.capture.Frames()
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			v.sampler.Run(runCtx, frames)
		}()
	}

	v.postureMu.Lock()
	v.posture = types.StatusWaiting
	v.postureAt = time.Now()
	v.postureMu.Unlock()

	v.dispatch.Start(runCtx, s.ID)
}

// SessionEnded implements session.Listener: stop dispatching, release the
// camera device, and clear the live display.
func (v *Vigil) SessionEnded(sessionID int64) {
	v.dispatch.Stop()

	if err := v.capture.Stop(); err != nil {
		slog.Error("failed to release camera", "error", err)
	}

	v.renderer.Clear()

	v.postureMu.Lock()
	v.posture = types.StatusWaiting
	v.postureAt = time.Now()
	v.postureMu.Unlock()
}

// overlaySize mirrors the capture resolution so normalized landmarks map
// onto the video pixel grid.
func overlaySize(resolution string) (width, height int) {
	switch resolution {
	case "320p":
		return 426, 320
	case "720p":
		return 1280, 720
	case "1080p":
		return 1920, 1080
	default:
		return 640, 480
	}
}
