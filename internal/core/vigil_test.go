package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/wellness/vigil/internal/types"
)

// newTestVigil builds a service against a stub session server and a mock
// camera. Nothing is started; tests drive the handlers directly.
func newTestVigil(t *testing.T) *Vigil {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/sessions/start":
			json.NewEncoder(w).Encode(types.Session{ID: 5, UserID: 1, Status: types.SessionActive})
		case r.URL.Path == "/api/v1/sessions/5/stop":
			json.NewEncoder(w).Encode(types.Session{ID: 5, Status: types.SessionCompleted})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	yaml := fmt.Sprintf(`
instance_id: test-monitor
user_id: 1
server:
  base_url: %s/api/v1
  socket_url: ws://localhost:1/ws
camera:
  device: mock
  resolution: 480p
  fps: 10
`, server.URL)
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := NewVigil(path)
	if err != nil {
		t.Fatalf("NewVigil: %v", err)
	}
	t.Cleanup(func() {
		v.dispatch.Stop()
		v.capture.Stop()
	})

	return v
}

func TestHandlePostureAppliesUpdate(t *testing.T) {
	v := newTestVigil(t)

	v.handlePosture(types.PostureSnapshot{
		Status: types.StatusSlouching,
		Landmarks: types.LandmarkSet{
			"11": {X: 0.4, Y: 0.3, Presence: 0.9},
			"12": {X: 0.6, Y: 0.3, Presence: 0.9},
			"23": {X: 0.4, Y: 0.7, Presence: 0.9},
			"24": {X: 0.6, Y: 0.7, Presence: 0.9},
		},
	})

	posture, at := v.Posture()
	if posture != types.StatusSlouching {
		t.Errorf("posture = %s, want SLOUCHING", posture)
	}
	if at.IsZero() {
		t.Error("posture timestamp not set")
	}
	if surfaceBlank(v) {
		t.Error("overlay not drawn for a full landmark set")
	}
}

// TestHandlePostureStaleSession verifies an update tagged with a session
// other than the live one is dropped entirely.
func TestHandlePostureStaleSession(t *testing.T) {
	v := newTestVigil(t)

	if _, err := v.sessions.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}

	v.handlePosture(types.PostureSnapshot{SessionID: 99, Status: types.StatusGood})

	if posture, _ := v.Posture(); posture != types.StatusWaiting {
		t.Errorf("stale update applied: posture = %s", posture)
	}

	// Matching tag, and an untagged update, both apply
	v.handlePosture(types.PostureSnapshot{SessionID: 5, Status: types.StatusGood})
	if posture, _ := v.Posture(); posture != types.StatusGood {
		t.Errorf("matching update dropped: posture = %s", posture)
	}

	v.handlePosture(types.PostureSnapshot{Status: types.StatusTooClose})
	if posture, _ := v.Posture(); posture != types.StatusTooClose {
		t.Errorf("untagged update dropped: posture = %s", posture)
	}
}

// TestHandlePostureWithoutLandmarks verifies the status still updates while
// the previous skeleton is erased rather than left stale.
func TestHandlePostureWithoutLandmarks(t *testing.T) {
	v := newTestVigil(t)

	v.handlePosture(types.PostureSnapshot{
		Status: types.StatusGood,
		Landmarks: types.LandmarkSet{
			"11": {X: 0.4, Y: 0.3, Presence: 0.9},
			"12": {X: 0.6, Y: 0.3, Presence: 0.9},
			"23": {X: 0.4, Y: 0.7, Presence: 0.9},
			"24": {X: 0.6, Y: 0.7, Presence: 0.9},
		},
	})
	if surfaceBlank(v) {
		t.Fatal("overlay not drawn")
	}

	v.handlePosture(types.PostureSnapshot{Status: types.StatusNoPerson})

	if posture, _ := v.Posture(); posture != types.StatusNoPerson {
		t.Errorf("posture = %s, want NO_PERSON", posture)
	}
	if !surfaceBlank(v) {
		t.Error("skeleton survived an update without landmarks")
	}
}

func TestHandleNotification(t *testing.T) {
	v := newTestVigil(t)

	v.handleNotification(types.Notification{Type: "NOTIFICATION", Message: "Stretch time"})

	if message, visible := v.presenter.Current(); !visible || message != "Stretch time" {
		t.Errorf("alert = %q visible=%v", message, visible)
	}
}

// TestSessionLifecycleResetsPosture verifies status resets to the waiting
// placeholder on both session start and end, and that ending a session
// erases the overlay.
func TestSessionLifecycleResetsPosture(t *testing.T) {
	v := newTestVigil(t)

	if _, err := v.sessions.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if posture, _ := v.Posture(); posture != types.StatusWaiting {
		t.Errorf("posture after start = %s, want WAITING", posture)
	}
	if !v.dispatch.Running() {
		t.Error("dispatch not armed after session start")
	}
	if !v.capture.Active() {
		t.Error("camera not acquired on session start")
	}

	v.handlePosture(types.PostureSnapshot{
		SessionID: 5,
		Status:    types.StatusGood,
		Landmarks: types.LandmarkSet{
			"11": {X: 0.4, Y: 0.3, Presence: 0.9},
			"12": {X: 0.6, Y: 0.3, Presence: 0.9},
			"23": {X: 0.4, Y: 0.7, Presence: 0.9},
			"24": {X: 0.6, Y: 0.7, Presence: 0.9},
		},
	})

	if err := v.sessions.Stop(context.Background()); err != nil {
		t.Fatalf("stop session: %v", err)
	}
	if posture, _ := v.Posture(); posture != types.StatusWaiting {
		t.Errorf("posture after stop = %s, want WAITING", posture)
	}
	if v.dispatch.Running() {
		t.Error("dispatch still armed after session end")
	}
	if v.capture.Active() {
		t.Error("camera still held after session end")
	}
	if !surfaceBlank(v) {
		t.Error("overlay survived session end")
	}
}

// TestCameraHeldPerSession verifies the device is released on session stop
// and reacquired by the next session.
func TestCameraHeldPerSession(t *testing.T) {
	v := newTestVigil(t)

	if v.capture.Active() {
		t.Fatal("camera held with no session")
	}

	for cycle := 0; cycle < 2; cycle++ {
		if _, err := v.sessions.Start(context.Background()); err != nil {
			t.Fatalf("cycle %d start: %v", cycle, err)
		}
		if !v.capture.Active() {
			t.Fatalf("cycle %d: camera not acquired", cycle)
		}

		if err := v.sessions.Stop(context.Background()); err != nil {
			t.Fatalf("cycle %d stop: %v", cycle, err)
		}
		if v.capture.Active() {
			t.Fatalf("cycle %d: camera still held after stop", cycle)
		}
	}
}

func TestHealthCheckBeforeRun(t *testing.T) {
	v := newTestVigil(t)

	health := v.HealthCheck()
	if health.Status != "unhealthy" {
		t.Errorf("status = %q before Run, want unhealthy", health.Status)
	}
	if health.PostureStatus != string(types.StatusWaiting) {
		t.Errorf("posture = %q, want WAITING", health.PostureStatus)
	}
	if health.SessionState != "no_session" {
		t.Errorf("session state = %q, want no_session", health.SessionState)
	}
}

func TestReadinessHandlerUnhealthy(t *testing.T) {
	v := newTestVigil(t)

	rec := httptest.NewRecorder()
	v.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}

	var health HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if health.Status != "unhealthy" {
		t.Errorf("reported status = %q, want unhealthy", health.Status)
	}
}

func TestOverlaySizeMirrorsResolution(t *testing.T) {
	cases := []struct {
		res           string
		width, height int
	}{
		{"320p", 426, 320},
		{"480p", 640, 480},
		{"720p", 1280, 720},
		{"1080p", 1920, 1080},
	}
	for _, tc := range cases {
		if w, h := overlaySize(tc.res); w != tc.width || h != tc.height {
			t.Errorf("overlaySize(%q) = %dx%d, want %dx%d", tc.res, w, h, tc.width, tc.height)
		}
	}
}

func surfaceBlank(v *Vigil) bool {
	pix := v.renderer.Surface().Pix
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0 {
			return false
		}
	}
	return true
}
