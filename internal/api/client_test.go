package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wellness/vigil/internal/types"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	return NewClient(server.URL+"/api/v1", 5*time.Second), server
}

func TestStartSession(t *testing.T) {
	var gotBody map[string]int64
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/sessions/start" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(types.Session{ID: 12, UserID: 3, Status: types.SessionActive})
	}))
	defer server.Close()

	session, err := client.StartSession(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != 12 || session.Status != types.SessionActive {
		t.Errorf("session = %+v", session)
	}
	if gotBody["user_id"] != 3 {
		t.Errorf("request body = %v, want user_id 3", gotBody)
	}
}

func TestStopSession(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/sessions/12/stop" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(types.Session{ID: 12, Status: types.SessionCompleted})
	}))
	defer server.Close()

	session, err := client.StopSession(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Status != types.SessionCompleted {
		t.Errorf("status = %s, want completed", session.Status)
	}
}

func TestActiveSessionNone(t *testing.T) {
	t.Run("404", func(t *testing.T) {
		client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		session, err := client.ActiveSession(context.Background(), 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if session != nil {
			t.Errorf("session = %+v, want nil", session)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 200 with nothing in it
		}))
		defer server.Close()

		session, err := client.ActiveSession(context.Background(), 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if session != nil {
			t.Errorf("session = %+v, want nil", session)
		}
	})

	t.Run("null body", func(t *testing.T) {
		client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("null"))
		}))
		defer server.Close()

		session, err := client.ActiveSession(context.Background(), 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if session != nil {
			t.Errorf("session = %+v, want nil", session)
		}
	})
}

func TestActiveSessionFound(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/user/3/active" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(types.Session{ID: 8, Status: types.SessionActive})
	}))
	defer server.Close()

	session, err := client.ActiveSession(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil || session.ID != 8 {
		t.Errorf("session = %+v, want id 8", session)
	}
}

func TestAnalyzeFrame(t *testing.T) {
	var gotBody map[string]any
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/posture/analyze-frame" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		// Response body is ignored by the client
		json.NewEncoder(w).Encode(map[string]string{"posture_status": "GOOD"})
	}))
	defer server.Close()

	err := client.AnalyzeFrame(context.Background(), 12, "data:image/jpeg;base64,abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["session_id"] != float64(12) {
		t.Errorf("session_id = %v, want 12", gotBody["session_id"])
	}
	if gotBody["frame"] != "data:image/jpeg;base64,abc" {
		t.Errorf("frame = %v", gotBody["frame"])
	}
}

func TestAPIErrorMapping(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "session not found"}`, http.StatusConflict)
	}))
	defer server.Close()

	_, err := client.StartSession(context.Background(), 3)
	if err == nil {
		t.Fatal("expected an error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not an APIError", err)
	}
	if apiErr.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", apiErr.Status)
	}
	if apiErr.Body == "" {
		t.Error("error body not captured")
	}
}

func TestCurrentPosture(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/posture/session/12/current" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"session_id": 12, "current_status": "SLOUCHING", "neck_angle": 34.5}`))
	}))
	defer server.Close()

	snapshot, err := client.CurrentPosture(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Status != types.StatusSlouching {
		t.Errorf("status = %s, want SLOUCHING", snapshot.Status)
	}
	if snapshot.NeckAngle == nil || *snapshot.NeckAngle != 34.5 {
		t.Errorf("neck angle = %v, want 34.5", snapshot.NeckAngle)
	}
}

func TestSessionStats(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/posture/session/12/stats" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"session_id": 12, "score": 87.5, "good_posture_seconds": 300}`))
	}))
	defer server.Close()

	stats, err := client.SessionStats(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Score == nil || *stats.Score != 87.5 {
		t.Errorf("score = %v, want 87.5", stats.Score)
	}
	if stats.SessionID != 12 {
		t.Errorf("session id = %d, want 12", stats.SessionID)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	var gotMethod string
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		if r.URL.Path != "/api/v1/users/3/settings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(types.UserSettings{BlurScreenshots: true})
	}))
	defer server.Close()

	settings, err := client.Settings(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !settings.BlurScreenshots {
		t.Error("settings not decoded")
	}

	if err := client.UpdateSettings(context.Background(), 3, *settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("update method = %s, want PUT", gotMethod)
	}
}

func TestRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, 50*time.Millisecond)
	if err := client.AnalyzeFrame(context.Background(), 1, "x"); err == nil {
		t.Fatal("expected a timeout error")
	}
}
