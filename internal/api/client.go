// Package api implements the HTTP client for the analysis/session server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wellness/vigil/internal/types"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// Client talks to the analysis/session server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g.
// "http://localhost:8000/api/v1").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// StartSession requests a new monitoring session for the operator.
func (c *Client) StartSession(ctx context.Context, userID int64) (*types.Session, error) {
	var session types.Session
	body := map[string]int64{"user_id": userID}
	if err := c.do(ctx, http.MethodPost, "/sessions/start", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// StopSession requests termination of the given session.
func (c *Client) StopSession(ctx context.Context, sessionID int64) (*types.Session, error) {
	var session types.Session
	path := fmt.Sprintf("/sessions/%d/stop", sessionID)
	if err := c.do(ctx, http.MethodPost, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ActiveSession returns the operator's currently active session, or nil if
// the server reports none.
func (c *Client) ActiveSession(ctx context.Context, userID int64) (*types.Session, error) {
	var session types.Session
	path := fmt.Sprintf("/sessions/user/%d/active", userID)
	err := c.do(ctx, http.MethodGet, path, nil, &session)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if session.ID == 0 {
		// Server answers 200 with an empty body when no session is active
		return nil, nil
	}
	return &session, nil
}

// SessionHistory returns the operator's past sessions, newest first.
func (c *Client) SessionHistory(ctx context.Context, userID int64) ([]types.Session, error) {
	var sessions []types.Session
	path := fmt.Sprintf("/sessions/user/%d", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// AnalyzeFrame submits one captured frame for posture classification. The
// response body is ignored: results arrive via the push channel, not here.
func (c *Client) AnalyzeFrame(ctx context.Context, sessionID int64, frame string) error {
	body := map[string]any{
		"session_id": sessionID,
		"frame":      frame,
	}
	return c.do(ctx, http.MethodPost, "/posture/analyze-frame", body, nil)
}

// SessionStats fetches the server-side aggregate for a session.
func (c *Client) SessionStats(ctx context.Context, sessionID int64) (*types.SessionStats, error) {
	var stats types.SessionStats
	path := fmt.Sprintf("/posture/session/%d/stats", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CurrentPosture fetches the most recent logged posture for a session.
func (c *Client) CurrentPosture(ctx context.Context, sessionID int64) (*types.PostureSnapshot, error) {
	var snapshot struct {
		SessionID     int64    `json:"session_id"`
		CurrentStatus string   `json:"current_status"`
		NeckAngle     *float64 `json:"neck_angle"`
		TorsoAngle    *float64 `json:"torso_angle"`
		DistanceScore *float64 `json:"distance_score"`
		Confidence    *float64 `json:"confidence"`
	}
	path := fmt.Sprintf("/posture/session/%d/current", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &snapshot); err != nil {
		return nil, err
	}
	return &types.PostureSnapshot{
		SessionID:     snapshot.SessionID,
		Status:        types.PostureStatus(snapshot.CurrentStatus),
		NeckAngle:     snapshot.NeckAngle,
		TorsoAngle:    snapshot.TorsoAngle,
		DistanceScore: snapshot.DistanceScore,
		Confidence:    snapshot.Confidence,
	}, nil
}

// Settings fetches the operator's server-persisted preferences.
func (c *Client) Settings(ctx context.Context, userID int64) (*types.UserSettings, error) {
	var settings types.UserSettings
	path := fmt.Sprintf("/users/%d/settings", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings replaces the operator's preferences.
func (c *Client) UpdateSettings(ctx context.Context, userID int64, settings types.UserSettings) error {
	path := fmt.Sprintf("/users/%d/settings", userID)
	return c.do(ctx, http.MethodPut, path, settings, nil)
}

// do performs one JSON round-trip. out may be nil when the response body is
// discarded.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
