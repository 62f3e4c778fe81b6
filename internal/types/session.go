package types

import "time"

// SessionStatus is the server-side lifecycle state of a monitoring session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionPaused    SessionStatus = "paused"
)

// Session is a monitoring session as reported by the server. The client never
// deletes a session; it only transitions its locally-held view of status.
type Session struct {
	ID                   int64         `json:"id"`
	UserID               int64         `json:"user_id"`
	StartedAt            time.Time     `json:"started_at"`
	EndedAt              *time.Time    `json:"ended_at,omitempty"`
	TotalDurationSeconds *int64        `json:"total_duration_seconds,omitempty"`
	Status               SessionStatus `json:"status"`
}

// Duration returns the session length: the server-reported total for ended
// sessions, wall-clock elapsed time for running ones.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.TotalDurationSeconds != nil {
		return time.Duration(*s.TotalDurationSeconds) * time.Second
	}
	return now.Sub(s.StartedAt)
}

// SessionStats is the server-side aggregate for one session. Consumed by the
// statistics display only; the live pipeline never reads it.
type SessionStats struct {
	SessionID        int64                    `json:"session_id"`
	TotalLogs        int                      `json:"total_logs"`
	DurationMinutes  float64                  `json:"duration_minutes"`
	PostureBreakdown map[PostureStatus]float64 `json:"posture_breakdown"`
	StatusCounts     map[PostureStatus]int    `json:"status_counts"`
	SessionStatus    string                   `json:"session_status"`
	Score            *float64                 `json:"score,omitempty"`
	Timeline         []TimelinePoint          `json:"timeline,omitempty"`
	SlouchMetrics    *SlouchMetrics           `json:"slouch_metrics,omitempty"`
	Trend            *Trend                   `json:"trend,omitempty"`
	Recommendations  []string                 `json:"recommendations,omitempty"`
}

// TimelinePoint is one bucket of the per-session posture timeline.
type TimelinePoint struct {
	Time   string  `json:"time"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

// SlouchMetrics aggregates slouching streaks within a session.
type SlouchMetrics struct {
	TotalDurationSeconds  float64 `json:"total_duration_seconds"`
	LongestStreakSeconds  float64 `json:"longest_streak_seconds"`
}

// Trend describes score movement across a session.
type Trend struct {
	StartScore float64 `json:"start_score"`
	EndScore   float64 `json:"end_score"`
	Direction  string  `json:"direction"`
}

// UserSettings are the operator's server-persisted preferences.
type UserSettings struct {
	BlurScreenshots       bool `json:"blur_screenshots"`
	EnabledEvidenceLocker bool `json:"enabled_evidence_locker"`
	ReportFrequency       int  `json:"report_frequency"`
}
