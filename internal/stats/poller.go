// Package stats polls the server-side aggregate for the session currently
// being viewed. Display-only: nothing in the live pipeline reads it.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wellness/vigil/internal/types"
)

// API is the slice of the server client the poller needs.
type API interface {
	SessionStats(ctx context.Context, sessionID int64) (*types.SessionStats, error)
}

// ViewSource reports which session's data should be displayed.
type ViewSource interface {
	ViewSession() int64
}

// Poller fetches statistics on a fixed interval. Poll failures are logged
// and swallowed; the previous snapshot stays available.
type Poller struct {
	api      API
	source   ViewSource
	interval time.Duration

	mu       sync.RWMutex
	latest   *types.SessionStats
	latestID int64
}

// NewPoller creates a poller over the given view source.
func NewPoller(api API, source ViewSource, interval time.Duration) *Poller {
	return &Poller{
		api:      api,
		source:   source,
		interval: interval,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	sessionID := p.source.ViewSession()
	if sessionID == 0 {
		return
	}

	stats, err := p.api.SessionStats(ctx, sessionID)
	if err != nil {
		slog.Debug("stats poll failed", "session_id", sessionID, "error", err)
		return
	}

	p.mu.Lock()
	p.latest = stats
	p.latestID = sessionID
	p.mu.Unlock()

	if stats.Score != nil {
		slog.Debug("session stats updated",
			"session_id", sessionID,
			"score", *stats.Score,
			"total_logs", stats.TotalLogs,
		)
	}
}

// Latest returns the most recent snapshot and the session it belongs to.
func (p *Poller) Latest() (*types.SessionStats, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.latestID
}
