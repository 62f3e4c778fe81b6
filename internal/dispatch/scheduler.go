// Package dispatch implements the capture-and-submit scheduler.
//
// Each tick samples the newest frame and submits it to the analysis endpoint
// without waiting for a result. Classification latency is variable and must
// not block the next tick; results arrive exclusively on the push channel.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wellness/vigil/internal/sampler"
)

// FrameSource produces the newest captured frame, encoded for transmission.
type FrameSource interface {
	Sample() (string, error)
}

// Submitter sends one frame to the analysis endpoint.
type Submitter interface {
	AnalyzeFrame(ctx context.Context, sessionID int64, frame string) error
}

// Scheduler owns the repeating dispatch timer. At most one timer generation
// is live at any moment: Start always cancels the previous generation before
// arming a new one, so stale ticks from an earlier session cannot fire.
type Scheduler struct {
	source    FrameSource
	submitter Submitter

	interval    time.Duration
	warmupDelay time.Duration

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	ticks     atomic.Uint64
	submitted atomic.Uint64
	skipped   atomic.Uint64
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(source FrameSource, submitter Submitter, interval time.Duration) *Scheduler {
	return &Scheduler{
		source:      source,
		submitter:   submitter,
		interval:    interval,
		warmupDelay: 1 * time.Second,
	}
}

// Start cancels any existing dispatch timer, then arms a new one tagged with
// the given session. The first submission fires after a short warm-up delay,
// subsequent ones at the fixed interval.
func (d *Scheduler) Start(ctx context.Context, sessionID int64) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	genCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.generation++
	gen := d.generation

	d.wg.Add(1)
	go d.run(genCtx, gen, sessionID)
	d.mu.Unlock()

	slog.Info("dispatch scheduler armed",
		"session_id", sessionID,
		"generation", gen,
		"interval", d.interval,
	)
}

// Stop cancels the timer. Idempotent if already stopped.
func (d *Scheduler) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		return
	}
	d.cancel()
	d.cancel = nil
	d.wg.Wait()

	slog.Info("dispatch scheduler stopped", "generation", d.generation)
}

// Running reports whether a timer generation is currently armed.
func (d *Scheduler) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Generation returns the current timer generation counter.
func (d *Scheduler) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Stats returns (ticks fired, frames submitted, ticks skipped).
func (d *Scheduler) Stats() (ticks, submitted, skipped uint64) {
	return d.ticks.Load(), d.submitted.Load(), d.skipped.Load()
}

func (d *Scheduler) run(ctx context.Context, gen uint64, sessionID int64) {
	defer d.wg.Done()

	// Warm-up shot before the steady cadence
	warmup := time.NewTimer(d.warmupDelay)
	defer warmup.Stop()

	select {
	case <-ctx.Done():
		return
	case <-warmup.C:
		d.tick(ctx, gen, sessionID)
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx, gen, sessionID)
		}
	}
}

// tick captures one frame and submits it fire-and-forget. A not-ready device
// makes the tick a no-op; it is never queued or retried out of order.
func (d *Scheduler) tick(ctx context.Context, gen uint64, sessionID int64) {
	d.ticks.Add(1)

	frame, err := d.source.Sample()
	if err != nil {
		d.skipped.Add(1)
		if !errors.Is(err, sampler.ErrNoFrame) {
			slog.Debug("frame sample failed", "generation", gen, "error", err)
		}
		return
	}

	// Independent, unordered request. The outcome is discarded: a failed
	// submission just means no fresh posture update until the next tick.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.submitter.AnalyzeFrame(ctx, sessionID, frame); err != nil {
			slog.Debug("frame submission failed",
				"session_id", sessionID,
				"generation", gen,
				"error", err,
			)
			return
		}
		d.submitted.Add(1)
	}()
}
