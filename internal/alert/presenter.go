// Package alert surfaces transient server notifications for a bounded
// display duration.
package alert

import (
	"log/slog"
	"sync"
	"time"
)

// Presenter holds at most one visible message and one pending auto-clear
// timer. A new message replaces the pending dismissal: the old timer is
// cancelled and the display window restarts. Last write wins, no stacking.
type Presenter struct {
	mu      sync.Mutex
	ttl     time.Duration
	message string
	visible bool
	timer   *time.Timer
	gen     uint64

	// onChange, if set, is invoked after every visibility change with the
	// current message ("" once cleared).
	onChange func(message string, visible bool)
}

// New creates a presenter. ttl is the display lifetime of each message.
func New(ttl time.Duration, onChange func(string, bool)) *Presenter {
	return &Presenter{
		ttl:      ttl,
		onChange: onChange,
	}
}

// Show displays a message and arms its auto-clear timer.
func (p *Presenter) Show(message string) {
	p.mu.Lock()

	if p.timer != nil {
		p.timer.Stop()
	}

	p.message = message
	p.visible = true
	p.gen++
	gen := p.gen

	p.timer = time.AfterFunc(p.ttl, func() {
		p.clear(gen)
	})

	notify := p.onChange
	p.mu.Unlock()

	slog.Info("notification shown", "message", message, "ttl", p.ttl)
	if notify != nil {
		notify(message, true)
	}
}

// clear dismisses the message, but only if no newer Show superseded the
// timer that fired.
func (p *Presenter) clear(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.visible {
		p.mu.Unlock()
		return
	}
	p.message = ""
	p.visible = false
	notify := p.onChange
	p.mu.Unlock()

	slog.Debug("notification cleared")
	if notify != nil {
		notify("", false)
	}
}

// Current returns the visible message, if any.
func (p *Presenter) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.message, p.visible
}

// Stop cancels any pending auto-clear timer. Used on teardown.
func (p *Presenter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
