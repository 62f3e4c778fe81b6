// Package sampler holds the newest captured frame and rasterizes it for
// transmission.
//
// Philosophy: drop frames, never queue. The single-slot mailbox means a slow
// dispatch cadence simply skips frames by sampling whichever is newest.
package sampler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wellness/vigil/internal/types"
)

// ErrNoFrame is returned when the device has not produced a usable frame:
// nothing captured yet, or the newest frame is too old to represent "now".
var ErrNoFrame = errors.New("no frame available")

// Sampler consumes a capture channel, keeping only the latest frame.
type Sampler struct {
	mu     sync.Mutex
	latest *types.Frame

	quality int
	maxAge  time.Duration

	overwrites uint64
	sampled    uint64

	wg sync.WaitGroup
}

// New creates a sampler. quality is the JPEG encode quality (1-100); maxAge
// is how stale the newest frame may be before Sample treats the device as
// not ready.
func New(quality int, maxAge time.Duration) *Sampler {
	return &Sampler{
		quality: quality,
		maxAge:  maxAge,
	}
}

// Run consumes frames until the channel closes or ctx is cancelled. Callers
// run it in its own goroutine; Wait blocks until it exits.
func (s *Sampler) Run(ctx context.Context, frames <-chan types.Frame) {
	s.wg.Add(1)
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.mu.Lock()
			if s.latest != nil {
				s.overwrites++
			}
			s.latest = &frame
			s.mu.Unlock()
		}
	}
}

// Wait blocks until Run has exited.
func (s *Sampler) Wait() {
	s.wg.Wait()
}

// Sample encodes the newest frame as a JPEG data URL suitable for the
// analyze-frame request body. Returns ErrNoFrame when the capture device
// is not ready.
func (s *Sampler) Sample() (string, error) {
	s.mu.Lock()
	frame := s.latest
	s.mu.Unlock()

	if frame == nil {
		return "", ErrNoFrame
	}
	if s.maxAge > 0 && time.Since(frame.Timestamp) > s.maxAge {
		return "", fmt.Errorf("%w: newest frame is %s old", ErrNoFrame, time.Since(frame.Timestamp).Round(time.Millisecond))
	}

	encoded, err := encodeJPEG(frame, s.quality)
	if err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}

	atomic.AddUint64(&s.sampled, 1)
	return "data:image/jpeg;base64," + encoded, nil
}

// Stats returns (frames sampled, mailbox overwrites).
func (s *Sampler) Stats() (sampled, overwrites uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomic.LoadUint64(&s.sampled), s.overwrites
}

// encodeJPEG converts interleaved RGB bytes to a base64 JPEG
func encodeJPEG(frame *types.Frame, quality int) (string, error) {
	if len(frame.Data) < frame.Width*frame.Height*3 {
		return "", fmt.Errorf("short frame data: %d bytes for %dx%d", len(frame.Data), frame.Width, frame.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+0]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
