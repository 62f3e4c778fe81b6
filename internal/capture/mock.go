package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wellness/vigil/internal/types"
)

// MockStream generates synthetic frames for development and tests
type MockStream struct {
	width  int
	height int
	fps    int

	framesCh chan types.Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMockStream creates a new mock capture provider
func NewMockStream(width, height, fps int) *MockStream {
	return &MockStream{
		width:    width,
		height:   height,
		fps:      fps,
		framesCh: make(chan types.Frame, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start begins generating frames. May be called again after Stop.
func (m *MockStream) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("mock stream already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	// Fresh channels each acquisition: Stop closed the previous pair
	m.framesCh = make(chan types.Frame, 10)
	m.stopCh = make(chan struct{})
	framesCh := m.framesCh
	stopCh := m.stopCh
	m.mu.Unlock()

	slog.Info("mock camera starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx, framesCh, stopCh)

	return nil
}

func (m *MockStream) generateFrames(ctx context.Context, framesCh chan<- types.Frame, stopCh <-chan struct{}) {
	defer m.wg.Done()

	interval := time.Second / time.Duration(m.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.seq++
			seq := m.seq
			m.mu.Unlock()

			// Solid gray frame with a moving band, enough structure for
			// the sampler's JPEG path to exercise real pixel data
			data := make([]byte, m.width*m.height*3)
			band := int(seq) % m.height
			for y := 0; y < m.height; y++ {
				val := byte(128)
				if y == band {
					val = 255
				}
				for x := 0; x < m.width; x++ {
					i := (y*m.width + x) * 3
					data[i] = val
					data[i+1] = val
					data[i+2] = val
				}
			}

			frame := types.Frame{
				Seq:       seq,
				Timestamp: time.Now(),
				Width:     m.width,
				Height:    m.height,
				Data:      data,
				TraceID:   uuid.New().String(),
			}

			select {
			case framesCh <- frame:
				m.mu.Lock()
				m.framesEmitted++
				m.mu.Unlock()
			default:
				// Drop, never queue
			}
		}
	}
}

// Frames returns the frames channel for the current acquisition
func (m *MockStream) Frames() <-chan types.Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.framesCh
}

// Stop stops the stream and closes its frame channel. Idempotent.
func (m *MockStream) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	stopCh := m.stopCh
	framesCh := m.framesCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()
	close(framesCh)

	m.mu.RLock()
	emitted := m.framesEmitted
	started := m.startTime
	m.mu.RUnlock()

	slog.Info("mock camera stopped",
		"frames_emitted", emitted,
		"duration", time.Since(started),
	)

	return nil
}

// Active reports whether the mock device is running
func (m *MockStream) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// Stats returns stream statistics
func (m *MockStream) Stats() types.CaptureStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.isRunning && m.framesEmitted > 0 {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	return types.CaptureStats{
		FrameCount:  m.framesEmitted,
		FPSTarget:   m.fps,
		FPSReal:     fpsReal,
		Resolution:  fmt.Sprintf("%dx%d", m.width, m.height),
		IsConnected: m.isRunning,
	}
}
