package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/wellness/vigil/internal/types"
)

// CameraStream implements Provider using GStreamer for local V4L2 capture
type CameraStream struct {
	// Configuration
	device string
	width  int
	height int
	fps    int

	// GStreamer pipeline
	pipeline *gst.Pipeline
	appsink  *app.Sink

	// Frame output
	frames chan types.Frame
	mu     sync.RWMutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	frameCount  uint64
	bytesRead   uint64
	started     time.Time
	lastFrameAt atomic.Int64 // unix nanos
	reconnects  uint32
	active      atomic.Bool

	// Reconnection
	maxRetries     int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	currentRetries int
}

// CameraConfig contains camera capture configuration
type CameraConfig struct {
	Device string
	Width  int
	Height int
	FPS    int
}

// NewCameraStream creates a new camera stream for a V4L2 device
func NewCameraStream(cfg CameraConfig) *CameraStream {
	return &CameraStream{
		device:        cfg.Device,
		width:         cfg.Width,
		height:        cfg.Height,
		fps:           cfg.FPS,
		frames:        make(chan types.Frame, 10),
		maxRetries:    5,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 30 * time.Second,
	}
}

// Start initializes GStreamer and starts the capture pipeline. May be called
// again after Stop; the device is reacquired with a fresh frame channel.
func (s *CameraStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("camera already started")
	}

	gst.Init(nil)

	s.ctx, s.cancel = context.WithCancel(ctx)
	// The previous acquisition's channel was closed by its pipeline goroutine
	s.frames = make(chan types.Frame, 10)
	s.currentRetries = 0
	s.started = time.Now()
	s.active.Store(true)

	s.wg.Add(1)
	go s.runPipeline(s.frames)

	slog.Info("camera capture starting",
		"device", s.device,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		"fps", s.fps,
	)

	return nil
}

// runPipeline runs the GStreamer pipeline with reconnection logic. Closes
// this acquisition's frame channel on every exit path.
func (s *CameraStream) runPipeline(frames chan types.Frame) {
	defer s.wg.Done()
	defer close(frames)
	defer s.active.Store(false)

	for {
		select {
		case <-s.ctx.Done():
			slog.Info("camera pipeline context cancelled")
			return
		default:
		}

		err := s.openAndStream()
		if err != nil {
			slog.Error("camera pipeline error", "error", err)
		}

		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.currentRetries++
		atomic.AddUint32(&s.reconnects, 1)

		if s.currentRetries > s.maxRetries {
			slog.Error("max retries exceeded, releasing camera",
				"retries", s.currentRetries,
				"max_retries", s.maxRetries,
			)
			return
		}

		// Exponential backoff
		delay := s.retryDelay * time.Duration(1<<uint(s.currentRetries-1))
		if delay > s.maxRetryDelay {
			delay = s.maxRetryDelay
		}

		slog.Warn("reopening camera device",
			"retry", s.currentRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
			continue
		case <-s.ctx.Done():
			return
		}
	}
}

// openAndStream acquires the device and streams frames until error or cancel
func (s *CameraStream) openAndStream() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	s.pipeline = pipeline

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("failed to create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", s.device)

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	videorate, _ := gst.NewElement("videorate")
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, _ := gst.NewElement("capsfilter")
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		s.width, s.height, s.fps,
	))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	s.appsink = appsink

	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	pipeline.AddMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)
	gst.ElementLinkMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	slog.Debug("setting camera pipeline to playing")
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	// Process bus messages, polling with a short timeout so shutdown stays responsive
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-s.ctx.Done():
			slog.Debug("context cancelled, stopping camera pipeline")
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("camera end of stream")
			pipeline.SetState(gst.StateNull)
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("camera pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			pipeline.SetState(gst.StateNull)
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, next := msg.ParseStateChanged()
				slog.Debug("camera pipeline state changed", "from", old, "to", next)

				if next == gst.StatePlaying {
					s.currentRetries = 0
				}
			}
		}
	}
}

// onNewSample is called by GStreamer when a new frame is available
func (s *CameraStream) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	// Copy out of the GStreamer buffer before it is unmapped
	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := types.Frame{
		Data:      frameData,
		Width:     s.width,
		Height:    s.height,
		Timestamp: time.Now(),
		Seq:       atomic.AddUint64(&s.frameCount, 1),
		TraceID:   uuid.New().String(),
	}

	s.lastFrameAt.Store(frame.Timestamp.UnixNano())
	atomic.AddUint64(&s.bytesRead, uint64(len(data)))

	// Send frame (non-blocking)
	select {
	case s.frames <- frame:
	default:
		slog.Debug("dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID)
	}

	return gst.FlowOK
}

// Frames returns the frame channel for the current acquisition
func (s *CameraStream) Frames() <-chan types.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Stop releases the camera device
func (s *CameraStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil // Never started (idempotent)
	}

	slog.Info("stopping camera capture")

	s.cancel()
	s.wg.Wait()
	s.cancel = nil

	slog.Info("camera capture stopped",
		"frames_captured", atomic.LoadUint64(&s.frameCount),
		"uptime", time.Since(s.started),
	)

	return nil
}

// Active reports whether the device handle is currently held
func (s *CameraStream) Active() bool {
	return s.active.Load()
}

// Stats returns capture statistics
func (s *CameraStream) Stats() types.CaptureStats {
	frameCount := atomic.LoadUint64(&s.frameCount)

	var fpsReal float64
	var latencyMS int64
	if !s.started.IsZero() && frameCount > 0 {
		elapsed := time.Since(s.started).Seconds()
		if elapsed > 0 {
			fpsReal = float64(frameCount) / elapsed
		}
	}
	if last := s.lastFrameAt.Load(); last > 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	return types.CaptureStats{
		FrameCount:  frameCount,
		FPSTarget:   s.fps,
		FPSReal:     fpsReal,
		LatencyMS:   latencyMS,
		Resolution:  fmt.Sprintf("%dx%d", s.width, s.height),
		Reconnects:  atomic.LoadUint32(&s.reconnects),
		BytesRead:   atomic.LoadUint64(&s.bytesRead),
		IsConnected: s.active.Load(),
	}
}
