package capture

import (
	"context"
	"log/slog"

	"github.com/wellness/vigil/internal/types"
)

// Provider defines the contract for camera frame acquisition.
//
// Implementations must guarantee:
//   - Start() returns immediately (non-blocking)
//   - the Frames() channel stays open until Stop()
//   - Stop() is idempotent and releases the device handle on every exit path
//   - Start() may be called again after Stop(); each acquisition gets a
//     fresh frame channel
//   - Stats() and Active() are safe to call from any goroutine
type Provider interface {
	// Start acquires the device and begins producing frames asynchronously.
	Start(ctx context.Context) error

	// Frames returns the channel of captured frames. Frames are sent
	// non-blocking: if the buffer is full the frame is dropped, never queued.
	Frames() <-chan types.Frame

	// Stop releases the device and closes the frame channel. Idempotent.
	Stop() error

	// Stats returns current capture statistics.
	Stats() types.CaptureStats

	// Active reports whether the device handle is currently held.
	Active() bool
}

// New selects a provider for the configured device. "mock" yields synthetic
// frames for development and tests; anything else is treated as a V4L2
// device path.
func New(device, resolution string, fps int) Provider {
	width, height := parseResolution(resolution)
	if device == "mock" {
		return NewMockStream(width, height, fps)
	}
	return NewCameraStream(CameraConfig{
		Device: device,
		Width:  width,
		Height: height,
		FPS:    fps,
	})
}

// parseResolution converts a resolution string to width/height
func parseResolution(res string) (width, height int) {
	switch res {
	case "320p":
		return 426, 320
	case "480p":
		return 640, 480
	case "720p":
		return 1280, 720
	case "1080p":
		return 1920, 1080
	default:
		slog.Warn("unknown resolution, using default", "resolution", res, "default", "640x480")
		return 640, 480
	}
}
