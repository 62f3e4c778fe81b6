package types

import "time"

// Frame represents a single video frame
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the frame data (interleaved RGB)
	Data []byte
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// CaptureStats contains capture device statistics
type CaptureStats struct {
	FrameCount  uint64
	FPSTarget   int
	FPSReal     float64
	LatencyMS   int64
	Resolution  string
	Reconnects  uint32
	BytesRead   uint64
	IsConnected bool
}
