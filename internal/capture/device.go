package capture

import (
	"context"
	"time"
)

// Constraints describe the stream requested from a device.
type Constraints struct {
	Width              int
	Height             int
	Facing             string
	VideoBitsPerSecond int
	AudioBitsPerSecond int
}

// Stream is an exclusively held camera+microphone handle.
type Stream interface {
	ID() string
}

// CaptureOptions configure a single recording on an acquired stream.
// An empty MIMEType lets the device pick its default encoding.
type CaptureOptions struct {
	MIMEType           string
	Interval           time.Duration
	VideoBitsPerSecond int
	AudioBitsPerSecond int
}

// Capture is a running recording. Fragments is closed after the last
// fragment has been delivered, which is the finalize signal.
type Capture interface {
	Fragments() <-chan []byte
	MIMEType() string
	Stop() error
}

// Device is the media capture platform the session records from.
type Device interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
	Release(s Stream) error
	Supported(mimeType string) bool
	StartCapture(ctx context.Context, s Stream, opts CaptureOptions) (Capture, error)
}
