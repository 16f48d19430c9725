package audio

import (
	"context"
	"errors"
	"time"
)

// Frame is one fixed-interval slice of normalized energy samples. Frames are
// ephemeral: produced on the capture cadence, consumed immediately by the
// detector and discarded.
type Frame struct {
	Samples []float32
	At      time.Time
}

// Device acquisition failures. These are terminal for the current utterance:
// the underlying cause needs user action, so callers surface them and return
// to idle instead of retrying.
var (
	ErrPermissionDenied  = errors.New("audio: input permission denied")
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")
	ErrDeviceBusy        = errors.New("audio: input device busy")
	ErrInsecureContext   = errors.New("audio: capture requires a secure context")
)

// Handle is a live audio input exposing a raw energy-sample feed and an
// encoded-chunk feed. Both channels close when the handle closes.
type Handle interface {
	Frames() <-chan Frame
	Chunks() <-chan []byte
	Close() error
}

// Device abstracts an audio input source.
type Device interface {
	Open(ctx context.Context) (Handle, error)
}
