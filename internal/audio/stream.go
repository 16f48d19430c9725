package audio

import (
	"context"
	"sync"
	"time"
)

const (
	streamFrameBuffer = 64
	streamChunkBuffer = 256
)

// StreamDevice is an audio input fed by a remote page context over the
// websocket gateway: each pushed chunk yields one encoded chunk and one
// normalized energy frame. At most one handle may be open at a time.
type StreamDevice struct {
	mu     sync.Mutex
	secure bool
	open   *streamHandle
	now    func() time.Time
}

func NewStreamDevice(secure bool) *StreamDevice {
	return &StreamDevice{secure: secure, now: time.Now}
}

func (d *StreamDevice) Open(_ context.Context) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.secure {
		return nil, ErrInsecureContext
	}
	if d.open != nil {
		return nil, ErrDeviceBusy
	}
	h := &streamHandle{
		device: d,
		frames: make(chan Frame, streamFrameBuffer),
		chunks: make(chan []byte, streamChunkBuffer),
	}
	d.open = h
	return h, nil
}

// Push feeds one PCM16LE chunk from the remote context. Pushes while no
// recording is open are dropped; pushes into a saturated feed drop the frame
// rather than stall the caller, matching the real-time callback cadence.
func (d *StreamDevice) Push(pcm16 []byte, at time.Time) {
	d.mu.Lock()
	h := d.open
	d.mu.Unlock()
	if h == nil || len(pcm16) == 0 {
		return
	}
	if at.IsZero() {
		at = d.now()
	}

	chunk := make([]byte, len(pcm16))
	copy(chunk, pcm16)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.chunks <- chunk:
	default:
	}
	select {
	case h.frames <- Frame{Samples: DecodePCM16LE(pcm16), At: at}:
	default:
	}
}

type streamHandle struct {
	device *StreamDevice
	mu     sync.Mutex
	closed bool
	frames chan Frame
	chunks chan []byte
}

func (h *streamHandle) Frames() <-chan Frame  { return h.frames }
func (h *streamHandle) Chunks() <-chan []byte { return h.chunks }

func (h *streamHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.frames)
	close(h.chunks)
	h.mu.Unlock()

	h.device.mu.Lock()
	if h.device.open == h {
		h.device.open = nil
	}
	h.device.mu.Unlock()
	return nil
}
