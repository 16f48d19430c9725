package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingHandle struct {
	mu     sync.Mutex
	closed int
	frames chan Frame
	chunks chan []byte
}

func newCountingHandle() *countingHandle {
	return &countingHandle{
		frames: make(chan Frame),
		chunks: make(chan []byte),
	}
}

func (h *countingHandle) Frames() <-chan Frame  { return h.frames }
func (h *countingHandle) Chunks() <-chan []byte { return h.chunks }

func (h *countingHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *countingHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type handleDevice struct {
	handle Handle
	err    error
}

func (d *handleDevice) Open(context.Context) (Handle, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.handle, nil
}

func TestAcquirePropagatesDeviceError(t *testing.T) {
	_, _, err := Acquire(context.Background(), &handleDevice{err: ErrPermissionDenied})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Acquire() error = %v, want ErrPermissionDenied", err)
	}
}

func TestSessionClosesOnLastRelease(t *testing.T) {
	h := newCountingHandle()
	session, owner, err := Acquire(context.Background(), &handleDevice{handle: h})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	vad, err := session.Retain("vad")
	if err != nil {
		t.Fatalf("Retain() error = %v", err)
	}
	rec, err := session.Retain("recorder")
	if err != nil {
		t.Fatalf("Retain() error = %v", err)
	}

	vad.Release()
	owner.Release()
	if got := h.closeCount(); got != 0 {
		t.Fatalf("handle closed %d times with a consumer still attached", got)
	}

	rec.Release()
	if got := h.closeCount(); got != 1 {
		t.Fatalf("handle closed %d times, want 1", got)
	}
}

func TestConsumerReleaseIsIdempotent(t *testing.T) {
	h := newCountingHandle()
	_, owner, err := Acquire(context.Background(), &handleDevice{handle: h})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	owner.Release()
	owner.Release()
	owner.Release()
	if got := h.closeCount(); got != 1 {
		t.Fatalf("handle closed %d times, want 1", got)
	}
}

func TestRetainAfterTeardownFails(t *testing.T) {
	h := newCountingHandle()
	session, owner, err := Acquire(context.Background(), &handleDevice{handle: h})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	owner.Release()

	if _, err := session.Retain("late"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Retain() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestStreamDeviceRejectsInsecureContext(t *testing.T) {
	dev := NewStreamDevice(false)
	if _, err := dev.Open(context.Background()); !errors.Is(err, ErrInsecureContext) {
		t.Fatalf("Open() error = %v, want ErrInsecureContext", err)
	}
}

func TestStreamDeviceRejectsSecondOpen(t *testing.T) {
	dev := NewStreamDevice(true)
	h, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if _, err := dev.Open(context.Background()); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second Open() error = %v, want ErrDeviceBusy", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	h2, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() after close error = %v", err)
	}
	_ = h2.Close()
}

func TestStreamDevicePushFeedsBothFeeds(t *testing.T) {
	dev := NewStreamDevice(true)
	h, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	// Two PCM16 samples: 0 and half scale.
	dev.Push([]byte{0x00, 0x00, 0x00, 0x40}, time.Now())

	select {
	case chunk := <-h.Chunks():
		if len(chunk) != 4 {
			t.Fatalf("chunk length = %d, want 4", len(chunk))
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for chunk")
	}

	select {
	case frame := <-h.Frames():
		if len(frame.Samples) != 2 {
			t.Fatalf("frame samples = %d, want 2", len(frame.Samples))
		}
		if frame.Samples[1] < 0.49 || frame.Samples[1] > 0.51 {
			t.Fatalf("normalized sample = %v, want ~0.5", frame.Samples[1])
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
}

func TestStreamDevicePushAfterCloseIsDropped(t *testing.T) {
	dev := NewStreamDevice(true)
	h, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = h.Close()

	// Must not panic on the closed feed channels.
	dev.Push([]byte{0x01, 0x02}, time.Now())
}
