package audio

import (
	"context"
	"sync"
)

// Session shares one underlying device handle between multiple downstream
// consumers (detector, recorder, visualizers) without re-acquiring the
// device. The handle closes when the last consumer releases.
type Session struct {
	mu     sync.Mutex
	handle Handle
	refs   int
	closed bool
}

// Consumer is one reference on a session. Release is idempotent and always
// safe to call on any exit path.
type Consumer struct {
	name    string
	session *Session
	once    sync.Once
}

// Acquire opens the device and returns the owning session together with its
// root consumer.
func Acquire(ctx context.Context, dev Device) (*Session, *Consumer, error) {
	handle, err := dev.Open(ctx)
	if err != nil {
		return nil, nil, err
	}
	s := &Session{handle: handle, refs: 1}
	return s, &Consumer{name: "owner", session: s}, nil
}

// Retain adds a consumer reference. Retaining a torn-down session fails with
// ErrDeviceUnavailable rather than resurrecting the handle.
func (s *Session) Retain(name string) (*Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDeviceUnavailable
	}
	s.refs++
	return &Consumer{name: name, session: s}, nil
}

// Frames exposes the shared raw energy-sample feed.
func (s *Session) Frames() <-chan Frame { return s.handle.Frames() }

// Chunks exposes the shared encoded-chunk feed.
func (s *Session) Chunks() <-chan []byte { return s.handle.Chunks() }

func (c *Consumer) Release() {
	c.once.Do(func() { c.session.release() })
}

func (s *Session) release() {
	s.mu.Lock()
	s.refs--
	teardown := s.refs == 0 && !s.closed
	if teardown {
		s.closed = true
	}
	s.mu.Unlock()

	if teardown {
		_ = s.handle.Close()
	}
}
