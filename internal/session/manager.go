package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariadne-labs/ariadne/internal/audio"
	"github.com/ariadne-labs/ariadne/internal/bus"
	"github.com/ariadne-labs/ariadne/internal/interaction"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is the bookkeeping record for one attached page context.
type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Runtime bundles the per-session pipeline: the interaction machine, the
// inbound audio stream it records from, the session's context bus, and the
// cancel that stops the machine and worker loops.
type Runtime struct {
	Machine *interaction.Machine
	Stream  *audio.StreamDevice
	Bus     *bus.Bus
	stop    context.CancelFunc
}

// NewRuntime wires a runtime around an already-running machine loop.
func NewRuntime(machine *interaction.Machine, stream *audio.StreamDevice, b *bus.Bus, stop context.CancelFunc) *Runtime {
	return &Runtime{Machine: machine, Stream: stream, Bus: b, stop: stop}
}

// Stop tears down the machine loop. Idempotent via context cancellation.
func (r *Runtime) Stop() {
	if r.stop != nil {
		r.stop()
	}
}

// Factory builds the pipeline for a new session and starts its machine loop.
type Factory func(sessionID string) (*Runtime, error)

// Manager tracks live sessions and their pipeline runtimes. Reads return
// clones so callers never alias manager-owned records.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	runtimes          map[string]*Runtime
	factory           Factory
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration, factory Factory) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		runtimes:          make(map[string]*Runtime),
		factory:           factory,
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

// Create registers a session and spins up its pipeline.
func (m *Manager) Create() (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	var runtime *Runtime
	if m.factory != nil {
		var err error
		runtime, err = m.factory(s.ID)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if runtime != nil {
		m.runtimes[s.ID] = runtime
	}
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Runtime returns the live pipeline for an active session.
func (m *Manager) Runtime(sessionID string) (*Runtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != StatusActive {
		return nil, ErrNotFound
	}
	r, ok := m.runtimes[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// Touch refreshes the inactivity clock. Called on every inbound frame.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End marks the session ended and stops its pipeline.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	runtime := m.runtimes[sessionID]
	delete(m.runtimes, sessionID)
	out := clone(s)
	m.mu.Unlock()

	if runtime != nil {
		runtime.Stop()
	}
	return out, nil
}

// StartJanitor expires inactive sessions on a fixed cadence until ctx is
// cancelled.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session
	var runtimes []*Runtime

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if r, ok := m.runtimes[id]; ok {
			runtimes = append(runtimes, r)
			delete(m.runtimes, id)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, r := range runtimes {
		r.Stop()
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
