// Package bus is the cross-context broadcaster: it relays protocol envelopes
// between isolated execution contexts (page, content script, background)
// that share no memory and communicate only by asynchronous message passing.
//
// Broadcast delivery is best-effort: no acknowledgement, no retry, and no
// ordering guarantee across contexts. Within one sender, messages arrive in
// send order. The request path is the opposite: failures there are surfaced
// because the caller is awaiting a specific result.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrDeliveryFailed marks a failed request/response exchange. Broadcast
	// losses never produce it; they are absorbed at the send boundary.
	ErrDeliveryFailed = errors.New("bus: message delivery failed")
	ErrContextExists  = errors.New("bus: context id already attached")
)

// Message is any protocol envelope.
type Message = any

// Request pairs a message with a single-use reply slot. It travels through a
// context inbox like any other message.
type Request struct {
	CorrelationID string
	Msg           Message

	once  sync.Once
	reply chan Message
}

// Reply answers the request. Only the first reply wins; later calls are
// ignored, which keeps a double-replying handler from corrupting a second
// exchange.
func (r *Request) Reply(msg Message) {
	r.once.Do(func() { r.reply <- msg })
}

// Context is one attached execution context's mailbox.
type Context struct {
	id    string
	inbox chan Message
	done  chan struct{}
	once  sync.Once
	bus   *Bus
}

func (c *Context) ID() string { return c.id }

// Inbox delivers broadcasts and requests addressed to this context. The
// channel is never closed; consumers select on Done for teardown.
func (c *Context) Inbox() <-chan Message { return c.inbox }

// Done is closed when the context detaches.
func (c *Context) Done() <-chan struct{} { return c.done }

// Detach removes the context from the bus. Idempotent.
func (c *Context) Detach() {
	c.once.Do(func() {
		c.bus.mu.Lock()
		delete(c.bus.contexts, c.id)
		c.bus.mu.Unlock()
		close(c.done)
	})
}

// Bus routes messages between attached contexts.
type Bus struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	onDrop   func(contextID string)
}

func New() *Bus {
	return &Bus{contexts: make(map[string]*Context)}
}

// SetDropHook installs an observer for broadcast drops (full or detached
// inboxes). Used for metrics; drops are never surfaced to senders.
func (b *Bus) SetDropHook(hook func(contextID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = hook
}

// Attach registers a context id and returns its mailbox.
func (b *Bus) Attach(id string, buffer int) (*Context, error) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.contexts[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrContextExists, id)
	}
	c := &Context{
		id:    id,
		inbox: make(chan Message, buffer),
		done:  make(chan struct{}),
		bus:   b,
	}
	b.contexts[id] = c
	return c, nil
}

// Broadcast sends msg to every attached context except the sender.
// Best-effort: a saturated or missing receiver drops the message without any
// error reaching the sender. Sends from one goroutine arrive at each
// receiver in send order.
func (b *Bus) Broadcast(from string, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, c := range b.contexts {
		if id == from {
			continue
		}
		select {
		case c.inbox <- msg:
		default:
			if b.onDrop != nil {
				b.onDrop(id)
			}
		}
	}
}

// Request delivers msg to the target context and awaits its reply. Unlike
// Broadcast, every failure here is surfaced: missing target, detached target,
// and context expiry all return an error wrapping ErrDeliveryFailed.
func (b *Bus) Request(ctx context.Context, target string, msg Message) (Message, error) {
	b.mu.RLock()
	c, ok := b.contexts[target]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no context %q", ErrDeliveryFailed, target)
	}

	req := &Request{
		CorrelationID: uuid.NewString(),
		Msg:           msg,
		reply:         make(chan Message, 1),
	}

	select {
	case c.inbox <- req:
	case <-c.done:
		return nil, fmt.Errorf("%w: context %q detached", ErrDeliveryFailed, target)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, ctx.Err())
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-c.done:
		return nil, fmt.Errorf("%w: context %q detached before replying", ErrDeliveryFailed, target)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, ctx.Err())
	}
}
