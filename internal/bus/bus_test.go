package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBroadcastReachesAllOtherContexts(t *testing.T) {
	b := New()
	page, err := b.Attach("page", 8)
	if err != nil {
		t.Fatalf("Attach(page) error = %v", err)
	}
	background, err := b.Attach("background", 8)
	if err != nil {
		t.Fatalf("Attach(background) error = %v", err)
	}

	b.Broadcast("background", "state_change")

	select {
	case msg := <-page.Inbox():
		if msg != "state_change" {
			t.Fatalf("page received %v, want state_change", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("page never received the broadcast")
	}

	select {
	case msg := <-background.Inbox():
		t.Fatalf("sender received its own broadcast: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastWithNoListenersDoesNotError(t *testing.T) {
	b := New()
	// Absorbed silently at the send boundary.
	b.Broadcast("page", "anyone there?")
}

func TestBroadcastDropsWhenInboxFull(t *testing.T) {
	b := New()
	if _, err := b.Attach("slow", 1); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	var dropped []string
	b.SetDropHook(func(id string) { dropped = append(dropped, id) })

	b.Broadcast("background", "first")
	b.Broadcast("background", "second")

	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Fatalf("dropped = %v, want one drop for slow", dropped)
	}
}

func TestBroadcastPreservesPerSenderOrder(t *testing.T) {
	b := New()
	rx, err := b.Attach("rx", 16)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		b.Broadcast("tx", i)
	}
	for want := 0; want < 5; want++ {
		select {
		case msg := <-rx.Inbox():
			if msg != want {
				t.Fatalf("received %v, want %v", msg, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out at message %d", want)
		}
	}
}

func TestAttachRejectsDuplicateID(t *testing.T) {
	b := New()
	if _, err := b.Attach("page", 1); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if _, err := b.Attach("page", 1); !errors.Is(err, ErrContextExists) {
		t.Fatalf("duplicate Attach() error = %v, want ErrContextExists", err)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	b := New()
	background, err := b.Attach("background", 4)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	go func() {
		msg := <-background.Inbox()
		req, ok := msg.(*Request)
		if !ok {
			t.Errorf("inbox message = %T, want *Request", msg)
			return
		}
		if req.CorrelationID == "" {
			t.Errorf("request has no correlation id")
		}
		req.Reply("instructions ready")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := b.Request(ctx, "background", "process this")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp != "instructions ready" {
		t.Fatalf("response = %v, want instructions ready", resp)
	}
}

func TestRequestMissingTargetIsSurfaced(t *testing.T) {
	b := New()
	_, err := b.Request(context.Background(), "background", "hello")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Request() error = %v, want ErrDeliveryFailed", err)
	}
}

func TestRequestTimesOutWhenTargetSilent(t *testing.T) {
	b := New()
	if _, err := b.Attach("background", 4); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Request(ctx, "background", "hello")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Request() error = %v, want ErrDeliveryFailed", err)
	}
}

func TestRequestFailsWhenTargetDetaches(t *testing.T) {
	b := New()
	background, err := b.Attach("background", 4)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	go func() {
		<-background.Inbox()
		background.Detach()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = b.Request(ctx, "background", "hello")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Request() error = %v, want ErrDeliveryFailed", err)
	}
}

func TestReplyOnlyFirstWins(t *testing.T) {
	req := &Request{reply: make(chan Message, 1)}
	req.Reply("first")
	req.Reply("second")

	if got := <-req.reply; got != "first" {
		t.Fatalf("reply = %v, want first", got)
	}
	select {
	case extra := <-req.reply:
		t.Fatalf("unexpected extra reply %v", extra)
	default:
	}
}

func TestDetachIsIdempotentAndFreesID(t *testing.T) {
	b := New()
	c, err := b.Attach("page", 1)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	c.Detach()
	c.Detach()

	if _, err := b.Attach("page", 1); err != nil {
		t.Fatalf("re-Attach() after detach error = %v", err)
	}
}
