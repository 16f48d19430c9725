package understand

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ariadne-labs/ariadne/internal/bus"
	"github.com/ariadne-labs/ariadne/internal/instructions"
	"github.com/ariadne-labs/ariadne/internal/protocol"
)

type fakeMaker struct {
	result string
	err    error
	calls  int
}

func (f *fakeMaker) MakeInstructions(_ context.Context, _ string, _ json.RawMessage) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func startWorker(t *testing.T, maker InstructionMaker, store instructions.Store) (*bus.Bus, context.CancelFunc) {
	t.Helper()
	b := bus.New()
	busCtx, err := b.Attach("background", 8)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go NewWorker(maker, store).Run(ctx, busCtx)
	return b, cancel
}

func TestWorkerProcessesUtterance(t *testing.T) {
	store := instructions.NewInMemoryStore()
	maker := &fakeMaker{result: "1. Open the menu\n2. Select Help"}
	b, cancel := startWorker(t, maker, store)
	defer cancel()

	ctx, cancelReq := context.WithTimeout(context.Background(), time.Second)
	defer cancelReq()
	resp, err := b.Request(ctx, "background", protocol.ProcessUtterance{
		Type:      protocol.TypeProcessUtterance,
		SessionID: "s1",
		Message:   "where is help",
		Context:   json.RawMessage(`[{"id":"ai-1","tag":"a","text":"Help"}]`),
	})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	result, ok := resp.(protocol.ProcessResult)
	if !ok {
		t.Fatalf("response = %T, want ProcessResult", resp)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("steps = %v, want 2 parsed steps", result.Steps)
	}

	sets, err := store.RecentSets(context.Background(), "s1", 5)
	if err != nil {
		t.Fatalf("RecentSets() error = %v", err)
	}
	if len(sets) != 1 || sets[0].Prompt != "where is help" {
		t.Fatalf("archive = %+v, want one recorded set", sets)
	}
}

func TestWorkerSurfacesUnderstandingFailure(t *testing.T) {
	maker := &fakeMaker{err: &ServiceError{HTTPStatus: 503, Reason: "overloaded"}}
	b, cancel := startWorker(t, maker, instructions.NewInMemoryStore())
	defer cancel()

	ctx, cancelReq := context.WithTimeout(context.Background(), time.Second)
	defer cancelReq()
	resp, err := b.Request(ctx, "background", protocol.ProcessUtterance{
		Type:      protocol.TypeProcessUtterance,
		SessionID: "s1",
		Message:   "hello",
	})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	evt, ok := resp.(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("response = %T, want ErrorEvent", resp)
	}
	if evt.Code != "understanding_failed" {
		t.Fatalf("Code = %q, want understanding_failed", evt.Code)
	}
	if !evt.Retryable {
		t.Fatalf("503 should classify as retryable in the event")
	}
}

func TestWorkerRejectsUnsupportedRequest(t *testing.T) {
	b, cancel := startWorker(t, &fakeMaker{result: "1. x"}, nil)
	defer cancel()

	ctx, cancelReq := context.WithTimeout(context.Background(), time.Second)
	defer cancelReq()
	resp, err := b.Request(ctx, "background", "not an utterance")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	evt, ok := resp.(protocol.ErrorEvent)
	if !ok || evt.Code != "unsupported_request" {
		t.Fatalf("response = %+v, want unsupported_request error event", resp)
	}
}

func TestWorkerIgnoresBroadcastNoise(t *testing.T) {
	maker := &fakeMaker{result: "1. x"}
	b, cancel := startWorker(t, maker, nil)
	defer cancel()

	// Broadcast state changes must not reach the maker.
	b.Broadcast("machine", protocol.StateChange{Type: protocol.TypeStateChange, State: "listening"})

	ctx, cancelReq := context.WithTimeout(context.Background(), time.Second)
	defer cancelReq()
	if _, err := b.Request(ctx, "background", protocol.ProcessUtterance{
		Type:    protocol.TypeProcessUtterance,
		Message: "hi",
	}); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if maker.calls != 1 {
		t.Fatalf("maker calls = %d, want 1", maker.calls)
	}
}
