package understand

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/ariadne-labs/ariadne/internal/bus"
	"github.com/ariadne-labs/ariadne/internal/instructions"
	"github.com/ariadne-labs/ariadne/internal/protocol"
	"github.com/ariadne-labs/ariadne/internal/reliability"
)

// InstructionMaker is the understanding call the worker performs per request.
type InstructionMaker interface {
	MakeInstructions(ctx context.Context, message string, pageContext json.RawMessage) (string, error)
}

// Worker is the background context's request/response endpoint: it serves
// process_utterance requests off the bus, runs the understanding round trip,
// archives the result, and replies. Broadcast traffic on the same inbox is
// ignored.
type Worker struct {
	maker InstructionMaker
	store instructions.Store
}

func NewWorker(maker InstructionMaker, store instructions.Store) *Worker {
	return &Worker{maker: maker, store: store}
}

// Run serves requests until ctx is cancelled or the bus context detaches.
func (w *Worker) Run(ctx context.Context, busCtx *bus.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-busCtx.Done():
			return
		case msg := <-busCtx.Inbox():
			req, ok := msg.(*bus.Request)
			if !ok {
				continue
			}
			utt, ok := req.Msg.(protocol.ProcessUtterance)
			if !ok {
				req.Reply(protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					Code:   "unsupported_request",
					Source: "background",
					Detail: "background context only serves process_utterance",
				})
				continue
			}
			req.Reply(w.process(ctx, utt))
		}
	}
}

func (w *Worker) process(ctx context.Context, utt protocol.ProcessUtterance) bus.Message {
	result, err := w.maker.MakeInstructions(ctx, utt.Message, utt.Context)
	if err != nil {
		retryable := false
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			retryable = reliability.IsRetryableHTTPStatus(svcErr.HTTPStatus)
		}
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: utt.SessionID,
			Code:      "understanding_failed",
			Source:    "understanding",
			Retryable: retryable,
			Detail:    err.Error(),
		}
	}

	steps := instructions.ParseSteps(result)
	if w.store != nil {
		_, saveErr := w.store.SaveSet(ctx, instructions.InstructionSet{
			SessionID:    utt.SessionID,
			Prompt:       utt.Message,
			Instructions: result,
			Steps:        steps,
		})
		if saveErr != nil {
			// Archiving is bookkeeping; the reply still carries the result.
			log.Printf("instruction archive failed: %v", saveErr)
		}
	}

	return protocol.ProcessResult{
		Type:          protocol.TypeProcessResult,
		SessionID:     utt.SessionID,
		CorrelationID: utt.CorrelationID,
		Result:        result,
		Steps:         steps,
	}
}
