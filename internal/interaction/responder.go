package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariadne-labs/ariadne/internal/bus"
	"github.com/ariadne-labs/ariadne/internal/protocol"
)

// BusResponder runs the produce-response step over the cross-context
// request/response channel. Every failure on this path is surfaced to the
// machine, unlike broadcast traffic.
type BusResponder struct {
	Bus     *bus.Bus
	Target  string
	Timeout time.Duration
}

func (r *BusResponder) Respond(ctx context.Context, sessionID, text string, pageContext json.RawMessage) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.Bus.Request(reqCtx, r.Target, protocol.ProcessUtterance{
		Type:          protocol.TypeProcessUtterance,
		SessionID:     sessionID,
		CorrelationID: uuid.NewString(),
		Message:       text,
		Context:       pageContext,
	})
	if err != nil {
		return "", err
	}

	switch v := resp.(type) {
	case protocol.ProcessResult:
		return v.Result, nil
	case protocol.ErrorEvent:
		return "", &RespondError{Retryable: v.Retryable, Detail: v.Detail}
	default:
		return "", &RespondError{Detail: fmt.Sprintf("unexpected reply type %T", resp)}
	}
}
