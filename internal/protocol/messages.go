package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies cross-context payload variants. The same envelope
// set travels over the in-process bus and the websocket gateway.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypePageContext      MessageType = "page_context"
	TypeStateChange      MessageType = "state_change"
	TypeConversationTurn MessageType = "conversation_turn"
	TypeProcessUtterance MessageType = "process_utterance"
	TypeProcessResult    MessageType = "process_result"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionInvoke = "invoke"
	ActionStop   = "stop"
	ActionCancel = "cancel"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries one encoded slice of microphone audio from the
// page context.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientControl drives the interaction lifecycle from a UI context.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
}

// PageContext is the opaque structured blob describing interactive page
// elements. The pipeline never inspects it; it is passed through to the
// understanding service unchanged.
type PageContext struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Elements  json.RawMessage `json:"elements"`
}

// StateChange mirrors one interaction state transition to every context.
type StateChange struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Message   string      `json:"message,omitempty"`
	TSMs      int64       `json:"ts_ms"`
}

// ConversationTurn mirrors one appended turn so all contexts render the same
// transcript.
type ConversationTurn struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	Sender        string      `json:"sender"`
	Text          string      `json:"text"`
	CorrelationID string      `json:"correlation_id"`
	TSMs          int64       `json:"ts_ms"`
}

// ProcessUtterance is the request side of the background context's
// request/response channel: one transcribed utterance plus the page context
// captured alongside it.
type ProcessUtterance struct {
	Type          MessageType     `json:"type"`
	SessionID     string          `json:"session_id"`
	CorrelationID string          `json:"correlation_id"`
	Message       string          `json:"message"`
	Context       json.RawMessage `json:"context,omitempty"`
}

// ProcessResult is the matching response: the generated instruction text,
// already split into steps.
type ProcessResult struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	CorrelationID string      `json:"correlation_id"`
	Result        string      `json:"result"`
	Steps         []string    `json:"steps,omitempty"`
}

// ErrorEvent is the generic surfaced-failure report.
type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates a raw inbound frame from a
// websocket-attached context.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionInvoke, ActionStop, ActionCancel:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	case TypePageContext:
		var msg PageContext
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || len(msg.Elements) == 0 {
			return nil, errors.New("invalid page_context")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
