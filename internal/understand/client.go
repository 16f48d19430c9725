package understand

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnderstandingFailed marks a terminal per-attempt failure of the
// instruction service. No partial turn is recorded on failure, so a retry
// from the UI is always a clean retry.
var ErrUnderstandingFailed = errors.New("understand: instruction generation failed")

// ServiceError carries the HTTP status alongside the failure reason so
// callers can classify it for error events.
type ServiceError struct {
	HTTPStatus int
	Reason     string
}

func (e *ServiceError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%v: http status %d: %s", ErrUnderstandingFailed, e.HTTPStatus, e.Reason)
	}
	return fmt.Sprintf("%v: %s", ErrUnderstandingFailed, e.Reason)
}

func (e *ServiceError) Unwrap() error { return ErrUnderstandingFailed }

// Client calls the external understanding/instruction service.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type instructionRequest struct {
	Message string          `json:"message"`
	Context json.RawMessage `json:"context,omitempty"`
}

type instructionResponse struct {
	Status  string `json:"status"`
	Result  string `json:"result"`
	Message string `json:"message"`
}

// MakeInstructions sends the transcribed message plus the opaque page-context
// blob and returns the generated instruction text.
func (c *Client) MakeInstructions(ctx context.Context, message string, pageContext json.RawMessage) (string, error) {
	payload, err := json.Marshal(instructionRequest{Message: message, Context: pageContext})
	if err != nil {
		return "", &ServiceError{Reason: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", &ServiceError{Reason: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", &ServiceError{Reason: fmt.Sprintf("send request: %v", err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &ServiceError{HTTPStatus: res.StatusCode, Reason: strings.TrimSpace(string(snippet))}
	}

	var parsed instructionResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", &ServiceError{Reason: fmt.Sprintf("malformed response: %v", err)}
	}
	if parsed.Status != "success" {
		reason := strings.TrimSpace(parsed.Message)
		if reason == "" {
			reason = "unspecified"
		}
		return "", &ServiceError{Reason: reason}
	}

	result := strings.TrimSpace(parsed.Result)
	if result == "" {
		return "", &ServiceError{Reason: "empty result"}
	}
	return result, nil
}
