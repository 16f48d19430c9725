package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ariadne-labs/ariadne/internal/utterance"
)

// ErrTranscriptionFailed marks a terminal per-utterance failure. The caller
// never retries automatically; the user has to re-record.
var ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

// Client sends finalized utterances to the external speech-to-text service.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type transcriptionResponse struct {
	Status  string `json:"status"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

// Transcribe uploads one finalized utterance and returns the normalized
// transcript text.
func (c *Client) Transcribe(ctx context.Context, payload utterance.Payload) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("audio", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("%w: build form: %v", ErrTranscriptionFailed, err)
	}
	if _, err := part.Write(payload.Data); err != nil {
		return "", fmt.Errorf("%w: write payload: %v", ErrTranscriptionFailed, err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("%w: close form: %v", ErrTranscriptionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: send request: %v", ErrTranscriptionFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("%w: http status %d: %s", ErrTranscriptionFailed, res.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrTranscriptionFailed, err)
	}
	if parsed.Status != "success" {
		reason := strings.TrimSpace(parsed.Message)
		if reason == "" {
			reason = "unspecified"
		}
		return "", fmt.Errorf("%w: %s", ErrTranscriptionFailed, reason)
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrTranscriptionFailed)
	}
	return text, nil
}
