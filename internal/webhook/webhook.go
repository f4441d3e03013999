// Package webhook notifies an operator endpoint about each delivered
// recording. Only metadata and the caption are sent, never the video.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/promorec/promorec/internal/upload"
)

const (
	EventRecordingSubmitted = "recording.submitted"

	maxResponseBodyBytes = 1024
)

// Event is the JSON document posted to the endpoint.
type Event struct {
	Name      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Client posts signed events with retries.
type Client struct {
	url         string
	secret      string
	http        *http.Client
	retryDelays []time.Duration
	now         func() time.Time
}

func New(url, secret string) *Client {
	return &Client{
		url:         url,
		secret:      secret,
		http:        &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 4 * time.Second},
		now:         time.Now,
	}
}

// SignPayload computes HMAC-SHA256 of the payload using the secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Upload reports a delivered recording. It satisfies upload.Uploader so it
// can sit behind the primary destination in an upload.Multi.
func (c *Client) Upload(ctx context.Context, p upload.Payload) error {
	return c.Dispatch(ctx, Event{
		Name:      EventRecordingSubmitted,
		Timestamp: c.now().UTC(),
		Data: map[string]any{
			"filename":    p.Filename,
			"mimeType":    p.MIMEType,
			"size":        len(p.Asset),
			"caption":     p.Caption,
			"destination": p.Destination,
		},
	})
}

// Dispatch sends an event with up to 1+len(retryDelays) attempts. Client
// errors (4xx) are not retried.
func (c *Client) Dispatch(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	signature := SignPayload(c.secret, body)
	maxAttempts := 1 + len(c.retryDelays)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, respBody, err := c.doPost(ctx, body, signature)
		switch {
		case err != nil:
			lastErr = &upload.TransportError{Err: err}
		case status >= 200 && status < 300:
			return nil
		case status >= 400 && status < 500:
			return &upload.RejectedError{Code: status, Reason: respBody}
		default:
			lastErr = &upload.TransportError{Err: fmt.Errorf("webhook returned status %d", status)}
		}
		slog.Warn("webhook: delivery attempt failed", "event", event.Name, "attempt", attempt, "error", lastErr)

		if attempt < maxAttempts {
			select {
			case <-time.After(c.retryDelays[attempt-1]):
			case <-ctx.Done():
				return &upload.TransportError{Err: ctx.Err()}
			}
		}
	}

	return lastErr
}

func (c *Client) doPost(ctx context.Context, body []byte, signature string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBodyBytes)+1))
	respBody := string(respBytes)
	if len(respBody) > maxResponseBodyBytes {
		respBody = respBody[:maxResponseBodyBytes]
	}

	return resp.StatusCode, respBody, nil
}
