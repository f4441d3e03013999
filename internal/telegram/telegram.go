package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/promorec/promorec/internal/upload"
)

const (
	DefaultAPIURL         = "https://api.telegram.org"
	DefaultMaxUploadBytes = 50 * 1024 * 1024

	maxResponseBodyBytes = 64 * 1024
)

var _ upload.Uploader = (*Client)(nil)

type Config struct {
	APIURL         string
	Token          string
	MaxUploadBytes int64
	Timeout        time.Duration
}

// Client sends recordings to a chat through the Bot API sendVideo method.
type Client struct {
	apiURL   string
	token    string
	maxBytes int64
	http     *http.Client
}

// New creates a Bot API client. The token is never included in returned
// errors or logs.
func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		apiURL:   strings.TrimRight(cfg.APIURL, "/"),
		token:    cfg.Token,
		maxBytes: cfg.MaxUploadBytes,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
}

// Upload posts the payload as a streaming-capable video with its caption.
func (c *Client) Upload(ctx context.Context, p upload.Payload) error {
	if c.maxBytes > 0 && int64(len(p.Asset)) > c.maxBytes {
		return &upload.RejectedError{Reason: fmt.Sprintf("file too large: %d > %d bytes", len(p.Asset), c.maxBytes)}
	}

	body, contentType, err := sendVideoBody(p)
	if err != nil {
		return &upload.TransportError{Err: fmt.Errorf("build multipart body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendVideo"), body)
	if err != nil {
		return &upload.TransportError{Err: c.scrub(err)}
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &upload.TransportError{Err: c.scrub(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return &upload.TransportError{Err: fmt.Errorf("read telegram response: %w", err)}
	}

	var result apiResponse
	decodeErr := json.Unmarshal(respBody, &result)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && decodeErr == nil && result.OK {
		slog.Info("telegram: video sent",
			"chat_id", p.Destination,
			"filename", p.Filename,
			"size", len(p.Asset),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	rejected := &upload.RejectedError{Code: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	if decodeErr == nil && result.Description != "" {
		rejected.Reason = result.Description
		if result.ErrorCode != 0 {
			rejected.Code = result.ErrorCode
		}
	} else if decodeErr == nil && !result.OK && resp.StatusCode < 300 {
		rejected.Reason = "telegram reported failure without description"
	}
	slog.Warn("telegram: video rejected", "chat_id", p.Destination, "status", resp.StatusCode, "reason", rejected.Reason)
	return rejected
}

// scrub drops the request URL, which carries the bot token, from err.
func (c *Client) scrub(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s sendVideo: %w", ue.Op, ue.Err)
	}
	if c.token != "" && strings.Contains(err.Error(), c.token) {
		return errors.New(strings.ReplaceAll(err.Error(), c.token, "<redacted>"))
	}
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func sendVideoBody(p upload.Payload) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("chat_id", p.Destination); err != nil {
		return nil, "", fmt.Errorf("write chat_id: %w", err)
	}

	// CreateFormFile would label the part application/octet-stream.
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="video"; filename="%s"`, quoteEscaper.Replace(p.Filename)))
	partHeader.Set("Content-Type", p.MIMEType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, "", fmt.Errorf("create video part: %w", err)
	}
	if _, err := part.Write(p.Asset); err != nil {
		return nil, "", fmt.Errorf("write video data: %w", err)
	}

	if p.Caption != "" {
		if err := writer.WriteField("caption", p.Caption); err != nil {
			return nil, "", fmt.Errorf("write caption: %w", err)
		}
	}
	if err := writer.WriteField("supports_streaming", "true"); err != nil {
		return nil, "", fmt.Errorf("write supports_streaming: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
