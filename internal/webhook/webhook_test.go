package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/promorec/promorec/internal/upload"
)

func newTestClient(url string) *Client {
	c := New(url, "s3cret")
	c.retryDelays = []time.Duration{time.Millisecond, time.Millisecond}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestSignPayload(t *testing.T) {
	sig := SignPayload("secret", []byte(`{"event":"recording.submitted"}`))
	if !strings.HasPrefix(sig, "sha256=") || len(sig) != len("sha256=")+64 {
		t.Errorf("unexpected signature format %q", sig)
	}
	if sig == SignPayload("other", []byte(`{"event":"recording.submitted"}`)) {
		t.Error("expected different secrets to produce different signatures")
	}
}

func TestUploadSendsSignedEvent(t *testing.T) {
	var gotBody []byte
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Upload(context.Background(), upload.Payload{
		Asset:       []byte("0123456789"),
		Filename:    "video_1.mp4",
		MIMEType:    "video/mp4",
		Caption:     "Guardian: Anna",
		Destination: "12345",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if gotSignature != SignPayload("s3cret", gotBody) {
		t.Errorf("signature does not match body")
	}
	var event Event
	if err := json.Unmarshal(gotBody, &event); err != nil {
		t.Fatal(err)
	}
	if event.Name != EventRecordingSubmitted {
		t.Errorf("expected event %q, got %q", EventRecordingSubmitted, event.Name)
	}
	if event.Data["filename"] != "video_1.mp4" || event.Data["size"] != float64(10) || event.Data["caption"] != "Guardian: Anna" {
		t.Errorf("unexpected data %v", event.Data)
	}
	if _, ok := event.Data["asset"]; ok {
		t.Error("expected video bytes to be left out")
	}
}

func TestDispatchRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Dispatch(context.Background(), Event{Name: "test"}); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDispatchAllRetriesFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Dispatch(context.Background(), Event{Name: "test"})

	var te *upload.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDispatchClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad signature"))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Dispatch(context.Background(), Event{Name: "test"})

	var re *upload.RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if re.Code != http.StatusUnauthorized || re.Reason != "bad signature" {
		t.Errorf("unexpected rejection %+v", re)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestDispatchConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := newTestClient(url).Dispatch(context.Background(), Event{Name: "test"})

	var te *upload.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestResponseBodyTruncation(t *testing.T) {
	long := strings.Repeat("x", maxResponseBodyBytes*2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(long))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Dispatch(context.Background(), Event{Name: "test"})

	var re *upload.RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if len(re.Reason) != maxResponseBodyBytes {
		t.Errorf("expected reason truncated to %d bytes, got %d", maxResponseBodyBytes, len(re.Reason))
	}
}
