package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONSetsContentTypeHeader(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteJSON(recorder, http.StatusOK, map[string]string{"key": "value"})

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
}

func TestWriteJSONSetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Conflict", http.StatusConflict},
		{"BadGateway", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()

			WriteJSON(recorder, tt.statusCode, map[string]string{"key": "value"})

			if recorder.Code != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, recorder.Code)
			}
		})
	}
}

func TestWriteJSONEncodesStructBody(t *testing.T) {
	recorder := httptest.NewRecorder()
	payload := struct {
		State string `json:"state"`
		Size  int    `json:"size"`
	}{State: "reviewing", Size: 45}

	WriteJSON(recorder, http.StatusOK, payload)

	var decoded map[string]interface{}
	if err := json.NewDecoder(recorder.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if decoded["state"] != "reviewing" {
		t.Errorf("expected state=reviewing, got %v", decoded["state"])
	}
	if decoded["size"] != float64(45) {
		t.Errorf("expected size=45, got %v", decoded["size"])
	}
}

func TestWriteErrorProducesCorrectJSON(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteError(recorder, http.StatusConflict, "That action is not available right now")

	expected := `{"error":"That action is not available right now"}` + "\n"
	if recorder.Body.String() != expected {
		t.Errorf("expected body %q, got %q", expected, recorder.Body.String())
	}
	if recorder.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", recorder.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Tier string `json:"tier"`
	}
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"tier":"low"}`))
	if err := DecodeJSON(httptest.NewRecorder(), req, &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Tier != "low" {
		t.Errorf("expected tier low, got %q", v.Tier)
	}
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	var v struct{}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := DecodeJSON(httptest.NewRecorder(), req, &v); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var v struct {
		Tier string `json:"tier"`
	}
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"tier":"low","extra":1}`))
	err := DecodeJSON(httptest.NewRecorder(), req, &v)
	if err == nil || errors.Is(err, ErrEmptyBody) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	var v struct {
		Tier string `json:"tier"`
	}
	body := `{"tier":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	if err := DecodeJSON(httptest.NewRecorder(), req, &v); err == nil {
		t.Error("expected error for oversized body")
	}
}
