package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON_SetsHeadersAndStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Created", http.StatusCreated},
		{"Conflict", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()

			WriteJSON(recorder, tt.statusCode, map[string]int{"bout": 3})

			if recorder.Code != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, recorder.Code)
			}
			if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}
			var decoded map[string]int
			if err := json.NewDecoder(recorder.Body).Decode(&decoded); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if decoded["bout"] != 3 {
				t.Errorf("expected bout=3, got %d", decoded["bout"])
			}
		})
	}
}

func TestWriteError_ProducesErrorBody(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteError(recorder, http.StatusNotFound, "session not found")

	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, recorder.Code)
	}
	var decoded ErrorBody
	if err := json.NewDecoder(recorder.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if decoded.Error != "session not found" {
		t.Errorf("expected error=session not found, got %s", decoded.Error)
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Bout int    `json:"bout"`
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"Valid", `{"bout": 3, "name": "mom"}`, false},
		{"UnknownField", `{"bout": 3, "colour": "red"}`, true},
		{"Malformed", `{"bout": `, true},
		{"TooLarge", `{"name": "` + strings.Repeat("x", 2<<20) + `"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var got body
			err := DecodeJSON(httptest.NewRecorder(), req, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && (got.Bout != 3 || got.Name != "mom") {
				t.Errorf("unexpected decoded body %+v", got)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if got := ClientIP(req); got != "10.0.0.7" {
		t.Errorf("expected 10.0.0.7, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Errorf("expected first forwarded hop, got %s", got)
	}
}
