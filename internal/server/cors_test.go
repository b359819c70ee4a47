package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gj2101/boutview/internal/server"
)

func preflight(srv http.Handler, path, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, path, nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCORS_DefaultOrigins(t *testing.T) {
	srv := newTestServer(t)
	for _, origin := range server.DefaultCORSOrigins {
		rec := preflight(srv, "/api/sessions", origin)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", origin, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("%s: unexpected allow origin %q", origin, got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
			t.Errorf("unexpected api methods %q", got)
		}
	}
}

func TestCORS_MediaPreflight(t *testing.T) {
	srv := newMediaServer(t)
	rec := preflight(srv, "/clip.wav", "http://localhost:5173")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, HEAD, OPTIONS" {
		t.Errorf("unexpected media methods %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Range" {
		t.Errorf("expected Range allowed, got %q", got)
	}
}

func TestCORS_UnknownOriginRejected(t *testing.T) {
	srv := newTestServer(t)
	rec := preflight(srv, "/api/sessions", "https://evil.example")

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow origin, got %q", got)
	}
}

func TestCORS_SimpleRequestHeaders(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://gj2101-gui.vercel.app")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://gj2101-gui.vercel.app" {
		t.Errorf("unexpected allow origin %q", got)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Errorf("expected Vary: Origin, got %q", rec.Header().Get("Vary"))
	}
}

func TestCORS_Wildcard(t *testing.T) {
	srv := server.New(server.Config{CORSOrigins: []string{"*"}})
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	rec := preflight(srv, "/api/sessions", "https://anywhere.example")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
