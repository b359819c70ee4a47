package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gj2101/boutview/internal/storage"
)

type countingSource struct {
	Source
	opens int
}

func (c *countingSource) Open(ctx context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	c.opens++
	return c.Source.Open(ctx, name, offset, length)
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newTestHandler(t *testing.T) (*Handler, *countingSource, []byte) {
	t.Helper()
	parent := t.TempDir()
	root := filepath.Join(parent, "data")
	if err := os.MkdirAll(filepath.Join(root, "237"), 0o755); err != nil {
		t.Fatal(err)
	}
	data := testData(1000)
	if err := os.WriteFile(filepath.Join(root, "237", "video_a_top_1.mp4"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("top secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := NewDirSource(root)
	if err != nil {
		t.Fatal(err)
	}
	counting := &countingSource{Source: src}
	return NewHandler(counting), counting, data
}

func serve(h http.Handler, method, target, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTP_FullFile(t *testing.T) {
	h, _, data := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/237/video_a_top_1.mp4", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Error("expected full file body")
	}
	checks := map[string]string{
		"Content-Length": "1000",
		"Content-Type":   "video/mp4",
		"Accept-Ranges":  "bytes",
		"Cache-Control":  "public, max-age=0",
	}
	for k, v := range checks {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("expected %s %q, got %q", k, v, got)
		}
	}
	if _, err := time.Parse(http.TimeFormat, rec.Header().Get("Last-Modified")); err != nil {
		t.Errorf("expected Last-Modified, got %q", rec.Header().Get("Last-Modified"))
	}
}

func TestServeHTTP_Range(t *testing.T) {
	h, _, data := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/237/video_a_top_1.mp4", "bytes=100-199")

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("unexpected Content-Range %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Errorf("unexpected Content-Length %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), data[100:200]) {
		t.Errorf("expected bytes 100-199, got %d bytes", rec.Body.Len())
	}
}

func TestServeHTTP_RangeDefaultEnd(t *testing.T) {
	h, _, data := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/237/video_a_top_1.mp4", "bytes=500-")

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.Len() != 500 || !bytes.Equal(rec.Body.Bytes(), data[500:]) {
		t.Errorf("expected last 500 bytes, got %d", rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 500-999/1000" {
		t.Errorf("unexpected Content-Range %q", got)
	}
}

func TestServeHTTP_RangeEndClamped(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/237/video_a_top_1.mp4", "bytes=900-5000")
	if got := rec.Header().Get("Content-Range"); got != "bytes 900-999/1000" {
		t.Errorf("unexpected Content-Range %q", got)
	}
	if rec.Body.Len() != 100 {
		t.Errorf("expected 100 bytes, got %d", rec.Body.Len())
	}
}

func TestServeHTTP_SuffixAndMultiRange(t *testing.T) {
	h, _, data := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/237/video_a_top_1.mp4", "bytes=-10")
	if !bytes.Equal(rec.Body.Bytes(), data[990:]) {
		t.Errorf("expected last 10 bytes, got %d", rec.Body.Len())
	}

	rec = serve(h, http.MethodGet, "/237/video_a_top_1.mp4", "bytes=0-9, 20-29")
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-9/1000" {
		t.Errorf("expected only the first range, got %q", got)
	}
}

func TestServeHTTP_Unsatisfiable(t *testing.T) {
	h, counting, _ := newTestHandler(t)
	for _, spec := range []string{"bytes=1000-", "bytes=50-10", "bytes=abc", "items=0-1", "bytes=-0"} {
		rec := serve(h, http.MethodGet, "/237/video_a_top_1.mp4", spec)
		if rec.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Errorf("%s: expected 416, got %d", spec, rec.Code)
		}
		if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
			t.Errorf("%s: unexpected Content-Range %q", spec, got)
		}
	}
	if counting.opens != 0 {
		t.Errorf("expected no opens for unsatisfiable ranges, got %d", counting.opens)
	}
}

func TestServeHTTP_TraversalRejected(t *testing.T) {
	h, counting, _ := newTestHandler(t)

	for _, target := range []string{"/../secret.txt", "/237/../../secret.txt"} {
		rec := serve(h, http.MethodGet, target, "")
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", target, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "top secret") {
			t.Errorf("%s: leaked file contents", target)
		}
	}
	if counting.opens != 0 {
		t.Errorf("expected the file never to be opened, got %d opens", counting.opens)
	}
}

func TestServeHTTP_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	for _, target := range []string{"/237/missing.wav", "/237"} {
		if rec := serve(h, http.MethodGet, target, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestServeHTTP_Head(t *testing.T) {
	h, counting, _ := newTestHandler(t)
	rec := serve(h, http.MethodHead, "/237/video_a_top_1.mp4", "bytes=0-9")

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %d bytes", rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Length"); got != "10" {
		t.Errorf("unexpected Content-Length %q", got)
	}
	if counting.opens != 0 {
		t.Error("expected HEAD not to open the file")
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)
	if rec := serve(h, http.MethodPost, "/237/video_a_top_1.mp4", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestServeHTTP_ClientGoneStopsQuietly(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/237/video_a_top_1.mp4", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code >= 500 {
		t.Errorf("expected no 5xx on cancellation, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected no body after cancellation, got %d bytes", rec.Body.Len())
	}
}

type brokenSource struct{}

func (brokenSource) Stat(context.Context, string) (Info, error) {
	return Info{Size: 100}, nil
}

func (brokenSource) Open(context.Context, string, int64, int64) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(strings.NewReader("partial"), errReader{})), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestServeHTTP_FailureAfterHeadersAborts(t *testing.T) {
	h := NewHandler(brokenSource{})
	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler panic, got %v", r)
		}
	}()
	serve(h, http.MethodGet, "/x.wav", "")
}

type failingStatSource struct{ brokenSource }

func (failingStatSource) Stat(context.Context, string) (Info, error) {
	return Info{}, fmt.Errorf("stat /srv/private/x: permission denied")
}

func TestServeHTTP_InternalErrorIsGeneric(t *testing.T) {
	rec := serve(NewHandler(failingStatSource{}), http.MethodGet, "/x.wav", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "/srv/private") {
		t.Errorf("expected generic body, got %q", rec.Body.String())
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":       "video/mp4",
		"a.WAV":       "audio/wav",
		"calls.csv":   "text/csv",
		"m.json":      "application/json",
		"x.unknownxx": "application/octet-stream",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}
}

type fakeObjects struct {
	keys  map[string]string
	types map[string]string
}

func (f fakeObjects) Key(name string) string { return "exp237/" + strings.TrimLeft(name, "/") }

func (f fakeObjects) HeadObject(_ context.Context, key string) (storage.ObjectInfo, error) {
	body, ok := f.keys[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrNotFound
	}
	ct := "binary/octet-stream"
	if t, ok := f.types[key]; ok {
		ct = t
	}
	return storage.ObjectInfo{Size: int64(len(body)), ContentType: ct}, nil
}

func (f fakeObjects) GetRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	body, ok := f.keys[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body[offset : offset+length])), nil
}

func TestBucketSource_ServesRanges(t *testing.T) {
	src := NewBucketSource(fakeObjects{keys: map[string]string{"exp237/calls.csv": "bout_id\n1\n2\n"}})
	h := NewHandler(src)

	rec := serve(h, http.MethodGet, "/calls.csv", "bytes=8-9")
	if rec.Code != http.StatusPartialContent || rec.Body.String() != "1\n" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("expected text/csv, got %q", got)
	}
	if rec := serve(h, http.MethodGet, "/missing.csv", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/../other/calls.csv", ""); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestBucketSource_StoredContentType(t *testing.T) {
	src := NewBucketSource(fakeObjects{
		keys: map[string]string{
			"exp237/session.dat": "raw",
			"exp237/calls.csv":   "bout_id\n",
		},
		types: map[string]string{
			"exp237/session.dat": "audio/x-wav",
			"exp237/calls.csv":   "text/csv; charset=utf-8",
		},
	})
	h := NewHandler(src)

	for name, want := range map[string]string{
		"/session.dat": "audio/x-wav",
		"/calls.csv":   "text/csv; charset=utf-8",
	} {
		rec := serve(h, http.MethodHead, name, "")
		if got := rec.Header().Get("Content-Type"); got != want {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}
}

func TestNewDirSource_MissingRoot(t *testing.T) {
	if _, err := NewDirSource(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing root")
	}
}
