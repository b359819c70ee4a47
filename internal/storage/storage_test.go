package storage_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gj2101/boutview/internal/storage"
)

func newFakeS3(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var lastRange string
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastRange = r.Header.Get("Range")
		if r.URL.Path != "/media/exp237/video_a_top_1.mp4" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000")
			return
		}
		w.Header().Set("Content-Range", "bytes 100-109/1000")
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("0123456789"))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastRange
}

func newStorage(t *testing.T, endpoint string) *storage.Storage {
	t.Helper()
	s, err := storage.New(context.Background(), storage.Config{
		Endpoint:  endpoint,
		Bucket:    "media",
		Prefix:    "/exp237/",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("expected no error creating storage client, got: %v", err)
	}
	return s
}

func TestNewStorageRequiresConfig(t *testing.T) {
	ctx := context.Background()

	_, err := storage.New(ctx, storage.Config{
		Endpoint:  "http://localhost:9000",
		Bucket:    "test",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("expected no error creating storage client, got: %v", err)
	}
}

func TestKey_AppliesPrefix(t *testing.T) {
	s := newStorage(t, "http://localhost:9000")
	if got := s.Key("/video_a_top_1.mp4"); got != "exp237/video_a_top_1.mp4" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestHeadObject_ReturnsInfo(t *testing.T) {
	srv, _ := newFakeS3(t)
	s := newStorage(t, srv.URL)

	info, err := s.HeadObject(context.Background(), s.Key("video_a_top_1.mp4"))
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.Size != 1000 || info.ContentType != "video/mp4" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.LastModified.Year() != 2024 {
		t.Errorf("unexpected last modified %v", info.LastModified)
	}
}

func TestHeadObject_NotFound(t *testing.T) {
	srv, _ := newFakeS3(t)
	s := newStorage(t, srv.URL)

	_, err := s.HeadObject(context.Background(), s.Key("missing.wav"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRange_SendsRangeHeader(t *testing.T) {
	srv, lastRange := newFakeS3(t)
	s := newStorage(t, srv.URL)

	body, err := s.GetRange(context.Background(), s.Key("video_a_top_1.mp4"), 100, 10)
	if err != nil {
		t.Fatalf("get range: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "0123456789" {
		t.Errorf("unexpected body %q", data)
	}
	if got := *lastRange; got != "bytes=100-109" {
		t.Errorf("expected Range bytes=100-109, got %q", got)
	}
}
