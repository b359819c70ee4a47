package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
)

const defaultChunkSize = 64 * 1024

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".csv":  "text/csv",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
}

// ContentType picks the media type for name from its extension.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// contentTypeOf prefers the type the source recorded for the file. Generic octet-stream
// defaults carry no information and fall back to the extension table.
func contentTypeOf(name string, info Info) string {
	switch info.ContentType {
	case "", "application/octet-stream", "binary/octet-stream":
		return ContentType(name)
	}
	return info.ContentType
}

// Handler serves GET and HEAD for files of a Source, honouring single byte ranges.
type Handler struct {
	source    Source
	chunkSize int
}

func NewHandler(source Source) *Handler {
	return &Handler{source: source, chunkSize: defaultChunkSize}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Path
	ctx := r.Context()

	info, err := h.source.Stat(ctx, name)
	if err != nil {
		h.writeError(w, name, err)
		return
	}

	header := w.Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set("Cache-Control", "public, max-age=0")
	if !info.ModTime.IsZero() {
		header.Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))
	}
	header.Set("Content-Type", contentTypeOf(name, info))

	start, end := int64(0), info.Size-1
	status := http.StatusOK
	if spec := r.Header.Get("Range"); spec != "" {
		var ok bool
		start, end, ok = parseRange(spec, info.Size)
		if !ok {
			header.Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
			http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, info.Size))
	}
	length := end - start + 1
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	body, err := h.source.Open(ctx, name, start, length)
	if err != nil {
		header.Del("Content-Range")
		header.Del("Content-Length")
		h.writeError(w, name, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.WriteHeader(status)
	n, err := copyChunks(ctx, w, body, h.chunkSize)
	if ctx.Err() != nil {
		slog.Info("media: client disconnected", "path", name, "sent", n, "of", length)
		return
	}
	if err == nil && n < length {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		slog.Error("media: stream failed after headers", "path", name, "sent", n, "of", length, "error", err)
		panic(http.ErrAbortHandler)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrAccessDenied):
		http.Error(w, "access denied", http.StatusForbidden)
	case errors.Is(err, context.Canceled):
		slog.Info("media: request cancelled", "path", name)
	default:
		slog.Error("media: serve failed", "path", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// copyChunks copies src to dst one chunk at a time and stops before the next chunk once ctx is
// done.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, size int) (int64, error) {
	buf := make([]byte, size)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// parseRange resolves the first range of a "bytes=" header against size. end is inclusive and
// clamped to the last byte.
func parseRange(spec string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(spec, prefix) || size <= 0 {
		return 0, 0, false
	}
	first, _, _ := strings.Cut(spec[len(prefix):], ",")
	from, to, found := strings.Cut(strings.TrimSpace(first), "-")
	if !found {
		return 0, 0, false
	}
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)

	if from == "" {
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if to != "" {
		e, err := strconv.ParseInt(to, 10, 64)
		if err != nil || e < start {
			return 0, 0, false
		}
		if e < end {
			end = e
		}
	}
	return start, end, true
}
