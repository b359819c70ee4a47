package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gj2101/boutview/internal/annotation"
	"github.com/gj2101/boutview/internal/bout"
	"github.com/gj2101/boutview/internal/httputil"
	"github.com/gj2101/boutview/internal/validate"
)

const maxImportBytes = 10 << 20

type tagRequest struct {
	Bout int    `json:"bout"`
	Name string `json:"name"`
}

type noteRequest struct {
	Bout int    `json:"bout"`
	Note string `json:"note"`
}

type annotationsResponse struct {
	Scope      annotation.Scope `json:"scope"`
	Tags       []annotation.Tag  `json:"tags"`
	Notes      []annotation.Note `json:"notes"`
	Vocabulary []string          `json:"vocabulary"`
	Limits     map[string]int    `json:"limits"`
}

func (s *Server) scopeFromQuery(r *http.Request) (annotation.Scope, string) {
	q := r.URL.Query()
	scope := annotation.Scope{BaseURL: q.Get("baseUrl"), CSVURL: q.Get("csvUrl")}
	if msg := validate.DatasetURL(scope.BaseURL); msg != "" {
		return scope, msg
	}
	if msg := validate.DatasetHost(scope.BaseURL, "baseUrl", s.hosts); msg != "" {
		return scope, msg
	}
	if len(scope.CSVURL) > validate.MaxURLLength {
		return scope, fmt.Sprintf("csvUrl must be %d characters or fewer", validate.MaxURLLength)
	}
	return scope, ""
}

// annotationStore resolves the scope of the request and writes the error response itself when
// it cannot.
func (s *Server) annotationStore(w http.ResponseWriter, r *http.Request) (*annotation.Store, bool) {
	scope, msg := s.scopeFromQuery(r)
	if msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return nil, false
	}
	store, err := s.annotations.Get(r.Context(), scope)
	if err != nil {
		slog.Error("annotations: open failed", "base_url", scope.BaseURL, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load annotations")
		return nil, false
	}
	return store, true
}

func writeAnnotations(w http.ResponseWriter, store *annotation.Store) {
	set := store.Snapshot()
	httputil.WriteJSON(w, http.StatusOK, annotationsResponse{
		Scope:      store.Scope(),
		Tags:       set.Tags,
		Notes:      set.Notes,
		Vocabulary: annotation.Vocabulary,
		Limits:     validate.FieldLimits(),
	})
}

func writeSaveError(w http.ResponseWriter, store *annotation.Store, err error) {
	slog.Error("annotations: save failed", "base_url", store.Scope().BaseURL, "error", err)
	httputil.WriteError(w, http.StatusInternalServerError, "could not save annotations")
}

func (s *Server) getAnnotations(w http.ResponseWriter, r *http.Request) {
	store, ok := s.annotationStore(w, r)
	if !ok {
		return
	}
	writeAnnotations(w, store)
}

func decodeTag(w http.ResponseWriter, r *http.Request) (tagRequest, bool) {
	var req tagRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if msg := validate.TagName(req.Name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return req, false
	}
	return req, true
}

func (s *Server) addTag(w http.ResponseWriter, r *http.Request) {
	store, ok := s.annotationStore(w, r)
	if !ok {
		return
	}
	req, ok := decodeTag(w, r)
	if !ok {
		return
	}
	if err := store.AddTag(r.Context(), req.Bout, req.Name); err != nil {
		writeSaveError(w, store, err)
		return
	}
	writeAnnotations(w, store)
}

func (s *Server) removeTag(w http.ResponseWriter, r *http.Request) {
	store, ok := s.annotationStore(w, r)
	if !ok {
		return
	}
	req, ok := decodeTag(w, r)
	if !ok {
		return
	}
	if err := store.RemoveTag(r.Context(), req.Bout, req.Name); err != nil {
		writeSaveError(w, store, err)
		return
	}
	writeAnnotations(w, store)
}

func (s *Server) toggleTag(w http.ResponseWriter, r *http.Request) {
	store, ok := s.annotationStore(w, r)
	if !ok {
		return
	}
	req, ok := decodeTag(w, r)
	if !ok {
		return
	}
	on, err := store.ToggleTag(r.Context(), req.Bout, req.Name)
	if err != nil {
		writeSaveError(w, store, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"bout": req.Bout,
		"name": req.Name,
		"on":   on,
		"tags": store.TagsFor(req.Bout),
	})
}

func (s *Server) setNote(w http.ResponseWriter, r *http.Request) {
	store, ok := s.annotationStore(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validate.Note(req.Note); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if err := store.SetNote(r.Context(), req.Bout, req.Note); err != nil {
		writeSaveError(w, store, err)
		return
	}
	writeAnnotations(w, store)
}

func (s *Server) clearAnnotations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		httputil.WriteError(w, http.StatusBadRequest, "clearing annotations requires confirm=true")
		return
	}
	store, ok := s.annotationStore(w, r)
	if !ok {
		return
	}
	if err := store.ClearAll(r.Context()); err != nil {
		writeSaveError(w, store, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportAnnotations re-derives the bouts from the scope's call table and joins them with the
// stored tags and notes.
func (s *Server) exportAnnotations(w http.ResponseWriter, r *http.Request) {
	store, ok := s.annotationStore(w, r)
	if !ok {
		return
	}
	scope := store.Scope()
	if scope.CSVURL == "" {
		httputil.WriteError(w, http.StatusBadRequest, "csvUrl is required for export")
		return
	}
	if msg := validate.DatasetHost(scope.CSVURL, "csvUrl", s.hosts); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	text, err := s.loader.FetchText(r.Context(), scope.CSVURL)
	if err != nil {
		slog.Warn("annotations: fetch calls failed", "csv_url", scope.CSVURL, "error", err)
		httputil.WriteError(w, http.StatusBadGateway, "could not fetch call table")
		return
	}
	bouts, err := bout.Derive(text)
	if err != nil {
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(scope.CSVURL)))
	if err := store.ExportCSV(w, bouts); err != nil {
		slog.Warn("annotations: export interrupted", "csv_url", scope.CSVURL, "error", err)
	}
}

func exportName(csvURL string) string {
	base := strings.TrimSuffix(path.Base(csvURL), path.Ext(csvURL))
	if base == "" || base == "." || base == "/" {
		base = "bouts"
	}
	return base + "_annotated.csv"
}

// importAnnotations accepts either a multipart upload in field "file" or the CSV as the raw body.
func (s *Server) importAnnotations(w http.ResponseWriter, r *http.Request) {
	store, ok := s.annotationStore(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var body io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "multipart field \"file\" is required")
			return
		}
		defer func() { _ = file.Close() }()
		body = file
	}

	if err := store.ImportCSV(r.Context(), body); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, annotation.ErrMissingColumn):
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &maxErr):
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "import file too large")
		case errors.Is(err, annotation.ErrMalformed):
			httputil.WriteError(w, http.StatusBadRequest, "could not parse CSV")
		default:
			writeSaveError(w, store, err)
		}
		return
	}
	writeAnnotations(w, store)
}
