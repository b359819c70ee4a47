package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gj2101/boutview/internal/httputil"
	"github.com/gj2101/boutview/internal/review"
	"github.com/gj2101/boutview/internal/validate"
)

type seekRequest struct {
	Time *float64 `json:"time"`
}

type fileRequest struct {
	FileIndex *int `json:"fileIndex"`
}

type elementRequest struct {
	ID string `json:"id"`
	review.ElementReport
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*review.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req review.Request
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validate.DatasetURL(req.BaseURL); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.DatasetHost(req.BaseURL, "baseUrl", s.hosts); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.FileIndex != nil && *req.FileIndex < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "fileIndex must not be negative")
		return
	}

	sess, err := s.sessions.Create(r.Context(), req)
	if err != nil {
		slog.Warn("sessions: open failed", "base_url", req.BaseURL, "error", err)
		httputil.WriteError(w, http.StatusBadGateway, "could not load dataset")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess.View())
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeClock(w http.ResponseWriter, sess *review.Session) {
	httputil.WriteJSON(w, http.StatusOK, sess.Timekeeper().State())
}

func (s *Server) sessionPlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Play()
	s.writeClock(w, sess)
}

func (s *Server) sessionPause(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Pause()
	s.writeClock(w, sess)
}

func (s *Server) sessionToggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Toggle()
	s.writeClock(w, sess)
}

func (s *Server) sessionReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(r.Context()); err != nil {
		slog.Error("sessions: reset failed", "session_id", sess.ID(), "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not reset clock")
		return
	}
	s.writeClock(w, sess)
}

func (s *Server) sessionSeek(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req seekRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Time == nil {
		httputil.WriteError(w, http.StatusBadRequest, "time is required")
		return
	}
	if err := sess.Seek(r.Context(), *req.Time); err != nil {
		slog.Error("sessions: seek failed", "session_id", sess.ID(), "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not seek")
		return
	}
	s.writeClock(w, sess)
}

func (s *Server) sessionFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req fileRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FileIndex == nil || *req.FileIndex < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "fileIndex must be a non-negative integer")
		return
	}
	if err := sess.SetFileIndex(r.Context(), *req.FileIndex); err != nil {
		slog.Warn("sessions: file index not saved", "session_id", sess.ID(), "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, sess.View())
}

func (s *Server) sessionReload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Reload(r.Context()); err != nil {
		if errors.Is(err, review.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Warn("sessions: reload failed", "session_id", sess.ID(), "error", err)
		httputil.WriteError(w, http.StatusBadGateway, "could not reload dataset")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess.View())
}

func (s *Server) sessionSelectBout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "boutID"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid bout id")
		return
	}
	b, err := sess.SelectBout(r.Context(), id)
	switch {
	case errors.Is(err, review.ErrBoutNotFound):
		httputil.WriteError(w, http.StatusNotFound, "bout not found")
		return
	case err != nil:
		slog.Error("sessions: select bout failed", "session_id", sess.ID(), "bout_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not seek to bout")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"bout":  b,
		"clock": sess.Timekeeper().State(),
	})
}

func (s *Server) sessionToggleLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if msg := validate.Location(name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	on, err := sess.ToggleLocation(r.Context(), name)
	switch {
	case errors.Is(err, review.ErrPlaying):
		httputil.WriteError(w, http.StatusConflict, "pause playback before changing locations")
		return
	case err != nil:
		slog.Error("sessions: toggle location failed", "session_id", sess.ID(), "location", name, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not save locations")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"location": name,
		"active":   on,
		"elements": sess.Elements(),
	})
}

func (s *Server) sessionReportElement(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req elementRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.ReportElement(req.ID, req.ElementReport); err != nil {
		httputil.WriteError(w, http.StatusNotFound, "unknown element")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
