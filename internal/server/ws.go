package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gj2101/boutview/internal/bout"
	"github.com/gj2101/boutview/internal/clock"
	"github.com/gj2101/boutview/internal/review"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	maxMessage = 4 << 10
)

// streamMessage is what the browser receives after every session change.
type streamMessage struct {
	Clock       clock.State      `json:"clock"`
	CurrentBout *bout.Bout       `json:"currentBout"`
	Commands    []review.Command `json:"commands"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigin(origin)
		},
	}
}

// sessionStream pushes clock state and element commands to the browser and applies the element
// reports it sends back.
func (s *Server) sessionStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("sessions: websocket upgrade failed", "session_id", sess.ID(), "error", err)
		return
	}

	sub := sess.Subscribe()
	go s.readReports(conn, sess, sub)
	s.writeUpdates(conn, sess, sub)
}

func (s *Server) writeUpdates(conn *websocket.Conn, sess *review.Session, sub *review.Subscription) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		sub.Close()
		_ = conn.Close()
	}()

	for {
		select {
		case _, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			msg := streamMessage{Clock: sess.Timekeeper().State(), Commands: sub.Commands()}
			if b, found := sess.CurrentBout(); found {
				msg.CurrentBout = &b
			}
			if msg.Commands == nil {
				msg.Commands = []review.Command{}
			}
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("sessions: websocket write failed", "session_id", sess.ID(), "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readReports(conn *websocket.Conn, sess *review.Session, sub *review.Subscription) {
	defer sub.Close()

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("sessions: websocket closed", "session_id", sess.ID(), "error", err)
			}
			return
		}
		var report elementRequest
		if err := json.Unmarshal(data, &report); err != nil {
			slog.Debug("sessions: bad element report", "session_id", sess.ID(), "error", err)
			continue
		}
		if err := sess.ReportElement(report.ID, report.ElementReport); err != nil && !errors.Is(err, review.ErrUnknownElement) {
			slog.Warn("sessions: element report failed", "session_id", sess.ID(), "element", report.ID, "error", err)
		}
	}
}
