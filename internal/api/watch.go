package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/relaydesk/copilot/internal/security"
	"github.com/relaydesk/copilot/internal/taskflow"
)

// watchInterval is how often the watch handler polls the session store.
const watchInterval = 500 * time.Millisecond

// taskSnapshot is one frame on the watch stream.
type taskSnapshot struct {
	SessionID string             `json:"sessionId"`
	TaskList  *taskflow.TaskList `json:"taskList"`
	Percent   int                `json:"percent"`
}

// handleTaskWatch upgrades to a websocket and pushes task-list snapshots
// whenever the session's list changes, until the client disconnects or the
// list reaches a terminal status.
func (s *Server) handleTaskWatch(w http.ResponseWriter, r *http.Request) {
	if s.jwtSecret != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing token")
			return
		}
		if _, err := security.ValidateToken(token, s.jwtSecret); err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		s.respondError(w, http.StatusBadRequest, "session query parameter is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "watch ended")

	s.logger.Debug("task watch connected", "session", session)

	ctx := r.Context()
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var last []byte
	for {
		list, err := s.engine.Snapshot(ctx, session)
		if err != nil {
			s.logger.Warn("task snapshot failed", "session", session, "error", err)
			return
		}
		frame := taskSnapshot{SessionID: session, TaskList: list}
		if list != nil {
			frame.Percent = list.CompletionPercent()
		}
		body, err := json.Marshal(frame)
		if err != nil {
			return
		}
		if !bytes.Equal(body, last) {
			if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
				return
			}
			last = body
		}
		if list != nil && (list.Status == taskflow.StatusCompleted || list.Status == taskflow.StatusFailed) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
