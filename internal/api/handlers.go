package api

import (
	"encoding/json"
	"net/http"

	"github.com/relaydesk/copilot/internal/orchestrator"
	"github.com/relaydesk/copilot/internal/security"
)

// caller resolves the request's identity. With auth enabled the middleware
// has already rejected anonymous requests; in dev mode everyone is an
// admin named "dev".
func (s *Server) caller(r *http.Request) (userID, role string) {
	claims, err := security.GetClaims(r)
	if err != nil {
		return "dev", security.RoleAdmin
	}
	return claims.UserID, claims.Role
}

// handleChat runs one orchestration round trip.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	req.UserID, req.Role = s.caller(r)

	resp, err := s.orch.Chat(r.Context(), req)
	if err != nil {
		s.logger.Error("chat failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleConfirm executes previously deferred tool calls the user approved.
// Permission failures stay 200 responses carrying BLOCKED_* structured
// errors: at this layer a denial is data, not a transport fault.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req orchestrator.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if len(req.Calls) == 0 {
		s.respondError(w, http.StatusBadRequest, "toolCalls is required")
		return
	}
	if req.SessionID == "" {
		s.respondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	req.UserID, req.Role = s.caller(r)

	resp, err := s.orch.Confirm(r.Context(), req)
	if err != nil {
		s.logger.Error("confirm failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleTasks returns the session's current task list, or null when none.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		s.respondError(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	list, err := s.engine.Snapshot(r.Context(), session)
	if err != nil {
		s.logger.Error("task snapshot failed", "session", session, "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"taskList": list})
}

// toolListing is the redacted catalog entry clients see. Execution specs
// never leave the process.
type toolListing struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	Category             string `json:"category,omitempty"`
	Permission           string `json:"permission,omitempty"`
	RequiresConfirmation bool   `json:"requiresConfirmation,omitempty"`
	Enabled              bool   `json:"enabled"`
}

// handleTools lists the merged tool catalog.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defs := s.registry.List(r.Context())
	listing := make([]toolListing, 0, len(defs))
	for _, def := range defs {
		listing = append(listing, toolListing{
			ID:                   def.ID,
			Name:                 def.Name,
			Description:          def.Description,
			Category:             def.Category,
			Permission:           def.Permission,
			RequiresConfirmation: def.RequiresConfirmation,
			Enabled:              !def.Disabled,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"tools": listing})
}
