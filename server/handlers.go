package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	contractx "github.com/mptask/erp-copilot/copilot/contract"
	pendingx "github.com/mptask/erp-copilot/copilot/pending"
)

type actionRequest struct {
	SessionID string               `json:"session_id"`
	Action    contractx.UserAction `json:"action"`
}

type confirmRequest struct {
	ActionID string `json:"action_id"`
}

type rejectRequest struct {
	ActionID string `json:"action_id"`
	Reason   string `json:"reason"`
}

type suggestRequest struct {
	SessionID     string                `json:"session_id"`
	CurrentAction *contractx.UserAction `json:"current_action,omitempty"`
	Limit         int                   `json:"limit,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.svc.HandleAction(r.Context(), req.SessionID, req.Action)
	if err != nil {
		respondForError(w, err)
		return
	}

	payload := map[string]any{
		"status": "ok",
		"ai_suggestion": map[string]any{
			"title":                "AI Assistant Recommendation",
			"business_suggestion":  result.Pending.BusinessSuggestion,
			"action_id":            result.Pending.ActionID,
			"has_suggested_action": result.Pending.Confirmable(),
		},
	}
	if result.StorageKey != "" {
		payload["storage_key"] = result.StorageKey
	}
	if sa := result.Pending.SuggestedAction; sa != nil {
		payload["ai_suggestion"].(map[string]any)["suggested_action"] = map[string]any{
			"method":   sa.Method,
			"endpoint": sa.Endpoint,
		}
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActionID == "" {
		respondError(w, http.StatusBadRequest, "action_id is required")
		return
	}

	rec, err := s.svc.Confirm(r.Context(), req.ActionID)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "success",
		"action_id":         rec.ActionID,
		"execution_outcome": rec.Outcome,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActionID == "" {
		respondError(w, http.StatusBadRequest, "action_id is required")
		return
	}
	if req.Reason == "" {
		req.Reason = "User rejected"
	}

	rec, err := s.svc.Reject(req.ActionID, req.Reason)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"action_id": rec.ActionID,
		"reason":    rec.Reason,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondJSON(w, http.StatusOK, s.svc.PendingSummary())
		return
	}

	pending := s.svc.Pending(sessionID)
	views := make(map[string]map[string]any, len(pending))
	for id, rec := range pending {
		views[id] = pendingView(rec)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":      sessionID,
		"pending_actions": views,
		"count":           len(views),
	})
}

func (s *Server) handleActionDetails(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.ActionDetails(chi.URLParam(r, "actionID"))
	if err != nil {
		respondForError(w, err)
		return
	}

	view := pendingView(rec)
	view["status"] = rec.Status
	view["session_id"] = rec.SessionID
	// The executable payload is only exposed while a decision is still open.
	if rec.Status == pendingx.StatusPending {
		view["suggested_action"] = rec.SuggestedAction
	}
	if rec.Outcome != nil {
		view["execution_outcome"] = rec.Outcome
	}
	if rec.Reason != "" {
		view["reason"] = rec.Reason
	}
	respondJSON(w, http.StatusOK, view)
}

func pendingView(rec pendingx.PendingAction) map[string]any {
	return map[string]any{
		"action_id":            rec.ActionID,
		"created_at":           rec.CreatedAt,
		"expires_at":           rec.ExpiresAt,
		"business_suggestion":  rec.BusinessSuggestion,
		"has_suggested_action": rec.Confirmable(),
		"original_action":      rec.OriginalAction,
	}
}

func (s *Server) handleListStore(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"keys": s.svc.HistoryKeys()})
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.HistoryRecord(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	result := s.svc.Suggest(r.Context(), req.SessionID, req.CurrentAction, req.Limit)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.catalog.Summary())
}

func (s *Server) handleReloadEndpoints(w http.ResponseWriter, _ *http.Request) {
	if s.reload == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"summary": s.catalog.Summary(),
		})
		return
	}

	summary, err := s.reload()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload endpoints: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"summary": summary,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"status": "error", "message": message})
}

// respondForError maps registry and store errors onto distinct status codes so
// the frontend can tell "already handled" from "too late".
func respondForError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contractx.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, contractx.ErrAlreadyTerminal):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, contractx.ErrExpired):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, contractx.ErrNotConfirmable):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, contractx.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
