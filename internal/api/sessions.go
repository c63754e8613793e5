package api

import (
	"net/http"

	"github.com/askdb/askdb/internal/chat"
)

type askRequest struct {
	Question   string                   `json:"question"`
	Connection *chat.ConnectionSettings `json:"connection,omitempty"`
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	session := deps.Chat.CreateSession()
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"messages":   session.Transcript.All(),
	})
}

func handleEndSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Chat.EndSession(r.PathValue("id")); err != nil {
		writeChatError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	messages, err := deps.Chat.History(sessionID)
	if err != nil {
		writeChatError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": messages})
}

func handleClearHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	messages, err := deps.Chat.Clear(sessionID)
	if err != nil {
		writeChatError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": messages})
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	var settings chat.ConnectionSettings
	if req.Connection != nil {
		settings = *req.Connection
	}

	turn, err := deps.Chat.Ask(r.Context(), r.PathValue("id"), req.Question, settings)
	if err != nil {
		writeChatError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}
