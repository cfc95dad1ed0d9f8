package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/internal/toolcall"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// logPreviewRunes is how much of a user message is logged.
const logPreviewRunes = 30

// chatRequest is the body of POST /api/chat and each websocket message.
type chatRequest struct {
	Message             string             `json:"message"`
	ConversationHistory types.Conversation `json:"conversationHistory"`
}

// chatResponse is the body of a successful turn. Response is null when the
// model produced no closing text.
type chatResponse struct {
	Response     *string            `json:"response"`
	ToolCalls    int                `json:"toolCalls"`
	Conversation types.Conversation `json:"conversation"`
}

// errorBody is the body of a failed turn.
type errorBody struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// requestError is a client error detected before the turn starts.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	turnID := uuid.NewString()
	w.Header().Set("X-Turn-ID", turnID)

	resp, err := s.runTurn(r.Context(), turnID, req.Message, req.ConversationHistory)
	if err != nil {
		var rerr *requestError
		if errors.As(err, &rerr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": rerr.msg})
			return
		}
		code := turnStatus(err)
		writeJSON(w, code, map[string]errorBody{"error": {Message: observe.Redact(err.Error()), Status: code}})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runTurn validates the request and processes one turn under turnID.
func (s *Server) runTurn(ctx context.Context, turnID, message string, history types.Conversation) (*chatResponse, error) {
	if message == "" {
		return nil, &requestError{msg: "Message is required"}
	}
	if err := history.Validate(); err != nil {
		return nil, &requestError{msg: "invalid conversation history: " + err.Error()}
	}

	log := observe.WithTrace(ctx, s.log).With("turn_id", turnID)
	log.Info("processing message", "preview", preview(message), "history", len(history))

	res, err := s.turns.ProcessTurn(toolcall.ContextWithTurnID(ctx, turnID), message, history)
	if err != nil {
		return nil, err
	}

	out := &chatResponse{
		ToolCalls:    res.ToolCallCount,
		Conversation: res.Conversation,
	}
	if res.FinalText != "" {
		text := res.FinalText
		out.Response = &text
	}
	return out, nil
}

// turnStatus maps a turn failure to an HTTP status.
func turnStatus(err error) int {
	if toolcall.KindOf(err) == toolcall.KindTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// preview truncates message for logging.
func preview(message string) string {
	if utf8.RuneCountInString(message) <= logPreviewRunes {
		return message
	}
	return string([]rune(message)[:logPreviewRunes]) + "..."
}
