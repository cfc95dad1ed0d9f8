package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/toolcaller/internal/observe"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// wsRequest is one client message on the chat websocket. A non-nil
// ConversationHistory replaces the connection's conversation for this turn and
// is kept only if the turn succeeds. Reset clears it.
type wsRequest struct {
	chatRequest
	Reset bool `json:"reset,omitempty"`
}

// wsReply is one server message on the chat websocket.
type wsReply struct {
	Type   string `json:"type"`
	TurnID string `json:"turnId,omitempty"`
	*chatResponse
	Error *errorBody `json:"error,omitempty"`
}

// handleChatWS keeps one conversation per connection. Turns are processed
// one at a time in the order messages arrive.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	log := observe.WithTrace(ctx, s.log)
	log.Debug("websocket connected", "remote", r.RemoteAddr)

	var conv types.Conversation
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("websocket closed", "remote", r.RemoteAddr)
			default:
				if !errors.Is(err, context.Canceled) {
					log.Warn("websocket read failed", "err", err)
				}
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if !s.reply(ctx, conn, wsReply{Type: "error", Error: &errorBody{Message: "invalid request body", Status: http.StatusBadRequest}}) {
				return
			}
			continue
		}
		if req.Reset {
			conv = nil
		}
		if req.Message == "" && req.Reset && req.ConversationHistory == nil {
			if !s.reply(ctx, conn, wsReply{Type: "reset"}) {
				return
			}
			continue
		}

		// History only replaces the conversation once a turn succeeds with it.
		prior := conv
		if req.ConversationHistory != nil {
			prior = req.ConversationHistory
		}
		turnID := uuid.NewString()
		resp, err := s.runTurn(ctx, turnID, req.Message, prior)
		var out wsReply
		switch {
		case err == nil:
			conv = resp.Conversation
			out = wsReply{Type: "response", TurnID: turnID, chatResponse: resp}
		default:
			var rerr *requestError
			if errors.As(err, &rerr) {
				out = wsReply{Type: "error", Error: &errorBody{Message: rerr.msg, Status: http.StatusBadRequest}}
				break
			}
			code := turnStatus(err)
			out = wsReply{Type: "error", TurnID: turnID, Error: &errorBody{Message: observe.Redact(err.Error()), Status: code}}
		}
		if !s.reply(ctx, conn, out) {
			return
		}
	}
}

// reply writes v and reports whether the connection is still usable.
func (s *Server) reply(ctx context.Context, conn *websocket.Conn, v wsReply) bool {
	if err := wsjson.Write(ctx, conn, v); err != nil {
		s.log.Warn("websocket write failed", "err", err)
		return false
	}
	return true
}
