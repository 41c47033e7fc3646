package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mkovalev/merlin/internal/identity"
)

// StreamHandler serves the websocket chat endpoint. It runs the same turn
// pipeline as POST /chat but types the reply out in paced word chunks
// before delivering the final transcript.
type StreamHandler struct {
	svc            ChatService
	typingInterval time.Duration
	originPatterns []string
}

// NewStreamHandler creates a websocket chat handler. originPatterns
// follows websocket.AcceptOptions semantics; pass ["*"] in development.
func NewStreamHandler(svc ChatService, typingInterval time.Duration, originPatterns []string) *StreamHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &StreamHandler{
		svc:            svc,
		typingInterval: typingInterval,
		originPatterns: originPatterns,
	}
}

type wsChatRequest struct {
	Message string `json:"message"`
	History string `json:"history"`
}

// wsChatEvent is one frame on the chat stream.
// Type is "chunk" while the reply is being typed out, "done" with the
// full reply and updated transcript, or "error".
type wsChatEvent struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Reply      string `json:"reply,omitempty"`
	NewHistory string `json:"new_history,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for websocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		http.Error(w, `{"error": "no session"}`, http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept websocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("websocket close error", "error", closeErr)
		}
	}()

	slog.Info("Websocket chat connected", "session_id", sessionID)

	ctx := r.Context()
	for {
		var req wsChatRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("websocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		result, err := h.svc.HandleTurn(ctx, sessionID, req.Message, req.History)
		if err != nil {
			slog.Error("Websocket chat turn failed", "session_id", sessionID, "error", err)
			if writeErr := wsjson.Write(ctx, ws, wsChatEvent{Type: "error", Error: "internal error"}); writeErr != nil {
				return
			}
			continue
		}

		if err := h.streamReply(ctx, ws, result.Reply); err != nil {
			slog.Debug("websocket stream aborted", "error", err, "session_id", sessionID)
			return
		}
		if err := wsjson.Write(ctx, ws, wsChatEvent{
			Type:       "done",
			Reply:      result.Reply,
			NewHistory: result.History,
		}); err != nil {
			return
		}
	}
}

// streamReply sends the reply word by word, paced by the typing interval.
func (h *StreamHandler) streamReply(ctx context.Context, ws *websocket.Conn, reply string) error {
	words := strings.Fields(reply)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		if err := wsjson.Write(ctx, ws, wsChatEvent{Type: "chunk", Content: chunk}); err != nil {
			return err
		}
		if h.typingInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.typingInterval):
			}
		}
	}
	return nil
}
