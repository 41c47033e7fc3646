// Package api provides HTTP handlers for the Merlin chat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mkovalev/merlin/internal/bot"
	"github.com/mkovalev/merlin/internal/identity"
)

// maxRequestBodySize is the maximum allowed chat request body (1MB).
const maxRequestBodySize = 1 << 20

// ChatService is the conversation pipeline consumed by the HTTP layer.
// Implemented by *bot.Service.
type ChatService interface {
	HandleTurn(ctx context.Context, sessionID, message, history string) (*bot.TurnResult, error)
	History(ctx context.Context, sessionID string) (string, error)
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Message string `json:"message"`
	History string `json:"history"`
}

// ChatResponse is the POST /chat success body.
type ChatResponse struct {
	Reply      string `json:"reply"`
	NewHistory string `json:"new_history"`
}

// HistoryResponse is the GET /get_history body.
type HistoryResponse struct {
	History string `json:"history"`
}

// Handler serves the chat endpoints.
type Handler struct {
	svc         ChatService
	rateLimiter *RateLimiter
}

// NewHandler creates a chat handler.
func NewHandler(svc ChatService, rl *RateLimiter) *Handler {
	return &Handler{svc: svc, rateLimiter: rl}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/get_history", h.HandleHistory)
	r.Post("/chat", h.HandleChat)
}

// HandleHistory handles GET /get_history. The first access for a session
// creates and persists the default-greeting transcript.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return
	}

	history, err := h.svc.History(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load history", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	JSON(w, http.StatusOK, HistoryResponse{History: history})
}

// HandleChat handles POST /chat. This is the single error boundary for a
// turn: any pipeline failure comes back as one generic error response.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.Allow(sessionID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.svc.HandleTurn(r.Context(), sessionID, req.Message, req.History)
	if err != nil {
		if errors.Is(err, bot.ErrEmptyMessage) {
			Error(w, http.StatusBadRequest, "message is required")
			return
		}
		slog.Error("Chat turn failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	JSON(w, http.StatusOK, ChatResponse{Reply: result.Reply, NewHistory: result.History})
}
