// Package tools implements the deterministic short-circuit handlers that
// answer a message before the generative model is consulted.
//
// Handlers are tried in a fixed priority order; the first match wins and
// generation is skipped for that turn. Matching runs on the normalized
// (lowercased, trimmed) message, while argument extraction uses the
// original message so casing survives into the reply.
package tools

import (
	"context"
	"strings"
	"time"
)

// Handler is one deterministic responder in the priority list.
type Handler interface {
	// Match reports whether this handler answers the normalized message.
	Match(normalized string) bool

	// Reply produces the reply text. A matched handler always yields a
	// reply: provider failures are recovered internally into a fixed
	// apology string, never returned as errors.
	Reply(ctx context.Context, normalized, original string) string
}

// Router applies handlers in priority order.
type Router struct {
	handlers []Handler
}

// NewRouter creates a router over the given handlers, tried in order.
func NewRouter(handlers ...Handler) *Router {
	return &Router{handlers: handlers}
}

// DefaultRouter returns the standard handler chain: time, date, weather,
// encyclopedia lookup.
func DefaultRouter(weather *WeatherHandler, wiki *WikiHandler) *Router {
	return NewRouter(
		&TimeHandler{},
		&DateHandler{},
		weather,
		wiki,
	)
}

// Route returns the first matching handler's reply, or ("", false) when
// no handler matches and the turn should fall through to generation.
func (r *Router) Route(ctx context.Context, normalized, original string) (string, bool) {
	for _, h := range r.handlers {
		if h.Match(normalized) {
			return h.Reply(ctx, normalized, original), true
		}
	}
	return "", false
}

// TimeHandler answers "what is the time" with the current local time.
type TimeHandler struct {
	Now func() time.Time // defaults to time.Now
}

// Match implements Handler.
func (h *TimeHandler) Match(normalized string) bool {
	return strings.Contains(normalized, "what is the time")
}

// Reply implements Handler.
func (h *TimeHandler) Reply(_ context.Context, _, _ string) string {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	return "The current time is " + now().Format("03:04 PM") + "."
}

// DateHandler answers "what is the date" with the current local date.
type DateHandler struct {
	Now func() time.Time // defaults to time.Now
}

// Match implements Handler.
func (h *DateHandler) Match(normalized string) bool {
	return strings.Contains(normalized, "what is the date")
}

// Reply implements Handler.
func (h *DateHandler) Reply(_ context.Context, _, _ string) string {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	return "Today's date is " + now().Format("Monday, January 02, 2006") + "."
}
