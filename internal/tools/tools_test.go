package tools

import (
	"context"
	"regexp"
	"testing"
	"time"
)

// matchAll is a handler that matches everything with a fixed reply, for
// asserting router ordering.
type matchAll struct{ reply string }

func (h *matchAll) Match(string) bool                            { return true }
func (h *matchAll) Reply(context.Context, string, string) string { return h.reply }

// matchNone never matches.
type matchNone struct{}

func (matchNone) Match(string) bool                            { return false }
func (matchNone) Reply(context.Context, string, string) string { return "unreachable" }

func TestRouterFirstMatchWins(t *testing.T) {
	t.Parallel()

	r := NewRouter(matchNone{}, &matchAll{reply: "first"}, &matchAll{reply: "second"})

	reply, ok := r.Route(context.Background(), "anything", "anything")
	if !ok {
		t.Fatal("expected a match")
	}
	if reply != "first" {
		t.Errorf("reply = %q, want %q", reply, "first")
	}
}

func TestRouterNoMatch(t *testing.T) {
	t.Parallel()

	r := NewRouter(matchNone{}, matchNone{})

	reply, ok := r.Route(context.Background(), "anything", "anything")
	if ok {
		t.Errorf("expected no match, got reply %q", reply)
	}
}

func TestTimeHandlerMatch(t *testing.T) {
	t.Parallel()

	h := &TimeHandler{}
	tests := []struct {
		normalized string
		want       bool
	}{
		{"what is the time", true},
		{"hey, what is the time?", true},
		{"what is the date", false},
		{"time", false},
	}
	for _, tt := range tests {
		if got := h.Match(tt.normalized); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.normalized, got, tt.want)
		}
	}
}

func TestTimeHandlerReplyFormat(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, time.March, 5, 14, 7, 0, 0, time.UTC)
	h := &TimeHandler{Now: func() time.Time { return fixed }}

	reply := h.Reply(context.Background(), "what is the time", "what is the time")
	if reply != "The current time is 02:07 PM." {
		t.Errorf("reply = %q", reply)
	}

	pattern := regexp.MustCompile(`^The current time is \d{2}:\d{2} (AM|PM)\.$`)
	if !pattern.MatchString(reply) {
		t.Errorf("reply %q does not match HH:MM AM/PM pattern", reply)
	}
}

func TestDateHandlerReplyFormat(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, time.March, 5, 14, 7, 0, 0, time.UTC)
	h := &DateHandler{Now: func() time.Time { return fixed }}

	reply := h.Reply(context.Background(), "what is the date", "what is the date")
	if reply != "Today's date is Wednesday, March 05, 2025." {
		t.Errorf("reply = %q", reply)
	}
}

func TestTimeBeatsDateInDefaultOrder(t *testing.T) {
	t.Parallel()

	// A message containing both phrases resolves to the time handler
	// because it comes first in the priority list.
	r := NewRouter(&TimeHandler{}, &DateHandler{})

	normalized := "what is the time and what is the date"
	reply, ok := r.Route(context.Background(), normalized, normalized)
	if !ok {
		t.Fatal("expected a match")
	}
	if !regexp.MustCompile(`^The current time is`).MatchString(reply) {
		t.Errorf("expected time reply, got %q", reply)
	}
}
