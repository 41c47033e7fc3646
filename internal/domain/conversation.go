// Package domain holds the core conversation types and the transcript
// text conventions shared by the store, the bot pipeline, and the API.
package domain

import (
	"strings"
	"time"
)

// Transcript line prefixes. The transcript is a single text blob where
// every turn occupies one newline-terminated line. The frontend parses
// this format, so it must not change shape.
const (
	UserPrefix = "User: "
	BotPrefix  = "Bot: "
)

// DefaultGreeting is the initial transcript materialized for a session
// on its first history access.
const DefaultGreeting = "Bot: Hello! I'm your AI assistant. How can I help?\n"

// Conversation is the persisted transcript for one session.
type Conversation struct {
	SessionID string
	History   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewConversation returns a conversation seeded with the default greeting.
func NewConversation(sessionID string) *Conversation {
	now := time.Now()
	return &Conversation{
		SessionID: sessionID,
		History:   DefaultGreeting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Normalize returns the case-folded, whitespace-trimmed copy of a message
// used for tool matching. Argument extraction uses the original message so
// casing is preserved for display.
func Normalize(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

// SanitizeMessage strips characters that would corrupt the line-oriented
// transcript format. A raw newline inside a message would be mistaken for
// a turn boundary on the next parse, so newlines collapse to spaces.
func SanitizeMessage(message string) string {
	message = strings.ReplaceAll(message, "\r", "")
	message = strings.ReplaceAll(message, "\n", " ")
	return strings.TrimSpace(message)
}

// AppendTurn appends one user/bot exchange to a transcript. Turns are
// append-only; truncation for the model prompt never touches the stored
// history.
func AppendTurn(history, userMessage, reply string) string {
	return history + UserPrefix + userMessage + "\n" + BotPrefix + reply + "\n"
}
