// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/mkovalev/merlin/internal/domain"
)

// Repository defines the interface for persisting conversation transcripts.
type Repository interface {
	// GetConversation retrieves the transcript for a session.
	// Returns (nil, nil) when the session has no stored transcript yet;
	// the caller materializes the default greeting in that case.
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// UpsertConversation creates or replaces the transcript for a session.
	// Writes for the same session are serialized so concurrent turns
	// cannot interleave a single read/modify/write cycle.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// CleanupExpiredConversations removes transcripts idle longer than ttl.
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
