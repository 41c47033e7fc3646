package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mkovalev/merlin/internal/domain"
	"github.com/mkovalev/merlin/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// Per-session mutexes serialize transcript writes so two concurrent
	// turns for the same session cannot silently drop each other.
	sessionMu   sync.Mutex
	sessionLock map[string]*sync.Mutex
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:          db,
		sessionLock: make(map[string]*sync.Mutex),
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT PRIMARY KEY,
		history_text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) lockFor(sessionID string) *sync.Mutex {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	mu, ok := s.sessionLock[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.sessionLock[sessionID] = mu
	}
	return mu
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetConversation retrieves the transcript for a session.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	query := `
		SELECT session_id, history_text, created_at, updated_at
		FROM conversations WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var conv domain.Conversation
	var createdAt, updatedAt int64

	err := row.Scan(&conv.SessionID, &conv.History, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	return &conv, nil
}

// UpsertConversation creates or replaces the transcript for a session.
// Retries with exponential backoff on SQLite concurrency errors.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	mu := s.lockFor(conv.SessionID)
	mu.Lock()
	defer mu.Unlock()

	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.upsertConversationOnce(ctx, conv)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("UpsertConversation hit SQLite conflict, retrying",
				"session_id", conv.SessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}

	return fmt.Errorf("upsert conversation for %s: %w", conv.SessionID, err)
}

func (s *SQLiteStore) upsertConversationOnce(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (session_id, history_text, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			history_text = excluded.history_text,
			updated_at = excluded.updated_at`

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		conv.SessionID, conv.History,
		createdAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("exec upsert: %w", err)
	}
	return nil
}

// CleanupExpiredConversations removes transcripts idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired conversations: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
