package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkovalev/merlin/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()

	repo, err := NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestGetConversationUnknownSession(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)

	conv, err := repo.GetConversation(context.Background(), "sess_missing")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv != nil {
		t.Errorf("expected nil for unknown session, got %+v", conv)
	}
}

func TestUpsertAndGetConversation(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	conv := domain.NewConversation("sess_abc")
	if err := repo.UpsertConversation(ctx, conv); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	got, err := repo.GetConversation(ctx, "sess_abc")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected conversation, got nil")
	}
	if got.History != domain.DefaultGreeting {
		t.Errorf("History = %q, want %q", got.History, domain.DefaultGreeting)
	}
}

func TestUpsertConversationReplacesHistory(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	conv := domain.NewConversation("sess_abc")
	if err := repo.UpsertConversation(ctx, conv); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	conv.History = domain.AppendTurn(conv.History, "hi", "hello!")
	if err := repo.UpsertConversation(ctx, conv); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := repo.GetConversation(ctx, "sess_abc")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.History != conv.History {
		t.Errorf("History = %q, want %q", got.History, conv.History)
	}
}

func TestCleanupExpiredConversations(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.UpsertConversation(ctx, domain.NewConversation("sess_old")); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	// A negative TTL puts the threshold in the future, so the row just
	// written counts as expired.
	deleted, err := repo.CleanupExpiredConversations(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredConversations failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	conv, err := repo.GetConversation(ctx, "sess_old")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv != nil {
		t.Error("expected conversation to be deleted")
	}
}

func TestCleanupKeepsFreshConversations(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.UpsertConversation(ctx, domain.NewConversation("sess_fresh")); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	deleted, err := repo.CleanupExpiredConversations(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredConversations failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestConcurrentUpsertsSameSession(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			done <- repo.UpsertConversation(ctx, domain.NewConversation("sess_race"))
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent upsert failed: %v", err)
		}
	}

	conv, err := repo.GetConversation(ctx, "sess_race")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv == nil {
		t.Fatal("expected conversation to exist")
	}
}
