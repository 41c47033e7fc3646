package store

import (
	"context"
	"log/slog"
	"time"
)

// cleanupInterval is how often the cleanup worker scans for expired
// conversations. Expiry is driven by the TTL, not the scan cadence.
const cleanupInterval = time.Hour

// StartCleanupWorker launches a background goroutine that periodically
// deletes conversations idle longer than ttl. It stops when ctx is done.
func StartCleanupWorker(ctx context.Context, repo Repository, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := repo.CleanupExpiredConversations(ctx, ttl)
				if err != nil {
					slog.Error("Conversation cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("Expired conversations removed", "count", deleted, "ttl", ttl)
				}
			}
		}
	}()
}
