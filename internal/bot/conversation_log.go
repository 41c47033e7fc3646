package bot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// ConversationLogEvent is one line in a session's NDJSON log.
type ConversationLogEvent struct {
	Timestamp string         `json:"ts"`
	SessionID string         `json:"session_id"`
	Direction string         `json:"direction"`
	EventType string         `json:"event_type"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ConversationLogger appends chat events to per-session .ndjson files.
// Writes go through a bounded queue serviced by one background goroutine;
// when the queue is full, events are dropped rather than blocking a turn.
type ConversationLogger struct {
	dir    string
	queue  chan ConversationLogEvent
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewConversationLogger creates a logger writing under cfg.Dir. Returns
// (nil, nil) when logging is disabled; a nil logger's Log is a no-op for
// callers that hold the pointer.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (*ConversationLogger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}

	l := &ConversationLogger{
		dir:    cfg.Dir,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues an event. Never blocks; drops the event when the queue is
// full or the logger is nil/closed.
func (l *ConversationLogger) Log(event ConversationLogEvent) {
	if l == nil {
		return
	}
	select {
	case <-l.done:
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"session_id", event.SessionID, "event_type", event.EventType)
	}
}

// Close drains the queue and stops the writer goroutine.
func (l *ConversationLogger) Close() error {
	if l == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return nil
}

func (l *ConversationLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *ConversationLogger) write(event ConversationLogEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("failed to marshal conversation log event", "error", err)
		return
	}

	path := filepath.Join(l.dir, event.SessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.logger.Warn("failed to open conversation log file", "path", path, "error", err)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Warn("failed to close conversation log file", "path", path, "error", closeErr)
		}
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("failed to write conversation log event", "path", path, "error", err)
	}
}
