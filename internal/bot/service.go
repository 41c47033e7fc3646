package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkovalev/merlin/internal/domain"
	"github.com/mkovalev/merlin/internal/model"
	"github.com/mkovalev/merlin/internal/store"
	"github.com/mkovalev/merlin/internal/tools"
)

var (
	// ErrEmptyMessage is returned for a turn with no usable message text.
	ErrEmptyMessage = errors.New("empty message")

	// ErrGenerationUnavailable is returned when a turn needs the
	// generative fallback but no model runner is connected.
	ErrGenerationUnavailable = errors.New("generative model unavailable")
)

// Service orchestrates one conversation turn: tool routing first, then
// the bounded-context generative fallback, then transcript persistence.
type Service struct {
	repo   store.Repository
	router *tools.Router
	window *ContextWindow
	tok    model.Tokenizer
	gen    model.Generator
	genCfg model.GenerationConfig
	log    *ConversationLogger
}

// NewService creates the conversation service. tok and gen may be nil
// when no model runner is available; tool handlers keep working and
// generative turns fail with ErrGenerationUnavailable.
func NewService(repo store.Repository, router *tools.Router, window *ContextWindow,
	tok model.Tokenizer, gen model.Generator, genCfg model.GenerationConfig,
	convLog *ConversationLogger) *Service {
	return &Service{
		repo:   repo,
		router: router,
		window: window,
		tok:    tok,
		gen:    gen,
		genCfg: genCfg,
		log:    convLog,
	}
}

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Reply   string
	History string

	// Persisted is false when the reply was produced but the transcript
	// write failed; the returned History then diverges from the stored
	// one until a later turn persists successfully.
	Persisted bool
}

// HandleTurn processes one user message against the prior transcript and
// persists the appended exchange. The persistence write happens only
// after a reply has been produced, so a failed turn never corrupts the
// stored transcript.
func (s *Service) HandleTurn(ctx context.Context, sessionID, message, history string) (*TurnResult, error) {
	message = domain.SanitizeMessage(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	normalized := domain.Normalize(message)

	reply, matched := s.router.Route(ctx, normalized, message)
	if !matched {
		var err error
		reply, err = s.generateReply(ctx, history, message)
		if err != nil {
			return nil, fmt.Errorf("generate reply: %w", err)
		}
	}

	newHistory := domain.AppendTurn(history, message, reply)

	persisted := true
	conv := &domain.Conversation{SessionID: sessionID, History: newHistory}
	if err := s.repo.UpsertConversation(ctx, conv); err != nil {
		// The reply is still returned; the stored transcript stays stale
		// and the next turn observes the divergence.
		slog.Error("Failed to persist transcript", "session_id", sessionID, "error", err)
		persisted = false
	}

	s.logTurn(sessionID, message, reply, matched, persisted)

	return &TurnResult{Reply: reply, History: newHistory, Persisted: persisted}, nil
}

func (s *Service) generateReply(ctx context.Context, history, message string) (string, error) {
	if s.tok == nil || s.gen == nil {
		return "", ErrGenerationUnavailable
	}

	_, ids, err := s.window.Prepare(ctx, history, message)
	if err != nil {
		return "", err
	}

	out, err := s.gen.Generate(ctx, ids, s.genCfg)
	if err != nil {
		return "", err
	}

	// Decode only the newly generated tokens, after the prompt length.
	reply, err := s.tok.Decode(ctx, out[len(ids):], true)
	if err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

// History returns the stored transcript for a session, materializing the
// default-greeting transcript on first access.
func (s *Service) History(ctx context.Context, sessionID string) (string, error) {
	conv, err := s.repo.GetConversation(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	if conv != nil {
		return conv.History, nil
	}

	conv = domain.NewConversation(sessionID)
	if err := s.repo.UpsertConversation(ctx, conv); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return conv.History, nil
}

func (s *Service) logTurn(sessionID, message, reply string, toolMatched, persisted bool) {
	if s.log == nil {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	source := "generator"
	if toolMatched {
		source = "tool"
	}
	s.log.Log(ConversationLogEvent{
		Timestamp: now,
		SessionID: sessionID,
		Direction: "user",
		EventType: "chat_user_message",
		Content:   message,
	})
	s.log.Log(ConversationLogEvent{
		Timestamp: now,
		SessionID: sessionID,
		Direction: "bot",
		EventType: "chat_bot_reply",
		Content:   reply,
		Meta: map[string]any{
			"source":    source,
			"persisted": persisted,
		},
	})
}
