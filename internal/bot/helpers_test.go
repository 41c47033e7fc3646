package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkovalev/merlin/internal/domain"
	"github.com/mkovalev/merlin/internal/model"
	"github.com/mkovalev/merlin/internal/store"
)

// runeTokenizer maps every rune to its code point, so decode(encode(s))
// round-trips exactly.
type runeTokenizer struct{}

func (runeTokenizer) Encode(_ context.Context, text string) ([]int64, error) {
	ids := make([]int64, 0, len(text))
	for _, r := range text {
		ids = append(ids, int64(r))
	}
	return ids, nil
}

func (runeTokenizer) Decode(_ context.Context, ids []int64, _ bool) (string, error) {
	runes := make([]rune, len(ids))
	for i, id := range ids {
		runes[i] = rune(id)
	}
	return string(runes), nil
}

// fakeGenerator appends the encoded reply to the prompt tokens.
type fakeGenerator struct {
	reply  string
	called bool
}

func (g *fakeGenerator) Generate(ctx context.Context, ids []int64, _ model.GenerationConfig) ([]int64, error) {
	g.called = true
	replyIDs, err := runeTokenizer{}.Encode(ctx, g.reply)
	if err != nil {
		return nil, err
	}
	return append(append([]int64{}, ids...), replyIDs...), nil
}

// failingGenerator fails the test if generation is ever attempted.
type failingGenerator struct{ t *testing.T }

func (g failingGenerator) Generate(context.Context, []int64, model.GenerationConfig) ([]int64, error) {
	g.t.Error("generator must not be invoked for a tool-handled turn")
	return nil, errors.New("unexpected generate call")
}

// fakeRepo is an in-memory store.Repository.
type fakeRepo struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	upsertErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{conversations: make(map[string]*domain.Conversation)}
}

func (r *fakeRepo) GetConversation(_ context.Context, sessionID string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (r *fakeRepo) UpsertConversation(_ context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	copied := *conv
	r.conversations[conv.SessionID] = &copied
	return nil
}

func (r *fakeRepo) CleanupExpiredConversations(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

var _ store.Repository = (*fakeRepo)(nil)
