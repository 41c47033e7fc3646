// Package bot implements the per-turn conversation pipeline: tool
// routing, context window management, and the generative fallback.
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkovalev/merlin/internal/domain"
	"github.com/mkovalev/merlin/internal/model"
)

// botCue is the trailing prompt fragment that cues the generator to
// produce a bot turn.
const botCue = "\nBot:"

// ContextWindow bounds the prompt fed to the generator to a fixed token
// budget, discarding the oldest conversational context on overflow.
type ContextWindow struct {
	tok       model.Tokenizer
	maxTokens int
}

// NewContextWindow creates a context window over the given tokenizer.
func NewContextWindow(tok model.Tokenizer, maxTokens int) *ContextWindow {
	return &ContextWindow{tok: tok, maxTokens: maxTokens}
}

// Prepare builds the generation prompt from the prior transcript and the
// new user message, returning the prompt text and its token IDs. When the
// encoded prompt exceeds the budget, only the newest tokens are kept and
// the "\nBot:" cue is restored if truncation cut through it. Truncation
// affects the model input only, never the stored transcript.
func (w *ContextWindow) Prepare(ctx context.Context, history, userMessage string) (string, []int64, error) {
	prompt := history + domain.UserPrefix + userMessage + botCue

	ids, err := w.tok.Encode(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("encode prompt: %w", err)
	}
	if len(ids) <= w.maxTokens {
		return prompt, ids, nil
	}

	tail := ids[len(ids)-w.maxTokens:]
	text, err := w.tok.Decode(ctx, tail, true)
	if err != nil {
		return "", nil, fmt.Errorf("decode truncated prompt: %w", err)
	}
	if strings.HasSuffix(text, botCue) {
		return text, tail, nil
	}

	// Truncation landed mid-turn and dropped the cue. Leave headroom for
	// the cue tokens, then re-append it so the prompt still ends with a
	// bot-turn cue within the budget.
	cueIDs, err := w.tok.Encode(ctx, botCue)
	if err != nil {
		return "", nil, fmt.Errorf("encode cue: %w", err)
	}
	keep := w.maxTokens - len(cueIDs)
	if keep < 0 {
		keep = 0
	}
	tail = ids[len(ids)-keep:]
	text, err = w.tok.Decode(ctx, tail, true)
	if err != nil {
		return "", nil, fmt.Errorf("decode truncated prompt: %w", err)
	}

	prompt = text + botCue
	ids, err = w.tok.Encode(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("re-encode truncated prompt: %w", err)
	}
	return prompt, ids, nil
}
