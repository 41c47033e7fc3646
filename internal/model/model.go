// Package model wraps the external tokenizer/generator capability.
//
// The language model runs out of process in a model runner sidecar; this
// package defines the contract the bot pipeline consumes and an HTTP
// client implementation for it.
package model

import "context"

// Tokenizer converts between text and model token IDs.
type Tokenizer interface {
	// Encode converts text to token IDs.
	Encode(ctx context.Context, text string) ([]int64, error)

	// Decode converts token IDs back to text. When skipSpecial is true,
	// special tokens (EOS, padding) are omitted from the output.
	Decode(ctx context.Context, ids []int64, skipSpecial bool) (string, error)
}

// Generator produces a continuation for a prompt token sequence.
// The returned sequence includes the prompt tokens followed by the newly
// generated ones; callers decode from the prompt length onward.
type Generator interface {
	Generate(ctx context.Context, ids []int64, cfg GenerationConfig) ([]int64, error)
}

// GenerationConfig holds the sampling parameters for one generation call.
type GenerationConfig struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	Temperature       float64 `json:"temperature"`
	NoRepeatNgramSize int     `json:"no_repeat_ngram_size"`
	PadTokenID        int64   `json:"pad_token_id"`
}

// DefaultGenerationConfig returns the fixed sampling configuration used
// for conversational replies. PadTokenID is filled in from the runner's
// reported EOS token at connect time.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxNewTokens:      60,
		TopK:              50,
		TopP:              0.95,
		Temperature:       0.7,
		NoRepeatNgramSize: 3,
	}
}
