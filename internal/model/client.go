package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client is an HTTP client for the model runner sidecar. It implements
// both Tokenizer and Generator.
type Client struct {
	httpClient *http.Client
	baseURL    string
	padTokenID int64
	logger     *slog.Logger
}

// ClientConfig holds configuration for the model runner client.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://127.0.0.1:8090",
		RequestTimeout: 30 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

type runnerInfo struct {
	ModelName  string `json:"model_name"`
	EOSTokenID int64  `json:"eos_token_id"`
}

type encodeRequest struct {
	Text string `json:"text"`
}

type encodeResponse struct {
	IDs []int64 `json:"ids"`
}

type decodeRequest struct {
	IDs         []int64 `json:"ids"`
	SkipSpecial bool    `json:"skip_special_tokens"`
}

type decodeResponse struct {
	Text string `json:"text"`
}

type generateRequest struct {
	IDs []int64 `json:"ids"`
	GenerationConfig
}

type generateResponse struct {
	IDs []int64 `json:"ids"`
}

// NewClient creates a client for the model runner at cfg.BaseURL and
// probes it so a bad endpoint fails at startup rather than on the first
// chat turn. The probe also learns the runner's EOS token ID, which is
// used as the pad token during generation.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClientConfig().BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultClientConfig().RequestTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultClientConfig().ConnectTimeout
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	info, err := c.fetchInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("model runner at %s not ready: %w", cfg.BaseURL, err)
	}
	c.padTokenID = info.EOSTokenID

	logger.Info("Connected to model runner",
		"address", cfg.BaseURL,
		"model", info.ModelName,
		"eos_token_id", info.EOSTokenID,
	)
	return c, nil
}

// PadTokenID returns the runner's end-of-sequence token ID.
func (c *Client) PadTokenID() int64 {
	return c.padTokenID
}

func (c *Client) fetchInfo(ctx context.Context) (*runnerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
	if err != nil {
		return nil, fmt.Errorf("build info request: %w", err)
	}

	var info runnerInfo
	if err := c.do(req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Encode converts text to token IDs.
func (c *Client) Encode(ctx context.Context, text string) ([]int64, error) {
	var resp encodeResponse
	if err := c.post(ctx, "/encode", encodeRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return resp.IDs, nil
}

// Decode converts token IDs back to text.
func (c *Client) Decode(ctx context.Context, ids []int64, skipSpecial bool) (string, error) {
	var resp decodeResponse
	if err := c.post(ctx, "/decode", decodeRequest{IDs: ids, SkipSpecial: skipSpecial}, &resp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return resp.Text, nil
}

// Generate produces a continuation for the prompt token sequence.
func (c *Client) Generate(ctx context.Context, ids []int64, cfg GenerationConfig) ([]int64, error) {
	var resp generateResponse
	if err := c.post(ctx, "/generate", generateRequest{IDs: ids, GenerationConfig: cfg}, &resp); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(resp.IDs) < len(ids) {
		return nil, fmt.Errorf("generate: runner returned %d tokens for a %d token prompt", len(resp.IDs), len(ids))
	}
	return resp.IDs, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call model runner: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close model runner response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model runner returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode model runner response: %w", err)
	}
	return nil
}

// Interface guards.
var (
	_ Tokenizer = (*Client)(nil)
	_ Generator = (*Client)(nil)
)
