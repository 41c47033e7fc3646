package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// wikiApology is the fixed reply when the encyclopedia lookup itself fails.
const wikiApology = "Sorry, I had trouble looking that up on Wikipedia."

// wikiPrefixes are the question openers that trigger an encyclopedia lookup.
var wikiPrefixes = []string{"what is ", "what's ", "who is ", "who's "}

// WikiHandler answers "what is X" / "who is X" questions from the first
// line of the Wikipedia summary for X.
type WikiHandler struct {
	client *WikiClient
}

// NewWikiHandler creates an encyclopedia handler backed by the given client.
func NewWikiHandler(client *WikiClient) *WikiHandler {
	return &WikiHandler{client: client}
}

// Match implements Handler.
func (h *WikiHandler) Match(normalized string) bool {
	for _, p := range wikiPrefixes {
		if strings.HasPrefix(normalized, p) {
			return true
		}
	}
	return false
}

// Reply implements Handler. Provider failures are logged and collapsed
// into a fixed apology.
func (h *WikiHandler) Reply(ctx context.Context, _, original string) string {
	query := extractQuery(original)
	if query == "" {
		return wikiApology
	}

	summary, exists, err := h.client.Summary(ctx, query)
	if err != nil {
		slog.Warn("Wikipedia tool: lookup failed", "query", query, "error", err)
		return wikiApology
	}
	if !exists {
		return fmt.Sprintf("Sorry, I couldn't find any Wikipedia information on '%s'.", query)
	}

	// Only the first line of the summary is used.
	firstLine, _, _ := strings.Cut(summary, "\n")
	if strings.TrimSpace(firstLine) == "" {
		return fmt.Sprintf("Sorry, I couldn't find any Wikipedia information on '%s'.", query)
	}
	return firstLine
}

// extractQuery drops the first two whitespace-separated tokens of the
// original message ("what is", "who is", ...) and strips a trailing
// question mark.
func extractQuery(original string) string {
	parts := strings.SplitN(strings.TrimSpace(original), " ", 3)
	query := parts[len(parts)-1]
	query = strings.TrimSpace(query)
	query = strings.TrimSuffix(query, "?")
	return strings.TrimSpace(query)
}

// WikiClient calls the Wikipedia REST summary API.
type WikiClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewWikiClient creates a client against the English Wikipedia REST API.
func NewWikiClient(timeout time.Duration) *WikiClient {
	return &WikiClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://en.wikipedia.org",
		userAgent:  "Merlin (merlin@example.com)",
	}
}

// NewWikiClientWithBaseURL creates a client against a custom base URL.
// Used by tests to point at a stub server.
func NewWikiClientWithBaseURL(httpClient *http.Client, baseURL string) *WikiClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WikiClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  "Merlin (merlin@example.com)",
	}
}

type wikiSummaryResponse struct {
	Extract string `json:"extract"`
}

// Summary fetches the page summary for a query. exists is false when no
// page matches; err covers transport and malformed-response failures.
func (c *WikiClient) Summary(ctx context.Context, query string) (summary string, exists bool, err error) {
	u := c.baseURL + "/api/rest_v1/page/summary/" + url.PathEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch summary: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close wiki response body", "error", closeErr)
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		var data wikiSummaryResponse
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			return "", false, fmt.Errorf("decode summary: %w", err)
		}
		return data.Extract, true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
