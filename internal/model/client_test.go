package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newRunnerStub serves a minimal model runner: tokens are bytes of the
// text, generation appends a fixed continuation.
func newRunnerStub(t *testing.T, continuation []int64) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"model_name":"stub","eos_token_id":50256}`))
	})
	mux.HandleFunc("/encode", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req encodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ids := make([]int64, len(req.Text))
		for i := range req.Text {
			ids[i] = int64(req.Text[i])
		}
		_ = json.NewEncoder(w).Encode(encodeResponse{IDs: ids})
	})
	mux.HandleFunc("/decode", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req decodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		buf := make([]byte, len(req.IDs))
		for i, id := range req.IDs {
			buf[i] = byte(id)
		}
		_ = json.NewEncoder(w).Encode(decodeResponse{Text: string(buf)})
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{IDs: append(req.IDs, continuation...)})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, continuation []int64) *Client {
	t.Helper()

	srv := newRunnerStub(t, continuation)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientLearnsPadToken(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, nil)
	if c.PadTokenID() != 50256 {
		t.Errorf("PadTokenID = %d, want 50256", c.PadTokenID())
	}
}

func TestNewClientFailsFastOnBadEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	if _, err := NewClient(ClientConfig{BaseURL: srv.URL}, nil); err == nil {
		t.Fatal("expected error for runner without /info")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, nil)
	ctx := context.Background()

	const text = "User: hello\nBot:"
	ids, err := c.Encode(ctx, text)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := c.Decode(ctx, ids, true)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != text {
		t.Errorf("decode(encode(%q)) = %q", text, got)
	}
}

func TestGenerateReturnsPromptPlusContinuation(t *testing.T) {
	t.Parallel()

	continuation := []int64{104, 105} // "hi"
	c := newTestClient(t, continuation)
	ctx := context.Background()

	prompt := []int64{97, 98, 99}
	out, err := c.Generate(ctx, prompt, DefaultGenerationConfig())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(out) != len(prompt)+len(continuation) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(prompt)+len(continuation))
	}

	reply, err := c.Decode(ctx, out[len(prompt):], true)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if reply != "hi" {
		t.Errorf("reply = %q, want %q", reply, "hi")
	}
}

func TestGenerateRejectsShortResponse(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"eos_token_id":1}`))
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte(`{"ids":[1]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := c.Generate(context.Background(), []int64{1, 2, 3}, DefaultGenerationConfig()); err == nil {
		t.Fatal("expected error when runner returns fewer tokens than the prompt")
	}
}
