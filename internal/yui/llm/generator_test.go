package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// chatStub answers /chat/completions with the given content, recording the
// inbound payload for assertions.
func chatStub(t *testing.T, content string, gotReq *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if gotReq != nil {
			if err := json.NewDecoder(r.Body).Decode(gotReq); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var got map[string]any
	srv := chatStub(t, "  hello there  ", &got)
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		Model:       "test-model",
		Temperature: 0.6,
	})

	out, err := g.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, 128)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if out != "hello there" {
		t.Errorf("expected trimmed completion, got %q", out)
	}
	if got["model"] != "test-model" {
		t.Errorf("expected model passthrough, got %v", got["model"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages in request, got %d", len(msgs))
	}
}

func TestOpenAIGenerator_EmptyCompletionIsError(t *testing.T) {
	srv := chatStub(t, "", nil)
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Attempts: 1})

	_, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, 64)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestOpenAIGenerator_RetriesTransportFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok now"}},
			},
		})
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Attempts: 3})

	out, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, 64)
	if err != nil {
		t.Fatalf("Generate error after retry: %v", err)
	}
	if out != "ok now" {
		t.Errorf("unexpected output %q", out)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
