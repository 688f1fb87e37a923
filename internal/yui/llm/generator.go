// Package llm defines the text-generation capability consumed by the
// engine and provides an OpenAI-compatible implementation. The engine only
// depends on the Generator interface; everything platform-specific (API
// shape, retries, model knobs) stays behind it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gungold-XwX/yui-telegram-bot/common/retry"
)

// Roles used in generation requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged entry in a generation request.
type Message struct {
	Role    string
	Content string
}

// Generator produces a completion for an ordered message sequence.
// Implementations must treat an empty completion as a failure, never as a
// usable answer.
type Generator interface {
	Generate(ctx context.Context, messages []Message, maxOutputTokens int) (string, error)
}

// ErrEmptyCompletion is returned when the provider answers successfully but
// with no usable text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// OpenAIConfig configures the OpenAI-compatible generator.
type OpenAIConfig struct {
	// APIKey is the bearer token for authentication.
	APIKey string
	// BaseURL overrides the API endpoint, e.g. a Groq or Ollama gateway.
	// Empty means the public OpenAI endpoint.
	BaseURL string
	// Model is the chat model name. Defaults to gpt-4o-mini.
	Model string
	// Temperature and TopP are sampling knobs passed through verbatim.
	Temperature float32
	TopP        float32
	// Timeout bounds a single request. Defaults to 60 s.
	Timeout time.Duration
	// Attempts is the total number of tries per Generate call (including
	// the first). Defaults to 2.
	Attempts int
}

// OpenAIGenerator implements Generator over an OpenAI-compatible chat
// completions API. Safe for concurrent use.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIGenerator builds a generator from cfg, applying defaults for
// zero-value fields.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Generate sends the message sequence to the chat completions endpoint and
// returns the trimmed completion text. Transport failures and empty
// completions are retried a bounded number of times; the last error is
// surfaced when attempts are exhausted.
func (g *OpenAIGenerator) Generate(ctx context.Context, messages []Message, maxOutputTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: g.cfg.Temperature,
		TopP:        g.cfg.TopP,
		MaxTokens:   maxOutputTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var out string
	err := retry.Do(ctx, retry.Policy{
		Attempts:  g.cfg.Attempts,
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
	}, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		resp, err := g.client.CreateChatCompletion(reqCtx, req)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyCompletion
		}
		out = strings.TrimSpace(resp.Choices[0].Message.Content)
		if out == "" {
			return ErrEmptyCompletion
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	return out, nil
}

// Compile-time interface satisfaction check.
var _ Generator = (*OpenAIGenerator)(nil)
