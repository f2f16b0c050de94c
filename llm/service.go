// Package llm wraps an OpenAI-compatible chat endpoint behind the single
// Generate operation the agent engine needs: prompt text in, free text out,
// with a bounded wall-clock timeout.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Service is the language-model collaborator.
type Service interface {
	// Generate sends a single prompt and returns the raw completion text.
	// It fails with an error wrapping context.DeadlineExceeded if the call
	// exceeds the configured timeout.
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)

	// Warmup sends a lightweight ping to establish the connection. Best
	// effort; failures are only logged.
	Warmup(ctx context.Context)
}

// Config represents LLM service configuration.
type Config struct {
	Provider  string // openai, deepseek, openrouter, ollama, or any OpenAI-compatible endpoint
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int // default: 1024
	Timeout   int // request timeout in seconds (default: 120)
}

type service struct {
	client    *openai.Client
	model     string
	provider  string
	maxTokens int
	timeout   time.Duration
}

// NewService creates a Service for the configured provider.
func NewService(cfg *Config) (Service, error) {
	httpClient := newHTTPClient()

	baseURL := cfg.BaseURL
	switch cfg.Provider {
	case "deepseek":
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
	case "openrouter":
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
	case "openai":
		// go-openai default base URL applies when unset.
	default:
		slog.Info("llm: using generic OpenAI-compatible provider", "provider", cfg.Provider)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = httpClient

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &service{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		provider:  cfg.Provider,
		maxTokens: maxTokens,
		timeout:   time.Duration(timeout) * time.Second,
	}, nil
}

func (s *service) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	slog.Debug("llm: generate request", "model", s.model, "prompt_length", len(prompt))

	startTime := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("llm: generate request failed", "error", err, "duration_ms", time.Since(startTime).Milliseconds())
		return "", fmt.Errorf("llm generate failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from llm")
	}

	slog.Debug("llm: generate response received",
		"content_length", len(resp.Choices[0].Message.Content),
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

func (s *service) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	startTime := time.Now()
	req := openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	}
	_, err := s.client.CreateChatCompletion(warmupCtx, req)
	if err != nil {
		slog.Warn("llm: warmup ping failed (first request may be slower)",
			"provider", s.provider, "model", s.model, "error", err)
		return
	}
	slog.Info("llm: connection warmed up",
		"provider", s.provider, "model", s.model,
		"duration_ms", time.Since(startTime).Milliseconds())
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
