package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in the conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks a provider for one assistant turn. MaxTokens of 0
// leaves the provider's configured budget in place; report generation raises
// it per call.
type CompletionRequest struct {
	Messages  []Message
	MaxTokens int
}

// Provider produces assistant completions.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}

// Config controls provider construction.
type Config struct {
	Mode          string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	Temperature   float64
	MaxTokens     int
	OllamaURL     string
	OllamaModel   string
}

func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoProvider(ctx, cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("openai api key is required for openai mode")
		}
		return newOpenAIFromConfig(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported brain provider mode %q", cfg.Mode)
	}
}

func newAutoProvider(ctx context.Context, cfg Config) Provider {
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		return newOpenAIFromConfig(cfg)
	}

	ollama := NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel)
	if ollama.IsRunning(ctx) {
		return ollama
	}

	return NewMockProvider()
}

func newOpenAIFromConfig(cfg Config) *OpenAIProvider {
	return NewOpenAIProvider(OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
}
