// Package llm wraps the chat model used for labeling and translation behind
// one Completer and a retrying, rate limited Client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

var ErrEmptyResponse = errors.New("llm returned an empty response")

// Completer sends one prompt and returns the raw model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

type Config struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerMinute int
}

// NewCompleter builds the backend named by cfg.Provider. The returned close
// func releases the underlying client.
func NewCompleter(ctx context.Context, cfg Config) (Completer, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini:
		completer, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return completer, completer.Close, nil
	case ProviderOpenAI:
		completer, err := NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return completer, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
