// Package llm abstracts the completion providers used for
// recommendation generation.
package llm

import (
	"context"
	"fmt"

	"github.com/adpilot-io/adpilot-engine/pkg/config"
)

// Client is a minimal completion interface. The generation pipeline
// needs exactly one shape of call: system prompt plus user prompt in,
// text out.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Model returns the configured model identifier, for logging.
	Model() string
}

// NewClient constructs the provider named in the config.
func NewClient(cfg config.AIConfig) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return newOpenAIClient(cfg), nil
	case "anthropic":
		return newAnthropicClient(cfg), nil
	}
	return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
}
