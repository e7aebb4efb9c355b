package llm

import (
	"context"

	"plotform-planner/internal/config"
	"plotform-planner/internal/shared"
)

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// NewFromConfig creates the configured text generator. The returned close
// function releases the provider's resources; for providers without any it
// is a no-op.
func NewFromConfig(ctx context.Context, cfg *config.Config) (TextGenerator, func() error, error) {
	switch cfg.Provider {
	case config.ProviderGroq:
		return NewGroqClient(cfg.GroqAPIKey, cfg.GroqModel), func() error { return nil }, nil
	default:
		client, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}
