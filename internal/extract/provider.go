package extract

import (
	"context"
	"errors"
	"time"

	"github.com/solai17/bytefeed/internal/config"
)

// ErrAllProvidersFailed is the pipeline's terminal error: every provider in
// the chain errored or returned unusable output.
var ErrAllProvidersFailed = errors.New("all extraction providers failed")

// Provider is one generative-text backend. Implementations must respect the
// context deadline; a timeout is treated like any other provider error.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewProviderChain builds the ordered fallback chain from configuration.
// Providers are tried cheapest-first, so a free-tier success short-circuits
// the paid calls. Only providers with a configured API key participate.
func NewProviderChain(cfg *config.Config) []Provider {
	if cfg == nil {
		return nil
	}

	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	chain := make([]Provider, 0, 4)
	if cfg.GeminiAPIKey != "" {
		chain = append(chain, NewGeminiProvider(cfg.GeminiAPIKey, cfg.GeminiModel, timeout))
	}
	if cfg.GroqAPIKey != "" {
		chain = append(chain, NewOpenAICompatProvider("groq", groqEndpoint, cfg.GroqModel, cfg.GroqAPIKey, timeout))
	}
	if cfg.DeepSeekAPIKey != "" {
		chain = append(chain, NewOpenAICompatProvider("deepseek", deepSeekEndpoint, cfg.DeepSeekModel, cfg.DeepSeekAPIKey, timeout))
	}
	if cfg.OpenAIAPIKey != "" {
		chain = append(chain, NewOpenAICompatProvider("openai", openAIEndpoint, cfg.OpenAIModel, cfg.OpenAIAPIKey, timeout))
	}
	return chain
}
