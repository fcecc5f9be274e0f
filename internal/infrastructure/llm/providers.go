package llm

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"fmt"
	"net/http"
	"time"
)

// ProviderConfig is the connection setting of one provider family.
type ProviderConfig struct {
	Kind    entities.ProviderKind
	APIKey  string
	BaseURL string
}

// Providers holds one client per configured family. Each client owns its
// own http.Client and connection pool for the life of the process.
type Providers map[entities.ProviderKind]interfaces.ChatProvider

// NewProviders builds a client for every config with a key; configs
// without a key are skipped.
func NewProviders(configs []ProviderConfig, timeout time.Duration) (Providers, error) {
	out := Providers{}
	for _, cfg := range configs {
		if cfg.APIKey == "" {
			continue
		}
		opts := []Option{
			WithBaseURL(cfg.BaseURL),
			WithHTTPClient(&http.Client{Timeout: timeout}),
		}
		var (
			p   interfaces.ChatProvider
			err error
		)
		switch cfg.Kind {
		case entities.ProviderOpenAI:
			p, err = NewOpenAIClient(cfg.APIKey, opts...)
		case entities.ProviderDeepSeek:
			p, err = NewDeepSeekClient(cfg.APIKey, opts...)
		case entities.ProviderGrok:
			p, err = NewGrokClient(cfg.APIKey, opts...)
		case entities.ProviderAnthropic:
			p, err = NewAnthropicClient(cfg.APIKey, opts...)
		case entities.ProviderGemini:
			p, err = NewGeminiClient(cfg.APIKey, opts...)
		default:
			err = fmt.Errorf("llm: unsupported provider %s", cfg.Kind)
		}
		if err != nil {
			return nil, err
		}
		out[cfg.Kind] = p
	}
	return out, nil
}

// For returns the client serving a resolved model.
func (p Providers) For(kind entities.ProviderKind) (interfaces.ChatProvider, error) {
	c, ok := p[kind]
	if !ok {
		return nil, fmt.Errorf("llm: provider %s is not configured", kind)
	}
	return c, nil
}
