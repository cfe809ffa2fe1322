package llm

import (
	"context"
	"fmt"

	"witlab/internal/config"
)

// Provider names accepted in llm.provider.
const (
	ProviderDashScope = "dashscope"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

type providerDefaults struct {
	baseURL string
	model   string
}

var defaults = map[string]providerDefaults{
	ProviderDashScope: {"https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-plus"},
	ProviderOpenAI:    {"https://api.openai.com/v1", "gpt-4o"},
	ProviderGemini:    {"", DefaultGeminiModel},
}

// ConfigFrom resolves the LLM section of cfg. An API key switched to another
// provider through the environment keeps that provider's own base URL and
// model instead of the defaults of the configured one.
func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.GetLLMTimeout(),
		Sampling: Sampling{
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.GetLLMRetryDelay(),
	}

	own, ok := defaults[c.Provider]
	if !ok {
		return c
	}
	for name, d := range defaults {
		if name == c.Provider {
			continue
		}
		if c.BaseURL == d.baseURL && d.baseURL != "" {
			c.BaseURL = own.baseURL
		}
		if c.Model == d.model {
			c.Model = own.model
		}
	}
	if c.BaseURL == "" {
		c.BaseURL = own.baseURL
	}
	if c.Model == "" {
		c.Model = own.model
	}
	return c
}

// NewClient builds the chat client for the configured provider.
func NewClient(ctx context.Context, cfg *config.Config) (Client, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	c := ConfigFrom(cfg)
	switch c.Provider {
	case ProviderDashScope, ProviderOpenAI:
		return NewOpenAIClient(c), nil
	case ProviderGemini:
		c.BaseURL = ""
		return NewGeminiClient(ctx, c)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", c.Provider)
	}
}
