package config

// LLMConfig configures the chat-completion backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // dashscope, openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // ignored by gemini
	Timeout  string `yaml:"timeout"`

	// Sampling, fixed per deployment
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Rate-limit (429) handling
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// ServiceEndpoint is a remote HTTP model service.
type ServiceEndpoint struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// GenerationEndpoint adds the JSON template uploaded to /upload_generate and /upload_dpo.
type GenerationEndpoint struct {
	ServiceEndpoint `yaml:",inline"`
	TemplatePath    string `yaml:"template_path"`
}

// ServicesConfig groups the remote prediction and generation services.
type ServicesConfig struct {
	Prediction ServiceEndpoint    `yaml:"prediction"`
	Generation GenerationEndpoint `yaml:"generation"`
}
