package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the workspace-relative location of the config file.
const DefaultConfigPath = ".wit/config.yaml"

// Config holds all WIT configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Remote model services
	Services ServicesConfig `yaml:"services"`

	// Experiment data storage
	Storage StorageConfig `yaml:"storage"`

	// Instrument file extraction
	Extraction ExtractionConfig `yaml:"extraction"`

	// Formula and categorical encoding
	Encoding EncodingConfig `yaml:"encoding"`

	// Agent loop
	Agent AgentConfig `yaml:"agent"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig locates experiment data and the local history database.
type StorageConfig struct {
	// BaseFolder is the root of <exp-id>/all/<IV|In-situ> trees.
	BaseFolder string `yaml:"base_folder"`

	// HistoryPath is the SQLite file recording predictions and extractions.
	// Empty disables history.
	HistoryPath string `yaml:"history_path"`
}

// AgentConfig configures the tool-calling loop.
type AgentConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	ToolTimeout   string `yaml:"tool_timeout"`
	SessionWindow int    `yaml:"session_window"` // messages kept between turns
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "wit",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "dashscope",
			Model:       "qwen-plus",
			BaseURL:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Timeout:     "120s",
			Temperature: 0.7,
			TopP:        0.9,
			MaxTokens:   4096,
			MaxRetries:  3,
			RetryDelay:  "5s",
		},

		Services: ServicesConfig{
			Prediction: ServiceEndpoint{
				BaseURL: "http://127.0.0.1:9988",
				Timeout: "30s",
			},
			Generation: GenerationEndpoint{
				ServiceEndpoint: ServiceEndpoint{
					BaseURL: "http://127.0.0.1:9988",
					Timeout: "300s",
				},
				TemplatePath: "data/formula_template.json",
			},
		},

		Storage: StorageConfig{
			BaseFolder:  "data",
			HistoryPath: ".wit/history.db",
		},

		Extraction: ExtractionConfig{
			Layout:        LayoutLabeled,
			FailurePolicy: FailureIsolate,
			MaxLines:      30,
			Workers:       4,
			SettleDelay:   "500ms",
		},

		Encoding: EncodingConfig{
			OnUnknownValue:   PolicyZero,
			ImplicitFraction: 0,
		},

		Agent: AgentConfig{
			MaxIterations: 20,
			ToolTimeout:   "5m",
			SessionWindow: 40,
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults when the file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment (later entries win)
	if key := os.Getenv("DASHSCOPE_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "dashscope"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	// WIT_API_KEY keeps whatever provider is configured
	if key := os.Getenv("WIT_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if url := os.Getenv("WIT_LLM_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("WIT_MODEL"); model != "" {
		c.LLM.Model = model
	}

	// Service URLs from environment
	if url := os.Getenv("WIT_PREDICT_URL"); url != "" {
		c.Services.Prediction.BaseURL = url
	}
	if url := os.Getenv("WIT_GENERATE_URL"); url != "" {
		c.Services.Generation.BaseURL = url
	}

	// Storage from environment
	if dir := os.Getenv("WIT_DATA_DIR"); dir != "" {
		c.Storage.BaseFolder = dir
	}
	if path := os.Getenv("WIT_HISTORY_DB"); path != "" {
		c.Storage.HistoryPath = path
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetLLMRetryDelay returns the base backoff between rate-limited LLM retries.
func (c *Config) GetLLMRetryDelay() time.Duration {
	return parseDuration(c.LLM.RetryDelay, 5*time.Second)
}

// GetPredictionTimeout returns the per-request prediction deadline.
func (c *Config) GetPredictionTimeout() time.Duration {
	return parseDuration(c.Services.Prediction.Timeout, 30*time.Second)
}

// GetGenerationTimeout returns the per-request generation/DPO deadline.
func (c *Config) GetGenerationTimeout() time.Duration {
	return parseDuration(c.Services.Generation.Timeout, 300*time.Second)
}

// GetToolTimeout returns the deadline for a single tool call.
func (c *Config) GetToolTimeout() time.Duration {
	return parseDuration(c.Agent.ToolTimeout, 5*time.Minute)
}

// GetSettleDelay returns how long the watcher waits for a file to stop changing.
func (c *Config) GetSettleDelay() time.Duration {
	return parseDuration(c.Extraction.SettleDelay, 500*time.Millisecond)
}

// ResolvePaths makes relative storage and template paths absolute against workspace.
func (c *Config) ResolvePaths(workspace string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(workspace, p)
	}
	c.Storage.BaseFolder = resolve(c.Storage.BaseFolder)
	c.Storage.HistoryPath = resolve(c.Storage.HistoryPath)
	c.Services.Generation.TemplatePath = resolve(c.Services.Generation.TemplatePath)
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"dashscope", "openai", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Services.Prediction.BaseURL == "" {
		return fmt.Errorf("services.prediction.base_url is required")
	}

	switch c.Extraction.Layout {
	case LayoutLabeled, LayoutFixed:
	default:
		return fmt.Errorf("invalid extraction layout: %q (valid: %s, %s)", c.Extraction.Layout, LayoutLabeled, LayoutFixed)
	}
	switch c.Extraction.FailurePolicy {
	case FailureIsolate, FailureAbort:
	default:
		return fmt.Errorf("invalid extraction failure_policy: %q (valid: %s, %s)", c.Extraction.FailurePolicy, FailureIsolate, FailureAbort)
	}
	if c.Extraction.MaxLines <= 0 {
		return fmt.Errorf("extraction.max_lines must be positive, got %d", c.Extraction.MaxLines)
	}

	switch c.Encoding.OnUnknownValue {
	case PolicyZero, PolicyStrict:
	default:
		return fmt.Errorf("invalid encoding on_unknown_value: %q (valid: %s, %s)", c.Encoding.OnUnknownValue, PolicyZero, PolicyStrict)
	}

	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}

	return nil
}

// RequireAPIKey reports a missing LLM credential. Commands that never call the
// LLM skip this check.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set WIT_API_KEY, DASHSCOPE_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY)")
	}
	return nil
}
