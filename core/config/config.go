// Package config loads engine configuration from YAML with environment
// overrides for credentials.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/hindsight/core/llm"
	"github.com/adalundhe/hindsight/core/retrieval"
	"github.com/adalundhe/hindsight/core/store"
)

// ModelConfig locates the local ONNX models.
type ModelConfig struct {
	CacheDir       string `yaml:"cache_dir"`
	EmbedderRepo   string `yaml:"embedder_repo"`
	RerankerRepo   string `yaml:"reranker_repo"`
	OrtLibraryPath string `yaml:"ort_library_path"`
}

// Config is the full engine configuration.
type Config struct {
	Store     store.Config        `yaml:"store"`
	Retrieval retrieval.Config    `yaml:"retrieval"`
	Models    ModelConfig         `yaml:"models"`
	Provider  string              `yaml:"provider"`
	Anthropic llm.AnthropicConfig `yaml:"anthropic"`
	OpenAI    llm.OpenAIConfig    `yaml:"openai"`
	Workers   int                 `yaml:"workers"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Retrieval: retrieval.DefaultConfig(),
		Provider:  "anthropic",
		Anthropic: llm.DefaultAnthropicConfig(),
		OpenAI:    llm.DefaultOpenAIConfig(),
		Workers:   4,
	}
}

// Load reads a YAML config file over the defaults. A missing path yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv pulls credentials from the environment when the file omits them.
func (c *Config) applyEnv() {
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// BuildLLM constructs the configured language-model client, wrapped with the
// engine's retry policy.
func (c *Config) BuildLLM() (llm.Client, error) {
	switch c.Provider {
	case "", "anthropic":
		client, err := llm.NewAnthropicClient(c.Anthropic)
		if err != nil {
			return nil, err
		}
		return llm.WithRetry(client), nil
	case "openai":
		client, err := llm.NewOpenAIClient(c.OpenAI)
		if err != nil {
			return nil, err
		}
		return llm.WithRetry(client), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", c.Provider)
	}
}
