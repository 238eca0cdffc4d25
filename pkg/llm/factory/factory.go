package factory

import (
	"fmt"
	"strings"

	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/llm/anthropic"
	"curriculum-qa-be/pkg/llm/ollama"
)

// Config selects and configures an LLM backend
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func NewLLMProvider(cfg Config) (llm.LLMProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewOllamaProvider(baseURL, cfg.Model), nil
	case "anthropic":
		if cfg.Model == "" {
			return nil, fmt.Errorf("anthropic provider needs a model name")
		}
		return anthropic.NewProvider(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
