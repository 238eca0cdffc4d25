package factory

import (
	"testing"

	"curriculum-qa-be/pkg/llm/anthropic"
	"curriculum-qa-be/pkg/llm/ollama"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLLMProvider(t *testing.T) {
	p, err := NewLLMProvider(Config{Provider: "ollama", Model: "llama3.1"})
	require.NoError(t, err)
	o, ok := p.(*ollama.OllamaProvider)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:11434", o.BaseURL)

	p, err = NewLLMProvider(Config{Provider: "Anthropic", Model: "some-model", APIKey: "k"})
	require.NoError(t, err)
	_, ok = p.(*anthropic.Provider)
	assert.True(t, ok)

	_, err = NewLLMProvider(Config{Provider: "anthropic"})
	assert.Error(t, err)

	_, err = NewLLMProvider(Config{Provider: "gpt-local"})
	assert.Error(t, err)
}
