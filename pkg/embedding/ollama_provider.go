package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const nomicDimensions = 768

// OllamaProvider implements EmbeddingProvider for local Ollama models (nomic-embed-text)
type OllamaProvider struct {
	BaseURL    string
	Model      string
	Client     *http.Client
	MaxRetries uint
}

var _ EmbeddingProvider = (*OllamaProvider)(nil)

func NewOllamaProvider(baseURL string, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaProvider{
		BaseURL:    baseURL,
		Model:      model,
		Client:     &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 3,
	}
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (p *OllamaProvider) Dimensions() int {
	return nomicDimensions
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonBody, err := json.Marshal(ollamaEmbeddingRequest{Model: p.Model, Prompt: text})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/api/embeddings", p.BaseURL)

	values, err := backoff.Retry(ctx, func() ([]float64, error) {
		return p.post(ctx, endpoint, jsonBody)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(p.MaxRetries+1))
	if err != nil {
		return nil, fmt.Errorf("ollama embedding: %w", err)
	}

	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v)
	}
	return normalizeVector(vec), nil
}

func (p *OllamaProvider) post(ctx context.Context, endpoint string, body []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes))
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)))
	}

	var ollamaResp ollamaEmbeddingResponse
	if err := json.Unmarshal(bodyBytes, &ollamaResp); err != nil {
		return nil, backoff.Permanent(err)
	}
	if len(ollamaResp.Embedding) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("empty embedding"))
	}
	return ollamaResp.Embedding, nil
}
