package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HTTPRetriever calls an external search service. The response body can be in
// any shape Normalize understands.
type HTTPRetriever struct {
	Endpoint   string
	APIKey     string
	Client     *http.Client
	Max        int
	MaxRetries uint
}

var _ Retriever = (*HTTPRetriever)(nil)

func NewHTTPRetriever(endpoint, apiKey string, maxResults int) *HTTPRetriever {
	if maxResults <= 0 {
		maxResults = 50
	}
	return &HTTPRetriever{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Client:     &http.Client{Timeout: 20 * time.Second},
		Max:        maxResults,
		MaxRetries: 2,
	}
}

type httpSearchRequest struct {
	Query      string   `json:"query"`
	Sources    []string `json:"sources,omitempty"`
	MaxResults int      `json:"max_results"`
}

func (r *HTTPRetriever) MaxResults() int {
	return r.Max
}

func (r *HTTPRetriever) Search(ctx context.Context, req Request) ([]Chunk, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	limit := req.MaxResults
	if limit <= 0 || limit > r.Max {
		limit = r.Max
	}

	payload, err := json.Marshal(httpSearchRequest{Query: req.Query, Sources: req.Sources, MaxResults: limit})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return r.post(ctx, payload)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(r.MaxRetries+1))
	if err != nil {
		return nil, fmt.Errorf("search service: %w", err)
	}

	chunks, err := Normalize(json.RawMessage(body))
	if err != nil {
		return nil, err
	}
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

func (r *HTTPRetriever) post(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.APIKey)
	}

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	return body, nil
}
