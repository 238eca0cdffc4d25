// Package retrieval is the document search boundary of the pipeline.
// Every backend result goes through Normalize before the pipeline sees it.
package retrieval

import (
	"context"
	"errors"
)

// Chunk is one search hit in the fixed shape the pipeline consumes
type Chunk struct {
	Content  string  `json:"content"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Request describes one search call
type Request struct {
	Query string
	// Sources restricts results to these document names; empty means no filter
	Sources    []string
	MaxResults int
}

// Retriever is implemented by every search backend. An empty result is a
// valid answer, not an error.
type Retriever interface {
	Search(ctx context.Context, req Request) ([]Chunk, error)
	// MaxResults is the largest MaxResults the backend honours
	MaxResults() int
}

var ErrEmptyQuery = errors.New("retrieval: empty query")
