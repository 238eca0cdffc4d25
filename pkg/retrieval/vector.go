package retrieval

import (
	"context"
	"fmt"
	"strings"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/repository/contract"
	"curriculum-qa-be/pkg/embedding"
)

// VectorConfig tunes the pgvector retriever
type VectorConfig struct {
	MaxResults          int
	SimilarityThreshold float64
}

func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		MaxResults:          50,
		SimilarityThreshold: 0.2,
	}
}

// VectorRetriever embeds the query and ranks stored curriculum chunks by cosine similarity
type VectorRetriever struct {
	embedder embedding.EmbeddingProvider
	repo     contract.ChunkRepository
	config   VectorConfig
	logger   logger.ILogger
}

var _ Retriever = (*VectorRetriever)(nil)

func NewVectorRetriever(embedder embedding.EmbeddingProvider, repo contract.ChunkRepository, config VectorConfig, log logger.ILogger) *VectorRetriever {
	if config.MaxResults <= 0 {
		config.MaxResults = DefaultVectorConfig().MaxResults
	}
	return &VectorRetriever{
		embedder: embedder,
		repo:     repo,
		config:   config,
		logger:   log,
	}
}

func (r *VectorRetriever) MaxResults() int {
	return r.config.MaxResults
}

func (r *VectorRetriever) Search(ctx context.Context, req Request) ([]Chunk, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	limit := req.MaxResults
	if limit <= 0 || limit > r.config.MaxResults {
		limit = r.config.MaxResults
	}

	vec, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored, err := r.repo.SearchSimilarWithScore(ctx, vec, limit, req.Sources, r.config.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	chunks := make([]Chunk, 0, len(scored))
	for _, sc := range scored {
		if sc == nil || sc.Chunk == nil {
			continue
		}
		chunks = append(chunks, Chunk{
			Content:  sc.Chunk.Content,
			SourceID: sc.Chunk.Source,
			Score:    sc.Similarity,
		})
	}

	r.logger.Debug("Retrieval", "Vector search complete", map[string]interface{}{
		"limit":    limit,
		"sources":  len(req.Sources),
		"returned": len(chunks),
	})
	return clean(chunks), nil
}
