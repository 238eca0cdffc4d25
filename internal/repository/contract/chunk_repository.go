package contract

import (
	"context"

	"curriculum-qa-be/internal/entity"
	"curriculum-qa-be/internal/repository/specification"
)

// ScoredChunk wraps a CurriculumChunk with its cosine similarity (1.0 = identical)
type ScoredChunk struct {
	Chunk      *entity.CurriculumChunk
	Similarity float64
}

type ChunkRepository interface {
	CreateBulk(ctx context.Context, chunks []*entity.CurriculumChunk) error
	DeleteBySource(ctx context.Context, source string) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.CurriculumChunk, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	// SearchSimilarWithScore returns the nearest chunks among sources (all when empty), best first
	SearchSimilarWithScore(ctx context.Context, embedding []float32, limit int, sources []string, threshold float64) ([]*ScoredChunk, error)
}
