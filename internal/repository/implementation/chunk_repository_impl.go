package implementation

import (
	"context"

	"curriculum-qa-be/internal/entity"
	"curriculum-qa-be/internal/mapper"
	"curriculum-qa-be/internal/model"
	"curriculum-qa-be/internal/repository/contract"
	"curriculum-qa-be/internal/repository/specification"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type ChunkRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.CurriculumChunkMapper
}

func NewChunkRepository(db *gorm.DB) contract.ChunkRepository {
	return &ChunkRepositoryImpl{
		db:     db,
		mapper: mapper.NewCurriculumChunkMapper(),
	}
}

func (r *ChunkRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *ChunkRepositoryImpl) CreateBulk(ctx context.Context, chunks []*entity.CurriculumChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	models := make([]*model.CurriculumChunk, len(chunks))
	for i, c := range chunks {
		models[i] = r.mapper.ToModel(c)
	}

	if err := r.db.WithContext(ctx).CreateInBatches(models, 100).Error; err != nil {
		return err
	}

	for i, m := range models {
		*chunks[i] = *r.mapper.ToEntity(m)
	}
	return nil
}

func (r *ChunkRepositoryImpl) DeleteBySource(ctx context.Context, source string) error {
	return r.db.WithContext(ctx).Where("source = ?", source).Delete(&model.CurriculumChunk{}).Error
}

func (r *ChunkRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.CurriculumChunk, error) {
	var models []*model.CurriculumChunk
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Order("source ASC, chunk_index ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *ChunkRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	err := query.Model(&model.CurriculumChunk{}).Count(&count).Error
	return count, err
}

// SearchSimilarWithScore ranks chunks by cosine similarity.
// pgvector's <=> is cosine distance, so similarity = 1 - distance.
func (r *ChunkRepositoryImpl) SearchSimilarWithScore(ctx context.Context, embedding []float32, limit int, sources []string, threshold float64) ([]*contract.ScoredChunk, error) {
	if limit <= 0 {
		limit = 10
	}

	type result struct {
		model.CurriculumChunk
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(embedding)

	query := r.db.WithContext(ctx).
		Table("curriculum_chunks").
		Select("curriculum_chunks.*, 1 - (embedding_value <=> ?) as similarity", queryVector).
		Where("1 - (embedding_value <=> ?) >= ?", queryVector, threshold)
	query = specification.BySources{Sources: sources}.Apply(query)

	err := query.
		Order("similarity DESC").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	scored := make([]*contract.ScoredChunk, len(results))
	for i, res := range results {
		scored[i] = &contract.ScoredChunk{
			Chunk:      r.mapper.ToEntity(&res.CurriculumChunk),
			Similarity: res.Similarity,
		}
	}
	return scored, nil
}
