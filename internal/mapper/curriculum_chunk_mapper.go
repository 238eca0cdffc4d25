package mapper

import (
	"time"

	"curriculum-qa-be/internal/entity"
	"curriculum-qa-be/internal/model"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type CurriculumChunkMapper struct{}

func NewCurriculumChunkMapper() *CurriculumChunkMapper {
	return &CurriculumChunkMapper{}
}

func (m *CurriculumChunkMapper) ToEntity(c *model.CurriculumChunk) *entity.CurriculumChunk {
	if c == nil {
		return nil
	}

	var updatedAt *time.Time
	if !c.UpdatedAt.IsZero() {
		t := c.UpdatedAt
		updatedAt = &t
	}

	return &entity.CurriculumChunk{
		Id:             c.Id,
		Source:         c.Source,
		Program:        c.Program,
		Content:        c.Content,
		EmbeddingValue: c.EmbeddingValue.Slice(),
		ChunkIndex:     c.ChunkIndex,
		Metadata:       map[string]interface{}(c.Metadata),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *CurriculumChunkMapper) ToModel(c *entity.CurriculumChunk) *model.CurriculumChunk {
	if c == nil {
		return nil
	}

	var updatedAt time.Time
	if c.UpdatedAt != nil {
		updatedAt = *c.UpdatedAt
	}

	return &model.CurriculumChunk{
		Id:             c.Id,
		Source:         c.Source,
		Program:        c.Program,
		Content:        c.Content,
		EmbeddingValue: pgvector.NewVector(c.EmbeddingValue),
		ChunkIndex:     c.ChunkIndex,
		Metadata:       datatypes.JSONMap(c.Metadata),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *CurriculumChunkMapper) ToEntities(chunks []*model.CurriculumChunk) []*entity.CurriculumChunk {
	entities := make([]*entity.CurriculumChunk, len(chunks))
	for i, c := range chunks {
		entities[i] = m.ToEntity(c)
	}
	return entities
}
