package entity

import (
	"time"

	"github.com/google/uuid"
)

// CurriculumChunk is one embedded slice of a curriculum document
type CurriculumChunk struct {
	Id             uuid.UUID
	Source         string
	Program        string
	Content        string
	EmbeddingValue []float32
	ChunkIndex     int
	Metadata       map[string]interface{}
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}
