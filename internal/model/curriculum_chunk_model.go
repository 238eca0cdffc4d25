package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type CurriculumChunk struct {
	Id             uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Source         string            `gorm:"type:varchar(255);not null;index"`
	Program        string            `gorm:"type:varchar(100);index"`
	Content        string            `gorm:"type:text;not null"`
	EmbeddingValue pgvector.Vector   `gorm:"type:vector(768)"` // nomic-embed-text
	ChunkIndex     int               `gorm:"default:0"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime"`
}

func (CurriculumChunk) TableName() string {
	return "curriculum_chunks"
}
