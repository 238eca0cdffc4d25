package main

import (
	"log"

	"curriculum-qa-be/internal/config"
	"curriculum-qa-be/internal/model"
	"curriculum-qa-be/pkg/database"
)

func main() {
	// 1. Load Environment Variables
	cfg := config.Load()
	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.Database.Verbose, database.DefaultPoolConfig())
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Starting chunk store migration...")

	// 3. Pre-Migration: extensions GORM AutoMigrate does not create
	log.Println("Step 1: Setting up extensions...")
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto;`).Error; err != nil {
		log.Printf("Warn: Failed to create pgcrypto: %v. Continuing...", err)
	}
	if err := database.EnsureVectorExtension(db); err != nil {
		log.Fatalf("Error: pgvector extension is required: %v", err)
	}

	// 4. AutoMigrate
	log.Println("Step 2: Running AutoMigrate...")
	chunk := &model.CurriculumChunk{}
	if err := db.AutoMigrate(chunk); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	// 5. Post-Migration: similarity index
	log.Println("Step 3: Creating vector index...")
	if err := database.EnsureCosineIndex(db, chunk.TableName(), "embedding_value"); err != nil {
		log.Printf("Warn: Failed to create HNSW index: %v", err)
	}

	log.Println("✅ Success: Database migration completed successfully via GORM.")
}
