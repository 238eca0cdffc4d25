// Package ingest loads curriculum documents into the chunk store
package ingest

import (
	"context"
	"fmt"
	"path"
	"strings"

	"curriculum-qa-be/internal/entity"
	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/repository/specification"
	"curriculum-qa-be/internal/repository/unitofwork"
	"curriculum-qa-be/pkg/catalog"
	"curriculum-qa-be/pkg/embedding"

	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

type Ingester struct {
	embedder embedding.EmbeddingProvider
	uow      unitofwork.RepositoryFactory
	catalog  *catalog.Catalog
	splitter Splitter
	workers  int
	logger   logger.ILogger
}

func NewIngester(embedder embedding.EmbeddingProvider, uow unitofwork.RepositoryFactory, c *catalog.Catalog, splitter Splitter, workers int, log logger.ILogger) *Ingester {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Ingester{
		embedder: embedder,
		uow:      uow,
		catalog:  c,
		splitter: splitter,
		workers:  workers,
		logger:   log,
	}
}

// SourceName maps a file name onto the catalog document it represents, so
// "cloud-engineering-syllabus.md" is stored as the catalog's PDF name.
func (i *Ingester) SourceName(fileName string) string {
	for _, doc := range i.catalog.AllDocuments() {
		if catalog.SameDocument(fileName, doc) {
			return doc
		}
	}
	for _, doc := range i.catalog.UniversalDocuments() {
		if catalog.SameDocument(fileName, doc) {
			return doc
		}
	}
	return path.Base(fileName)
}

// IngestDocument replaces every stored chunk of source with freshly embedded
// chunks of text. It returns the number of chunks written.
func (i *Ingester) IngestDocument(ctx context.Context, source, text string) (int, error) {
	parts := i.splitter.Split(text)
	if len(parts) == 0 {
		return 0, fmt.Errorf("ingest %s: document is empty", source)
	}
	program, _ := i.catalog.ProgramOf(source)

	chunks := make([]*entity.CurriculumChunk, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for idx, part := range parts {
		g.Go(func() error {
			vec, err := i.embedder.Embed(gctx, part)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", idx, err)
			}
			chunks[idx] = &entity.CurriculumChunk{
				Source:         source,
				Program:        program,
				Content:        part,
				EmbeddingValue: vec,
				ChunkIndex:     idx,
				Metadata: map[string]interface{}{
					"universal": i.catalog.IsUniversal(source),
					"runes":     len([]rune(part)),
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("ingest %s: %w", source, err)
	}

	if err := i.replace(ctx, source, chunks); err != nil {
		return 0, fmt.Errorf("ingest %s: %w", source, err)
	}

	i.logger.Info("Ingest", "Document ingested", map[string]interface{}{
		"source":  source,
		"program": program,
		"chunks":  len(chunks),
		"summary": strings.TrimSpace(firstLine(text)),
	})
	return len(chunks), nil
}

// replace swaps the stored chunks of source in one transaction
func (i *Ingester) replace(ctx context.Context, source string, chunks []*entity.CurriculumChunk) error {
	uow := i.uow.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = uow.Rollback()
			panic(r)
		}
	}()

	repo := uow.ChunkRepository()
	if err := repo.DeleteBySource(ctx, source); err != nil {
		_ = uow.Rollback()
		return fmt.Errorf("clear old chunks: %w", err)
	}
	if err := repo.CreateBulk(ctx, chunks); err != nil {
		_ = uow.Rollback()
		return fmt.Errorf("store chunks: %w", err)
	}
	return uow.Commit()
}

// Inventory counts the stored chunks of every catalog document
func (i *Ingester) Inventory(ctx context.Context) (map[string]int64, error) {
	repo := i.uow.NewUnitOfWork(ctx).ChunkRepository()
	counts := make(map[string]int64)
	for _, doc := range i.catalog.AllDocuments() {
		n, err := repo.Count(ctx, specification.BySources{Sources: []string{doc}})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", doc, err)
		}
		counts[doc] = n
	}
	return counts, nil
}

// Chunks returns the stored chunks of one document in order
func (i *Ingester) Chunks(ctx context.Context, source string) ([]*entity.CurriculumChunk, error) {
	return i.uow.NewUnitOfWork(ctx).ChunkRepository().FindAll(ctx, specification.BySources{Sources: []string{source}})
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if r := []rune(line); len(r) > 80 {
		return string(r[:80])
	}
	return line
}
