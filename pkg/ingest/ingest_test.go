package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"curriculum-qa-be/internal/entity"
	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/repository/contract"
	"curriculum-qa-be/internal/repository/specification"
	"curriculum-qa-be/internal/repository/unitofwork"
	"curriculum-qa-be/pkg/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterPacksParagraphs(t *testing.T) {
	s := Splitter{Size: 30, Overlap: 5}

	chunks := s.Split("Week 1: Linux.\n\nWeek 2: AWS.\r\n\r\nWeek 3: Terraform and modules.")
	assert.Equal(t, []string{"Week 1: Linux.\n\nWeek 2: AWS.", "Week 3: Terraform and modules."}, chunks)
}

func TestSplitterWindowsLongParagraphs(t *testing.T) {
	s := Splitter{Size: 10, Overlap: 4}
	chunks := s.Split(strings.Repeat("a", 22))

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[2], 10)
	assert.Empty(t, s.Split("  \n\n  "))
}

type fakeEmbedder struct {
	fail string
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail != "" && strings.Contains(text, f.fail) {
		return nil, errors.New("embedding backend down")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (fakeEmbedder) Dimensions() int { return 2 }

type fakeRepo struct {
	mu      sync.Mutex
	deleted []string
	stored  []*entity.CurriculumChunk
	failing bool

	commits   int
	rollbacks int
}

// fakeRepo doubles as its own unit of work
func (r *fakeRepo) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork { return r }

func (r *fakeRepo) Begin(ctx context.Context) error { return nil }

func (r *fakeRepo) Commit() error {
	r.commits++
	return nil
}

func (r *fakeRepo) Rollback() error {
	r.rollbacks++
	return nil
}

func (r *fakeRepo) ChunkRepository() contract.ChunkRepository { return r }

func (r *fakeRepo) CreateBulk(ctx context.Context, chunks []*entity.CurriculumChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("disk full")
	}
	r.stored = append(r.stored, chunks...)
	return nil
}

func (r *fakeRepo) DeleteBySource(ctx context.Context, source string) error {
	r.deleted = append(r.deleted, source)
	return nil
}

func (r *fakeRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.CurriculumChunk, error) {
	return r.stored, nil
}

func (r *fakeRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var n int64
	for _, spec := range specs {
		bySources, ok := spec.(specification.BySources)
		if !ok {
			continue
		}
		for _, c := range r.stored {
			for _, src := range bySources.Sources {
				if c.Source == src {
					n++
				}
			}
		}
	}
	return n, nil
}

func (r *fakeRepo) SearchSimilarWithScore(ctx context.Context, embedding []float32, limit int, sources []string, threshold float64) ([]*contract.ScoredChunk, error) {
	return nil, nil
}

func newIngester(t *testing.T, e fakeEmbedder, repo *fakeRepo) *Ingester {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return NewIngester(e, repo, c, Splitter{Size: 40, Overlap: 5}, 2, logger.NewNopLogger())
}

func TestIngestDocument(t *testing.T) {
	repo := &fakeRepo{}
	ing := newIngester(t, fakeEmbedder{}, repo)

	source := ing.SourceName("docs/Cloud-Engineering-Syllabus.md")
	assert.Equal(t, "cloud-engineering-syllabus.pdf", source)

	n, err := ing.IngestDocument(context.Background(), source, "Week 1 covers Linux basics.\n\nWeek 2 covers AWS networking.")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{"cloud-engineering-syllabus.pdf"}, repo.deleted)
	assert.Equal(t, 1, repo.commits)
	require.Len(t, repo.stored, 2)
	for i, c := range repo.stored {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "cloud-engineering", c.Program)
		assert.Equal(t, float32(len(c.Content)), c.EmbeddingValue[0])
	}
}

func TestIngestKeepsStoreOnEmbeddingFailure(t *testing.T) {
	repo := &fakeRepo{}
	ing := newIngester(t, fakeEmbedder{fail: "AWS"}, repo)

	_, err := ing.IngestDocument(context.Background(), "cloud-engineering-labs.pdf", "Lab 1 uses Linux.\n\nLab 2 deploys to AWS regions.")
	assert.ErrorContains(t, err, "embedding backend down")
	assert.Empty(t, repo.deleted)
	assert.Empty(t, repo.stored)
	assert.Zero(t, repo.commits)
}

func TestIngestRollsBackFailedWrite(t *testing.T) {
	repo := &fakeRepo{failing: true}
	ing := newIngester(t, fakeEmbedder{}, repo)

	_, err := ing.IngestDocument(context.Background(), "data-science-syllabus.pdf", "Module 1 covers SQL.")
	assert.ErrorContains(t, err, "store chunks")
	assert.Equal(t, 1, repo.rollbacks)
	assert.Zero(t, repo.commits)
}

func TestInventoryCountsCatalogDocuments(t *testing.T) {
	repo := &fakeRepo{}
	ing := newIngester(t, fakeEmbedder{}, repo)

	_, err := ing.IngestDocument(context.Background(), "student-handbook.pdf", "Attendance is mandatory.")
	require.NoError(t, err)

	counts, err := ing.Inventory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["student-handbook.pdf"])
	assert.Equal(t, int64(0), counts["cloud-engineering-syllabus.pdf"])
}

func TestSourceNameFallsBackToFileName(t *testing.T) {
	ing := newIngester(t, fakeEmbedder{}, &fakeRepo{})
	assert.Equal(t, "student-handbook.pdf", ing.SourceName("Student-Handbook.txt"))
	assert.Equal(t, "notes.txt", ing.SourceName("/tmp/notes.txt"))

	_, err := ing.IngestDocument(context.Background(), "notes.txt", "\n\n")
	assert.Error(t, err)
}
