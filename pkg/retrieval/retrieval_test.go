package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"curriculum-qa-be/internal/entity"
	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/repository/contract"
	"curriculum-qa-be/internal/repository/specification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []Chunk
	}{
		{
			name: "typed chunks drop empty content",
			raw:  []Chunk{{Content: "a", SourceID: "x.pdf", Score: 0.9}, {Content: "  "}},
			want: []Chunk{{Content: "a", SourceID: "x.pdf", Score: 0.9}},
		},
		{
			name: "langchain style documents",
			raw: []map[string]any{
				{"page_content": "labs", "metadata": map[string]any{"source": "cloud-engineering-labs.pdf"}, "score": 0.7},
			},
			want: []Chunk{{Content: "labs", SourceID: "cloud-engineering-labs.pdf", Score: 0.7}},
		},
		{
			name: "distance converts to similarity",
			raw:  []any{map[string]any{"text": "t", "source": "s.pdf", "distance": 0.25}},
			want: []Chunk{{Content: "t", SourceID: "s.pdf", Score: 0.75}},
		},
		{
			name: "envelope with matches",
			raw:  map[string]any{"matches": []any{map[string]any{"content": "c", "source_id": "d.pdf", "similarity": "0.4"}}},
			want: []Chunk{{Content: "c", SourceID: "d.pdf", Score: 0.4}},
		},
		{
			name: "json bytes",
			raw:  []byte(`{"results":[{"content":"j","document_name":"j.pdf","score":1}]}`),
			want: []Chunk{{Content: "j", SourceID: "j.pdf", Score: 1}},
		},
		{
			name: "nil is empty",
			raw:  nil,
			want: []Chunk{},
		},
		{
			name: "missing score is zero",
			raw:  []map[string]any{{"content": "x"}},
			want: []Chunk{{Content: "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRejectsUnknownShapes(t *testing.T) {
	for _, raw := range []any{42, []any{"str"}, map[string]any{"foo": 1}, []byte(`{bad`), `"just text"`} {
		_, err := Normalize(raw)
		assert.Error(t, err, "%v", raw)
	}
}

type countingRetriever struct {
	calls  atomic.Int32
	chunks []Chunk
	err    error
}

func (r *countingRetriever) Search(ctx context.Context, req Request) ([]Chunk, error) {
	r.calls.Add(1)
	return r.chunks, r.err
}

func (r *countingRetriever) MaxResults() int { return 40 }

func TestCachedRetrieverKeysOnRequest(t *testing.T) {
	next := &countingRetriever{chunks: []Chunk{{Content: "a", SourceID: "x.pdf"}}}
	c := NewCachedRetriever(next, time.Minute, 0)

	ctx := context.Background()
	req := Request{Query: "Cloud labs", Sources: []string{"b.pdf", "a.pdf"}, MaxResults: 10}

	_, err := c.Search(ctx, req)
	require.NoError(t, err)
	_, err = c.Search(ctx, Request{Query: "cloud labs ", Sources: []string{"a.pdf", "B.pdf"}, MaxResults: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.calls.Load())

	_, err = c.Search(ctx, Request{Query: "cloud labs", Sources: []string{"a.pdf", "b.pdf"}, MaxResults: 20})
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, 40, c.MaxResults())
}

func TestCachedRetrieverDoesNotCacheErrors(t *testing.T) {
	next := &countingRetriever{err: errors.New("down")}
	c := NewCachedRetriever(next, time.Minute, 0)

	_, err := c.Search(context.Background(), Request{Query: "q"})
	assert.Error(t, err)
	_, err = c.Search(context.Background(), Request{Query: "q"})
	assert.Error(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestHTTPRetrieverNormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 5, req.MaxResults)
		assert.Equal(t, []string{"a.pdf"}, req.Sources)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"documents":[{"text":"one","source":"a.pdf","score":0.8},{"text":"two","source":"a.pdf","score":0.6}]}`))
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL, "k", 5)
	chunks, err := r.Search(context.Background(), Request{Query: "q", Sources: []string{"a.pdf"}, MaxResults: 99})
	require.NoError(t, err)
	assert.Equal(t, []Chunk{{Content: "one", SourceID: "a.pdf", Score: 0.8}, {Content: "two", SourceID: "a.pdf", Score: 0.6}}, chunks)
}

func TestHTTPRetrieverEmptyQuery(t *testing.T) {
	_, err := NewHTTPRetriever("http://unused", "", 5).Search(context.Background(), Request{Query: " "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (fakeEmbedder) Dimensions() int { return 2 }

type fakeChunkRepo struct {
	gotLimit   int
	gotSources []string
}

func (f *fakeChunkRepo) CreateBulk(ctx context.Context, chunks []*entity.CurriculumChunk) error {
	return nil
}

func (f *fakeChunkRepo) DeleteBySource(ctx context.Context, source string) error { return nil }

func (f *fakeChunkRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.CurriculumChunk, error) {
	return nil, nil
}

func (f *fakeChunkRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	return 0, nil
}

func (f *fakeChunkRepo) SearchSimilarWithScore(ctx context.Context, vec []float32, limit int, sources []string, threshold float64) ([]*contract.ScoredChunk, error) {
	f.gotLimit = limit
	f.gotSources = sources
	return []*contract.ScoredChunk{
		{Chunk: &entity.CurriculumChunk{Content: "syllabus week 1", Source: "data-science-syllabus.pdf"}, Similarity: 0.82},
		nil,
	}, nil
}

func TestVectorRetrieverCapsLimit(t *testing.T) {
	repo := &fakeChunkRepo{}
	r := NewVectorRetriever(fakeEmbedder{}, repo, VectorConfig{MaxResults: 30}, logger.NewNopLogger())

	chunks, err := r.Search(context.Background(), Request{Query: "weeks", Sources: []string{"data-science-syllabus.pdf"}, MaxResults: 80})
	require.NoError(t, err)
	assert.Equal(t, 30, repo.gotLimit)
	assert.Equal(t, []string{"data-science-syllabus.pdf"}, repo.gotSources)
	assert.Equal(t, []Chunk{{Content: "syllabus week 1", SourceID: "data-science-syllabus.pdf", Score: 0.82}}, chunks)
}
