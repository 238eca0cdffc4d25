// Package relevance scores every retrieved chunk against the question on a
// bounded worker pool and keeps the ones above the intent's threshold.
package relevance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/catalog"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/state"

	"github.com/alitto/pond/v2"
)

// FailedScore is assigned to a chunk whose assessment failed. Such chunks are kept.
const FailedScore = 0.5

const (
	Reads  = state.FieldQuery | state.FieldEnhancedQuery | state.FieldQueryIntent | state.FieldRetrievedDocs
	Writes = state.FieldFilteredDocs | state.FieldRelevanceScores | state.FieldRejectionReasons
)

type Config struct {
	// Workers caps concurrent assessments per stage run
	Workers int
	// Timeout bounds each individual assessment call
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Workers: 4, Timeout: 15 * time.Second}
}

type assessment struct {
	index  int
	score  float64
	reason string
	failed bool
}

type scoreResponse struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

type Assessor struct {
	llm     llm.LLMProvider
	catalog *catalog.Catalog
	policy  *policy.Table
	config  Config
	logger  logger.ILogger
}

func NewAssessor(provider llm.LLMProvider, c *catalog.Catalog, p *policy.Table, config Config, log logger.ILogger) *Assessor {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	return &Assessor{llm: provider, catalog: c, policy: p, config: config, logger: log}
}

func (a *Assessor) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	docs := s.RetrievedDocs
	if len(docs) == 0 {
		return state.NewUpdate().
			SetFilteredDocs([]state.Document{}).
			SetRelevanceScores([]float64{}).
			SetRejectionReasons([]string{}), nil
	}

	results, err := a.assessAll(ctx, s, docs)
	if err != nil {
		return nil, err
	}

	p := a.policy.For(s.QueryIntent)
	var (
		kept     []state.Document
		scores   []float64
		rejected []string
		failures int
	)
	for _, r := range results {
		doc := docs[r.index]
		forced := p.ForceUniversal && a.catalog.IsUniversal(doc.Source)
		switch {
		case r.failed:
			failures++
			kept, scores = append(kept, doc), append(scores, r.score)
		case r.score >= p.RelevanceThreshold || forced:
			kept, scores = append(kept, doc), append(scores, r.score)
		default:
			rejected = append(rejected, fmt.Sprintf("%s: %s (score %.2f)", doc.Source, r.reason, r.score))
		}
	}

	fallback := len(kept) == 0
	if fallback {
		kept, scores = topByRetrievalScore(docs, results, a.policy.RelevanceFallbackTopN)
	}

	a.logger.Info("Relevance", "Relevance assessment complete", map[string]interface{}{
		"assessed":  len(docs),
		"kept":      len(kept),
		"failures":  failures,
		"threshold": p.RelevanceThreshold,
		"fallback":  fallback,
	})

	return state.NewUpdate().
		SetFilteredDocs(kept).
		SetRelevanceScores(scores).
		SetRejectionReasons(rejected), nil
}

// assessAll scores docs concurrently and returns the results in chunk order
func (a *Assessor) assessAll(ctx context.Context, s state.PipelineState, docs []state.Document) ([]assessment, error) {
	workers := min(a.config.Workers, len(docs))
	pool := pond.NewResultPool[assessment](workers)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for i, doc := range docs {
		group.Submit(func() assessment {
			return a.assess(ctx, s, i, doc)
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("relevance assessment: %w", err)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].index < results[j].index })
	return results, nil
}

func (a *Assessor) assess(ctx context.Context, s state.PipelineState, index int, doc state.Document) assessment {
	p := prompt.NewBuilder().
		Section("question", s.Query).
		Section("search_query", s.SearchQuery()).
		Section("excerpt", prompt.Evidence([]state.Document{doc})).
		String()

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.config.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.config.Timeout)
	}
	defer cancel()

	raw, err := a.llm.Generate(callCtx, p, llm.WithSystem(prompt.Relevance), llm.WithJSONResponse(), llm.WithTemperature(0))
	var resp scoreResponse
	if err == nil {
		err = prompt.Decode(raw, &resp)
	}
	if err == nil && resp.Score == nil {
		err = fmt.Errorf("missing score")
	}
	if err != nil {
		a.logger.Warn("Relevance", "Assessment failed, keeping chunk", map[string]interface{}{
			"index":  index,
			"source": doc.Source,
			"error":  err.Error(),
		})
		return assessment{index: index, score: FailedScore, failed: true}
	}

	score := *resp.Score
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	return assessment{index: index, score: score, reason: resp.Reason}
}

// topByRetrievalScore keeps the n best chunks by retrieval score, in chunk order
func topByRetrievalScore(docs []state.Document, results []assessment, n int) ([]state.Document, []float64) {
	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return docs[order[i]].Score > docs[order[j]].Score })
	if n > len(order) {
		n = len(order)
	}
	top := append([]int(nil), order[:n]...)
	sort.Ints(top)

	kept := make([]state.Document, 0, n)
	scores := make([]float64, 0, n)
	for _, i := range top {
		kept = append(kept, docs[i])
		scores = append(scores, results[i].score)
	}
	return kept, scores
}

// Degrade keeps the top chunks by retrieval score at medium confidence
func (a *Assessor) Degrade(s state.PipelineState, _ error) *state.Update {
	results := make([]assessment, len(s.RetrievedDocs))
	for i := range results {
		results[i] = assessment{index: i, score: FailedScore}
	}
	kept, scores := topByRetrievalScore(s.RetrievedDocs, results, a.policy.RelevanceFallbackTopN)
	return state.NewUpdate().
		SetFilteredDocs(kept).
		SetRelevanceScores(scores).
		SetRejectionReasons([]string{})
}
