// Package retrieve is the retrieval stage: it sizes and scopes one search
// call from the intent policy, the refetch signal and the refinement strategy.
package retrieve

import (
	"context"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/state"
	"curriculum-qa-be/pkg/retrieval"
)

const errNoResults = "no results"

const (
	Reads  = state.FieldQuery | state.FieldEnhancedQuery | state.FieldQueryIntent | state.FieldNamespaceFilter | state.FieldMetadata
	Writes = state.FieldRetrievedDocs | state.FieldRetrievalStats | state.FieldMetadata

	// MayRead: the strategy only exists once refinement has run
	MayRead = state.FieldRefinementStrategy
)

type Stage struct {
	retriever retrieval.Retriever
	policy    *policy.Table
	logger    logger.ILogger
	timeout   time.Duration
}

func New(r retrieval.Retriever, p *policy.Table, log logger.ILogger, timeout time.Duration) *Stage {
	return &Stage{retriever: r, policy: p, logger: log, timeout: timeout}
}

// Run never fails: a retriever error or an empty result is recorded in
// retrieval_stats and leaves retrieved_docs empty.
func (st *Stage) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	md := consumeRefetch(s.Metadata, st.policy.MaxRefetches)

	topK := st.policy.TopK(s.QueryIntent, md.RefetchCount, s.RefinementStrategy, st.retriever.MaxResults())
	req := retrieval.Request{
		Query:      s.SearchQuery(),
		Sources:    sources(s),
		MaxResults: topK,
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if st.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, st.timeout)
	}
	defer cancel()

	stats := state.RetrievalStats{TopK: topK}
	docs := []state.Document{}

	chunks, err := st.retriever.Search(callCtx, req)
	switch {
	case err != nil:
		stats.Error = err.Error()
		st.logger.Warn("Retrieve", "Retriever failed, continuing without evidence", map[string]interface{}{
			"top_k": topK,
			"error": err.Error(),
		})
	case len(chunks) == 0:
		stats.Error = errNoResults
	default:
		for _, c := range chunks {
			docs = append(docs, state.Document{Content: c.Content, Source: c.SourceID, Score: c.Score})
		}
	}
	stats.Returned = len(docs)
	md.RetrievedDocsCount = len(docs)

	st.logger.Info("Retrieve", "Retrieval complete", map[string]interface{}{
		"top_k":         topK,
		"returned":      len(docs),
		"refetch_count": md.RefetchCount,
		"strategy":      s.RefinementStrategy,
		"filtered":      len(req.Sources) > 0,
	})

	return state.NewUpdate().
		SetRetrievedDocs(docs).
		SetRetrievalStats(stats).
		SetMetadata(md), nil
}

// Degrade records the failure and still consumes a pending refetch so the
// refetch loop cannot spin on a failing stage.
func (st *Stage) Degrade(s state.PipelineState, err error) *state.Update {
	md := consumeRefetch(s.Metadata, st.policy.MaxRefetches)
	md.RetrievedDocsCount = 0
	return state.NewUpdate().
		SetRetrievedDocs([]state.Document{}).
		SetRetrievalStats(state.RetrievalStats{Error: err.Error()}).
		SetMetadata(md)
}

// Counter is the guard value of the retrieval stage. Every legitimate
// revisit either follows a refetch signal or a refinement, so it strictly
// increases.
func Counter(s state.PipelineState) int {
	return s.IterationCount + s.Metadata.RefetchCount
}

func consumeRefetch(in state.Metadata, maxRefetches int) state.Metadata {
	md := in.Clone()
	if md.NeedsRefetch {
		md.NeedsRefetch = false
		if md.RefetchCount < maxRefetches {
			md.RefetchCount++
		}
	}
	return md
}

func sources(s state.PipelineState) []string {
	if s.RefinementStrategy == state.StrategyRelaxNamespaceFilter || s.NamespaceFilter == nil {
		return nil
	}
	return append([]string(nil), s.NamespaceFilter.Sources...)
}
