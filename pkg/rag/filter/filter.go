// Package filter narrows assessed chunks to the detected programs' documents,
// signals a one-time refetch when program evidence is too thin, and optionally
// runs a model pass that drops individual off-topic chunks.
package filter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/catalog"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/state"
)

const (
	Reads  = state.FieldQuery | state.FieldDetectedPrograms | state.FieldFilteredDocs | state.FieldRelevanceScores | state.FieldRejectionReasons | state.FieldMetadata
	Writes = state.FieldFilteredDocs | state.FieldRelevanceScores | state.FieldRejectionReasons | state.FieldMetadata

	MayRead = state.FieldRefinementStrategy
)

type Filter struct {
	catalog *catalog.Catalog
	policy  *policy.Table
	llm     llm.LLMProvider
	logger  logger.ILogger
	timeout time.Duration
}

// New builds the filter stage. provider may be nil to skip the fine-grained pass.
func New(c *catalog.Catalog, p *policy.Table, provider llm.LLMProvider, log logger.ILogger, timeout time.Duration) *Filter {
	return &Filter{catalog: c, policy: p, llm: provider, logger: log, timeout: timeout}
}

func (f *Filter) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	md := s.Metadata.Clone()
	md.NeedsRefetch = false
	reasons := append([]string(nil), s.RejectionReasons...)

	relaxed := s.RefinementStrategy == state.StrategyRelaxNamespaceFilter
	var keep []int
	programSpecific := 0
	for i, doc := range s.FilteredDocs {
		switch {
		case len(s.DetectedPrograms) == 0 || relaxed:
			keep = append(keep, i)
		case f.catalog.IsUniversal(doc.Source):
			keep = append(keep, i)
		case f.catalog.BelongsTo(doc.Source, s.DetectedPrograms):
			keep = append(keep, i)
			programSpecific++
		default:
			reasons = append(reasons, fmt.Sprintf("%s: not a document of %s", doc.Source, strings.Join(s.DetectedPrograms, ", ")))
		}
	}

	if len(s.DetectedPrograms) > 0 && !relaxed &&
		programSpecific < f.policy.MinProgramDocs && md.RefetchCount < f.policy.MaxRefetches {
		md.NeedsRefetch = true
		f.logger.Info("Filter", "Too little program evidence, requesting refetch", map[string]interface{}{
			"programs":         s.DetectedPrograms,
			"program_specific": programSpecific,
			"minimum":          f.policy.MinProgramDocs,
		})
		docs, scores := pick(s, keep)
		return state.NewUpdate().
			SetFilteredDocs(docs).
			SetRelevanceScores(scores).
			SetRejectionReasons(reasons).
			SetMetadata(md), nil
	}

	if f.llm != nil && len(keep) > f.policy.FineFilterMinKeep {
		keep = f.fineFilter(ctx, s, keep)
	}

	docs, scores := pick(s, keep)
	f.logger.Info("Filter", "Document filtering complete", map[string]interface{}{
		"input":            len(s.FilteredDocs),
		"kept":             len(docs),
		"program_specific": programSpecific,
	})
	return state.NewUpdate().
		SetFilteredDocs(docs).
		SetRelevanceScores(scores).
		SetRejectionReasons(reasons).
		SetMetadata(md), nil
}

// fineFilter asks the model which candidates to keep. When it keeps fewer
// than the policy minimum, the best source-filtered chunks are restored.
func (f *Filter) fineFilter(ctx context.Context, s state.PipelineState, candidates []int) []int {
	docs, _ := pick(s, candidates)
	p := prompt.NewBuilder().
		Section("question", s.Query).
		Section("excerpts", prompt.Evidence(docs)).
		String()

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if f.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
	}
	defer cancel()

	response, err := f.llm.Generate(callCtx, p, llm.WithSystem(prompt.FineFilter), llm.WithTemperature(0))
	if err != nil {
		f.logger.Warn("Filter", "Fine filter failed, keeping source-filtered chunks", map[string]interface{}{
			"error": err.Error(),
		})
		return candidates
	}

	picked := parseIndices(response, len(candidates))
	kept := make([]int, 0, len(picked))
	for _, i := range picked {
		kept = append(kept, candidates[i])
	}

	if len(kept) < f.policy.FineFilterMinKeep {
		restored := topByRelevance(s, candidates, f.policy.RelevanceFallbackTopN)
		f.logger.Info("Filter", "Fine filter kept too little, restoring top chunks", map[string]interface{}{
			"kept":     len(kept),
			"restored": len(restored),
		})
		kept = union(kept, restored)
	}
	return kept
}

// parseIndices reads a 1-based, comma-separated index list into sorted,
// unique 0-based indices below n. "0" or "none" means nothing is relevant.
func parseIndices(response string, n int) []int {
	clean := strings.Trim(strings.TrimSpace(response), ".")
	if clean == "0" || strings.EqualFold(clean, "none") {
		return []int{}
	}

	seen := map[int]bool{}
	var out []int
	for _, part := range strings.Split(clean, ",") {
		val, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || val < 1 || val > n || seen[val-1] {
			continue
		}
		seen[val-1] = true
		out = append(out, val-1)
	}
	sort.Ints(out)
	return out
}

func topByRelevance(s state.PipelineState, candidates []int, n int) []int {
	ranked := append([]int(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return s.RelevanceScores[ranked[i]] > s.RelevanceScores[ranked[j]]
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

func union(a, b []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, i := range append(append([]int(nil), a...), b...) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// pick keeps docs and their relevance scores aligned
func pick(s state.PipelineState, idx []int) ([]state.Document, []float64) {
	docs := make([]state.Document, 0, len(idx))
	scores := make([]float64, 0, len(idx))
	for _, i := range idx {
		docs = append(docs, s.FilteredDocs[i])
		score := 0.0
		if i < len(s.RelevanceScores) {
			score = s.RelevanceScores[i]
		}
		scores = append(scores, score)
	}
	return docs, scores
}

// Degrade passes the assessed chunks through and never asks for a refetch
func Degrade(s state.PipelineState, _ error) *state.Update {
	md := s.Metadata.Clone()
	md.NeedsRefetch = false
	idx := make([]int, len(s.FilteredDocs))
	for i := range idx {
		idx[i] = i
	}
	docs, scores := pick(s, idx)
	return state.NewUpdate().
		SetFilteredDocs(docs).
		SetRelevanceScores(scores).
		SetRejectionReasons(append([]string(nil), s.RejectionReasons...)).
		SetMetadata(md)
}
