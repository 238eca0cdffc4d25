// Package understanding turns the raw question into an enhanced search query,
// an intent and the programs it is about. Enhancement and detection run
// concurrently; detection only ever looks at the raw question.
package understanding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/graph"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/state"
)

const (
	historyTurns = 4

	// fallbackAmbiguity is used whenever enhancement produced nothing usable
	fallbackAmbiguity = 0.5
)

// EnhanceWrites are the fields the enhancement branch produces
const EnhanceWrites = state.FieldEnhancedQuery | state.FieldQueryIntent | state.FieldAmbiguityScore

type enhanceResponse struct {
	EnhancedQuery  string   `json:"enhanced_query"`
	Intent         string   `json:"intent"`
	AmbiguityScore *float64 `json:"ambiguity_score"`
}

type Enhancer struct {
	llm     llm.LLMProvider
	logger  logger.ILogger
	timeout time.Duration
}

func NewEnhancer(provider llm.LLMProvider, log logger.ILogger, timeout time.Duration) *Enhancer {
	return &Enhancer{llm: provider, logger: log, timeout: timeout}
}

// Run rewrites the query and classifies its intent. Any failure is returned
// so the fan-out substitutes EnhanceFallback.
func (e *Enhancer) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	p := prompt.NewBuilder().
		Section("conversation", prompt.History(s.ConversationHistory, historyTurns)).
		Section("question", s.Query).
		String()

	callCtx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.llm.Generate(callCtx, p, llm.WithSystem(prompt.Enhance), llm.WithJSONResponse(), llm.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("enhance query: %w", err)
	}

	var resp enhanceResponse
	if err := prompt.Decode(raw, &resp); err != nil {
		return nil, err
	}

	enhanced := strings.TrimSpace(resp.EnhancedQuery)
	if enhanced == "" {
		enhanced = s.Query
	}
	ambiguity := fallbackAmbiguity
	if resp.AmbiguityScore != nil {
		ambiguity = *resp.AmbiguityScore
	}
	intent := state.ParseIntent(resp.Intent)

	e.logger.Debug("Understanding", "Query enhanced", map[string]interface{}{
		"intent":    intent,
		"ambiguity": ambiguity,
	})

	return state.NewUpdate().
		SetEnhancedQuery(enhanced).
		SetQueryIntent(intent).
		SetAmbiguityScore(ambiguity), nil
}

// EnhanceFallback keeps the raw query with the most generic intent
func EnhanceFallback(s state.PipelineState, _ error) *state.Update {
	return state.NewUpdate().
		SetEnhancedQuery(s.Query).
		SetQueryIntent(state.IntentGeneralInfo).
		SetAmbiguityScore(fallbackAmbiguity)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Reenhancer rewrites enhanced_query with extra keywords during refinement
type Reenhancer struct {
	llm     llm.LLMProvider
	logger  logger.ILogger
	timeout time.Duration
}

func NewReenhancer(provider llm.LLMProvider, log logger.ILogger, timeout time.Duration) *Reenhancer {
	return &Reenhancer{llm: provider, logger: log, timeout: timeout}
}

func (r *Reenhancer) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	var issues strings.Builder
	for _, v := range s.Violations {
		fmt.Fprintf(&issues, "- %s (%s): %s\n", v.Kind, v.Severity, v.Claim)
	}
	for _, reason := range s.RejectionReasons {
		fmt.Fprintf(&issues, "- rejected: %s\n", reason)
	}

	p := prompt.NewBuilder().
		Section("question", s.Query).
		Section("previous_query", s.SearchQuery()).
		Section("issues", issues.String()).
		String()

	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.llm.Generate(callCtx, p, llm.WithSystem(prompt.Reenhance), llm.WithJSONResponse(), llm.WithTemperature(0.2))
	if err != nil {
		return nil, fmt.Errorf("re-enhance query: %w", err)
	}
	var resp enhanceResponse
	if err := prompt.Decode(raw, &resp); err != nil {
		return nil, err
	}
	rewritten := strings.TrimSpace(resp.EnhancedQuery)
	if rewritten == "" {
		return nil, fmt.Errorf("re-enhance query: empty rewrite")
	}

	r.logger.Info("Understanding", "Query re-enhanced", map[string]interface{}{
		"previous": s.SearchQuery(),
		"query":    rewritten,
	})
	return state.NewUpdate().SetEnhancedQuery(rewritten), nil
}

// ReenhanceDegrade keeps the current search query when rewriting fails
func ReenhanceDegrade(s state.PipelineState, _ error) *state.Update {
	return state.NewUpdate().SetEnhancedQuery(s.SearchQuery())
}

// Understand combines enhancement and detection into one concurrent stage
func Understand(e *Enhancer, d *Detector) graph.StageFunc {
	return graph.Parallel(TimingTotal,
		graph.Branch{Name: TimingEnhance, Run: e.Run, Fallback: EnhanceFallback},
		graph.Branch{Name: TimingDetect, Run: d.Run, Fallback: DetectFallback},
	)
}

// Metadata timing keys written by Understand
const (
	TimingEnhance = "understand.enhance"
	TimingDetect  = "understand.detect"
	TimingTotal   = "understand.total"
)

const (
	Reads = state.FieldQuery | state.FieldConversationHistory | state.FieldPriorPrograms | state.FieldMetadata
	// Writes is everything the Understand stage produces
	Writes = EnhanceWrites | DetectWrites | state.FieldMetadata

	ReenhanceReads  = state.FieldQuery | state.FieldEnhancedQuery | state.FieldViolations | state.FieldRejectionReasons
	ReenhanceWrites = state.FieldEnhancedQuery
)

// Degrade applies both fallbacks when the whole stage fails
func Degrade(s state.PipelineState, err error) *state.Update {
	return EnhanceFallback(s, err).Merge(DetectFallback(s, err))
}
