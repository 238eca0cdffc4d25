// Package refine decides what happens to a verified answer and, when it is
// rejected with iterations left, picks the strategy for the next attempt.
package refine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/state"
)

// Decision is the outcome of the acceptance check after verification
type Decision int

const (
	Finalize Decision = iota
	Refine
	GiveUp
)

func (d Decision) String() string {
	switch d {
	case Finalize:
		return "finalize"
	case Refine:
		return "refine"
	default:
		return "fallback"
	}
}

// Accept reports whether the verified answer can be published
func Accept(s state.PipelineState, p *policy.Table) bool {
	return !s.HasCriticalViolations &&
		s.IsGrounded &&
		s.FaithfulnessScore >= p.For(s.QueryIntent).FaithfulnessThreshold &&
		s.EvidenceSufficient
}

// Decide is the transition rule out of verification. Termination rests on
// iteration_count alone, never on the score converging.
func Decide(s state.PipelineState, p *policy.Table) Decision {
	if Accept(s, p) {
		return Finalize
	}
	if s.IterationCount < p.For(s.QueryIntent).MaxIterations {
		return Refine
	}
	return GiveUp
}

const (
	Reads = state.FieldQueryIntent | state.FieldDetectedPrograms | state.FieldIterationCount | state.FieldFilteredDocs |
		state.FieldFaithfulnessScore | state.FieldIsGrounded | state.FieldHasCriticalViolations |
		state.FieldViolations | state.FieldEvidenceSufficient
	Writes = state.FieldIterationCount | state.FieldRefinementStrategy

	// MayRead: comparison questions skip coverage classification, and the
	// first refinement has no previous strategy
	MayRead = state.FieldIsCoverageQuestion | state.FieldRefinementStrategy
)

// Signature summarises why an answer failed
type Signature struct {
	Intent             state.Intent   `json:"intent"`
	Faithfulness       float64        `json:"faithfulness_score"`
	Grounded           bool           `json:"is_grounded"`
	Critical           bool           `json:"has_critical_violations"`
	ViolationKinds     []string       `json:"violation_kinds"`
	EvidenceSufficient bool           `json:"evidence_sufficient"`
	EvidenceCount      int            `json:"evidence_count"`
	ProgramsDetected   int            `json:"programs_detected"`
	IsCoverage         bool           `json:"is_coverage_question"`
	Previous           state.Strategy `json:"previous_strategy,omitempty"`
	Iteration          int            `json:"iteration"`
}

func signatureOf(s state.PipelineState) Signature {
	kinds := []string{}
	seen := map[string]bool{}
	for _, v := range s.Violations {
		if v.Kind != "" && !seen[v.Kind] {
			seen[v.Kind] = true
			kinds = append(kinds, v.Kind)
		}
	}
	return Signature{
		Intent:             s.QueryIntent,
		Faithfulness:       s.FaithfulnessScore,
		Grounded:           s.IsGrounded,
		Critical:           s.HasCriticalViolations,
		ViolationKinds:     kinds,
		EvidenceSufficient: s.EvidenceSufficient,
		EvidenceCount:      len(s.FilteredDocs),
		ProgramsDetected:   len(s.DetectedPrograms),
		IsCoverage:         s.IsCoverageQuestion,
		Previous:           s.RefinementStrategy,
		Iteration:          s.IterationCount,
	}
}

// Heuristic maps a failure signature to a strategy without a model call
func Heuristic(sig Signature) state.Strategy {
	switch {
	case sig.IsCoverage && sig.Intent != state.IntentComparison && sig.Previous != state.StrategySwitchToCoveragePath:
		return state.StrategySwitchToCoveragePath
	case !sig.EvidenceSufficient && sig.Previous != state.StrategyExpandChunks:
		return state.StrategyExpandChunks
	case !sig.EvidenceSufficient && sig.ProgramsDetected > 0 && sig.Previous != state.StrategyRelaxNamespaceFilter:
		return state.StrategyRelaxNamespaceFilter
	case sig.Previous != state.StrategyEnhanceQueryKeywords:
		return state.StrategyEnhanceQueryKeywords
	default:
		return state.StrategyExpandChunks
	}
}

type refineResponse struct {
	Strategy string `json:"strategy"`
}

// Controller is the refine stage
type Controller struct {
	llm     llm.LLMProvider
	logger  logger.ILogger
	timeout time.Duration
}

// NewController builds the refine stage. provider may be nil to use the heuristic only.
func NewController(provider llm.LLMProvider, log logger.ILogger, timeout time.Duration) *Controller {
	return &Controller{llm: provider, logger: log, timeout: timeout}
}

func (c *Controller) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	sig := signatureOf(s)
	strategy, source := c.classify(ctx, sig)

	c.logger.Info("Refine", "Refinement strategy selected", map[string]interface{}{
		"iteration":    s.IterationCount + 1,
		"strategy":     strategy,
		"source":       source,
		"faithfulness": sig.Faithfulness,
		"violations":   sig.ViolationKinds,
	})

	return state.NewUpdate().
		SetIterationCount(s.IterationCount + 1).
		SetRefinementStrategy(strategy), nil
}

func (c *Controller) classify(ctx context.Context, sig Signature) (state.Strategy, string) {
	if c.llm == nil {
		return Heuristic(sig), "heuristic"
	}

	raw, _ := json.Marshal(sig)
	p := prompt.NewBuilder().Section("failure_signature", string(raw)).String()

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	response, err := c.llm.Generate(callCtx, p, llm.WithSystem(prompt.Refine), llm.WithJSONResponse(), llm.WithTemperature(0))
	if err != nil {
		c.logger.Warn("Refine", "Strategy classification failed, using heuristic", map[string]interface{}{
			"error": err.Error(),
		})
		return Heuristic(sig), "heuristic"
	}

	var resp refineResponse
	if err := prompt.Decode(response, &resp); err != nil {
		return Heuristic(sig), "heuristic"
	}
	label := strings.ToUpper(strings.TrimSpace(resp.Strategy))
	strategy := state.ParseStrategy(label)
	if string(strategy) != label {
		return Heuristic(sig), "heuristic"
	}
	// comparison answers never take the coverage shortcut
	if strategy == state.StrategySwitchToCoveragePath && sig.Intent == state.IntentComparison {
		return Heuristic(sig), "heuristic"
	}
	return strategy, "model"
}

// Degrade still consumes an iteration and gives up on the next attempt
func Degrade(s state.PipelineState, _ error) *state.Update {
	return state.NewUpdate().
		SetIterationCount(s.IterationCount + 1).
		SetRefinementStrategy(state.StrategyFunFallback)
}

// Counter is the loop guard of the refine stage
func Counter(s state.PipelineState) int {
	return s.IterationCount
}
