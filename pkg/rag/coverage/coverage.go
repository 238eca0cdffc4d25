// Package coverage answers "does program X include Y" questions. The
// classifier spots them, the verifier checks the topic against the evidence
// and the negative responder answers deterministically when it is absent.
package coverage

import (
	"context"
	"strings"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/state"
)

const (
	ClassifyReads  = state.FieldQuery | state.FieldEnhancedQuery | state.FieldQueryIntent
	ClassifyWrites = state.FieldIsCoverageQuestion | state.FieldCoverageTopic

	VerifyReads  = state.FieldQuery | state.FieldEnhancedQuery | state.FieldFilteredDocs
	VerifyWrites = state.FieldCoverageVerification

	// TopicMayRead is set when classification ran; refinement can reach
	// verification without it
	TopicMayRead = state.FieldCoverageTopic
)

type classifyResponse struct {
	IsCoverageQuestion bool   `json:"is_coverage_question"`
	Topic              string `json:"topic"`
}

type verifyResponse struct {
	IsPresent *bool  `json:"is_present"`
	Evidence  string `json:"evidence"`
}

type Classifier struct {
	llm     llm.LLMProvider
	logger  logger.ILogger
	timeout time.Duration
}

func NewClassifier(provider llm.LLMProvider, log logger.ILogger, timeout time.Duration) *Classifier {
	return &Classifier{llm: provider, logger: log, timeout: timeout}
}

// Run never fails. Comparison questions are never coverage questions, and an
// unusable model answer counts as "not a coverage question".
func (c *Classifier) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	notCoverage := state.NewUpdate().SetIsCoverageQuestion(false).SetCoverageTopic("")
	if s.QueryIntent == state.IntentComparison {
		return notCoverage, nil
	}

	p := prompt.NewBuilder().
		Section("question", s.Query).
		Section("search_query", s.SearchQuery()).
		String()

	callCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.llm.Generate(callCtx, p, llm.WithSystem(prompt.CoverageClassify), llm.WithJSONResponse(), llm.WithTemperature(0))
	if err != nil {
		c.logger.Warn("Coverage", "Coverage classification failed, treating as regular question", map[string]interface{}{
			"error": err.Error(),
		})
		return notCoverage, nil
	}

	var resp classifyResponse
	if err := prompt.Decode(raw, &resp); err != nil {
		c.logger.Warn("Coverage", "Unparseable coverage classification", map[string]interface{}{
			"error": err.Error(),
		})
		return notCoverage, nil
	}

	topic := strings.TrimSpace(resp.Topic)
	isCoverage := resp.IsCoverageQuestion && topic != ""
	if !isCoverage {
		return notCoverage, nil
	}

	c.logger.Info("Coverage", "Coverage question detected", map[string]interface{}{
		"topic": topic,
	})
	return state.NewUpdate().SetIsCoverageQuestion(true).SetCoverageTopic(topic), nil
}

func ClassifyDegrade(_ state.PipelineState, _ error) *state.Update {
	return state.NewUpdate().SetIsCoverageQuestion(false).SetCoverageTopic("")
}

type Verifier struct {
	llm     llm.LLMProvider
	logger  logger.ILogger
	timeout time.Duration
}

func NewVerifier(provider llm.LLMProvider, log logger.ILogger, timeout time.Duration) *Verifier {
	return &Verifier{llm: provider, logger: log, timeout: timeout}
}

// Topic is the coverage topic when one was classified, else the search query
func Topic(s state.PipelineState) string {
	if t := strings.TrimSpace(s.CoverageTopic); t != "" {
		return t
	}
	return s.SearchQuery()
}

// Run checks whether the topic is explicitly present in the filtered evidence.
// With no evidence at all the topic is absent. A failed check reports the
// topic as present so the answer still goes through generation and
// faithfulness verification instead of a confident "not included".
func (v *Verifier) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	topic := Topic(s)
	if len(s.FilteredDocs) == 0 {
		return state.NewUpdate().SetCoverageVerification(state.CoverageVerification{Topic: topic}), nil
	}

	p := prompt.NewBuilder().
		Section("topic", topic).
		Section("question", s.Query).
		Section("excerpts", prompt.Evidence(s.FilteredDocs)).
		String()

	callCtx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()

	raw, err := v.llm.Generate(callCtx, p, llm.WithSystem(prompt.CoverageVerify), llm.WithJSONResponse(), llm.WithTemperature(0))
	if err != nil {
		return nil, err
	}
	var resp verifyResponse
	if err := prompt.Decode(raw, &resp); err != nil {
		return nil, err
	}
	if resp.IsPresent == nil {
		return nil, errMissingVerdict
	}

	v.logger.Info("Coverage", "Coverage verified", map[string]interface{}{
		"topic":      topic,
		"is_present": *resp.IsPresent,
	})
	return state.NewUpdate().SetCoverageVerification(state.CoverageVerification{
		IsPresent: *resp.IsPresent,
		Topic:     topic,
		Evidence:  strings.TrimSpace(resp.Evidence),
	}), nil
}

// VerifyDegrade assumes the topic is present
func VerifyDegrade(s state.PipelineState, _ error) *state.Update {
	return state.NewUpdate().SetCoverageVerification(state.CoverageVerification{
		IsPresent: true,
		Topic:     Topic(s),
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
