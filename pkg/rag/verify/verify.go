// Package verify audits a generated answer against the evidence it was
// generated from.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/state"
)

const (
	Reads  = state.FieldQuery | state.FieldQueryIntent | state.FieldFilteredDocs | state.FieldGeneratedResponse
	Writes = state.FieldFaithfulnessScore | state.FieldIsGrounded | state.FieldHasCriticalViolations | state.FieldViolations
)

type verifyResponse struct {
	FaithfulnessScore *float64 `json:"faithfulness_score"`
	IsGrounded        bool     `json:"is_grounded"`
	Violations        []struct {
		Claim    string `json:"claim"`
		Kind     string `json:"kind"`
		Severity string `json:"severity"`
	} `json:"violations"`
}

type Verifier struct {
	llm     llm.LLMProvider
	policy  *policy.Table
	logger  logger.ILogger
	timeout time.Duration
}

func New(provider llm.LLMProvider, p *policy.Table, log logger.ILogger, timeout time.Duration) *Verifier {
	return &Verifier{llm: provider, policy: p, logger: log, timeout: timeout}
}

func (v *Verifier) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	answer := strings.TrimSpace(s.GeneratedResponse)
	if answer == "" {
		return ungrounded(), nil
	}

	p := prompt.NewBuilder().
		Section("evidence", prompt.Evidence(s.FilteredDocs)).
		Section("question", s.Query).
		Section("answer", answer).
		String()

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if v.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, v.timeout)
	}
	defer cancel()

	raw, err := v.llm.Generate(callCtx, p, llm.WithSystem(prompt.Verify), llm.WithJSONResponse(), llm.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("verify answer: %w", err)
	}

	var resp verifyResponse
	if err := prompt.Decode(raw, &resp); err != nil || resp.FaithfulnessScore == nil {
		v.logger.Warn("Verify", "Unparseable verification, treating answer as ungrounded", map[string]interface{}{
			"response": truncate(raw, 200),
		})
		return ungrounded(), nil
	}

	violations := make([]state.Violation, 0, len(resp.Violations))
	critical := false
	for _, rv := range resp.Violations {
		vi := state.Violation{
			Claim:    strings.TrimSpace(rv.Claim),
			Kind:     strings.ToLower(strings.TrimSpace(rv.Kind)),
			Severity: state.Severity(strings.ToLower(strings.TrimSpace(rv.Severity))),
		}
		if v.policy.Blocks(s.QueryIntent, vi) {
			critical = true
		}
		violations = append(violations, vi)
	}

	v.logger.Info("Verify", "Answer verified", map[string]interface{}{
		"faithfulness": *resp.FaithfulnessScore,
		"grounded":     resp.IsGrounded,
		"violations":   len(violations),
		"critical":     critical,
		"intent":       s.QueryIntent,
	})

	return state.NewUpdate().
		SetFaithfulnessScore(*resp.FaithfulnessScore).
		SetIsGrounded(resp.IsGrounded).
		SetHasCriticalViolations(critical).
		SetViolations(violations), nil
}

// Degrade is the least trusting verdict
func Degrade(_ state.PipelineState, _ error) *state.Update {
	return ungrounded()
}

func ungrounded() *state.Update {
	return state.NewUpdate().
		SetFaithfulnessScore(0).
		SetIsGrounded(false).
		SetHasCriticalViolations(false).
		SetViolations([]state.Violation{})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
