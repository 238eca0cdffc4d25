package verify

import (
	"context"
	"errors"
	"testing"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/ragtest"
	"curriculum-qa-be/pkg/rag/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generated(intent state.Intent, answer string) state.PipelineState {
	return state.New("How long is the cloud engineering program?", nil, nil).Apply(state.NewUpdate().
		SetQueryIntent(intent).
		SetFilteredDocs([]state.Document{{Content: "The program runs 16 weeks.", Source: "cloud-engineering-syllabus.pdf"}}).
		SetGeneratedResponse(answer))
}

func verdict(score float64, grounded bool, violations ...map[string]any) ragtest.Reply {
	if violations == nil {
		violations = []map[string]any{}
	}
	return ragtest.JSON(map[string]any{
		"faithfulness_score": score,
		"is_grounded":        grounded,
		"violations":         violations,
	})
}

func TestVerifierBlocking(t *testing.T) {
	wrongFigures := func(severity string) map[string]any {
		return map[string]any{"claim": "runs 12 weeks", "kind": "Wrong_Figures", "severity": severity}
	}

	tests := []struct {
		name         string
		intent       state.Intent
		reply        ragtest.Reply
		wantCritical bool
	}{
		{"clean answer", state.IntentDuration, verdict(0.95, true), false},
		{"high severity blocks default intents", state.IntentDuration, verdict(0.9, true, wrongFigures("high")), true},
		{"high severity tolerated for comparison", state.IntentComparison, verdict(0.9, true, wrongFigures("high")), false},
		{"critical blocks comparison", state.IntentComparison, verdict(0.9, true, wrongFigures("critical")), true},
		{"non-critical kind never blocks", state.IntentDuration, verdict(0.6, true, map[string]any{"claim": "x", "kind": "unsupported_claim", "severity": "critical"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := ragtest.NewLLM().On(prompt.Verify, tt.reply)
			u, err := New(stub, policy.MustDefault(), logger.NewNopLogger(), 0).Run(context.Background(), generated(tt.intent, "It runs 12 weeks."))
			require.NoError(t, err)

			v := u.View()
			assert.True(t, v.Has(Writes))
			assert.Equal(t, tt.wantCritical, v.HasCriticalViolations)
		})
	}
}

func TestVerifierParsesVerdict(t *testing.T) {
	stub := ragtest.NewLLM().On(prompt.Verify, verdict(1.4, true, map[string]any{"claim": "c", "kind": "Other", "severity": "LOW"}))
	u, err := New(stub, policy.MustDefault(), logger.NewNopLogger(), 0).Run(context.Background(), generated(state.IntentDuration, "16 weeks"))
	require.NoError(t, err)

	v := u.View()
	assert.Equal(t, 1.0, v.FaithfulnessScore)
	assert.True(t, v.IsGrounded)
	assert.Equal(t, []state.Violation{{Claim: "c", Kind: "other", Severity: state.SeverityLow}}, v.Violations)
	assert.Contains(t, stub.Prompts(prompt.Verify)[0], "The program runs 16 weeks.")
}

func TestVerifierLeastTrustingDefaults(t *testing.T) {
	t.Run("empty answer skips the model", func(t *testing.T) {
		stub := ragtest.NewLLM()
		u, err := New(stub, policy.MustDefault(), logger.NewNopLogger(), 0).Run(context.Background(), generated(state.IntentDuration, "  "))
		require.NoError(t, err)
		assert.False(t, u.View().IsGrounded)
		assert.Zero(t, u.View().FaithfulnessScore)
		assert.Zero(t, stub.Calls(prompt.Verify))
	})

	t.Run("garbage verdict", func(t *testing.T) {
		stub := ragtest.NewLLM().On(prompt.Verify, ragtest.Text(`{"is_grounded": true}`))
		u, err := New(stub, policy.MustDefault(), logger.NewNopLogger(), 0).Run(context.Background(), generated(state.IntentDuration, "16 weeks"))
		require.NoError(t, err)
		assert.False(t, u.View().IsGrounded)
		assert.Zero(t, u.View().FaithfulnessScore)
	})

	t.Run("model failure", func(t *testing.T) {
		stub := ragtest.NewLLM().On(prompt.Verify, ragtest.Fail(errors.New("timeout")))
		_, err := New(stub, policy.MustDefault(), logger.NewNopLogger(), 0).Run(context.Background(), generated(state.IntentDuration, "16 weeks"))
		require.Error(t, err)

		v := Degrade(generated(state.IntentDuration, "16 weeks"), err).View()
		assert.False(t, v.IsGrounded)
		assert.Zero(t, v.FaithfulnessScore)
	})
}
