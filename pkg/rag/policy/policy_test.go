package policy

import (
	"testing"

	"curriculum-qa-be/pkg/rag/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	tests := []struct {
		intent        state.Intent
		topK          int
		relevance     float64
		forced        bool
		faithfulness  float64
		maxIterations int
		blocking      state.Severity
	}{
		{state.IntentGeneralInfo, 10, 0.5, false, 0.7, 1, state.SeverityHigh},
		{state.IntentCoverage, 10, 0.5, false, 0.7, 1, state.SeverityHigh},
		{state.IntentComparison, 25, 0.3, true, 0.5, 2, state.SeverityCritical},
		{state.IntentCertification, 15, 0.3, true, 0.7, 1, state.SeverityHigh},
		{state.IntentTechnicalDetail, 10, 0.5, false, 0.5, 1, state.SeverityCritical},
	}
	for _, tt := range tests {
		p := table.For(tt.intent)
		assert.Equal(t, tt.topK, p.TopK, tt.intent)
		assert.Equal(t, tt.relevance, p.RelevanceThreshold, tt.intent)
		assert.Equal(t, tt.forced, p.ForceUniversal, tt.intent)
		assert.Equal(t, tt.faithfulness, p.FaithfulnessThreshold, tt.intent)
		assert.Equal(t, tt.maxIterations, p.MaxIterations, tt.intent)
		assert.Equal(t, tt.blocking, p.BlockingSeverity, tt.intent)
	}

	assert.Equal(t, 1, table.MaxRefetches)
	assert.Equal(t, 2, table.MinProgramDocs)
	assert.Equal(t, 3, table.RelevanceFallbackTopN)
}

func TestTopK(t *testing.T) {
	table := MustDefault()

	assert.Equal(t, 10, table.TopK(state.IntentGeneralInfo, 0, state.StrategyNone, 50))
	assert.Equal(t, 20, table.TopK(state.IntentGeneralInfo, 1, state.StrategyNone, 50))
	assert.Equal(t, 40, table.TopK(state.IntentGeneralInfo, 1, state.StrategyExpandChunks, 50))
	assert.Equal(t, 50, table.TopK(state.IntentComparison, 1, state.StrategyNone, 50))
	assert.Equal(t, 30, table.TopK(state.IntentCertification, 0, state.StrategyExpandChunks, 0))
}

func TestBlocks(t *testing.T) {
	table := MustDefault()

	highFabrication := state.Violation{Kind: "fabricated_fact", Severity: state.SeverityHigh}
	criticalFigures := state.Violation{Kind: "Wrong_Figures", Severity: state.SeverityCritical}
	criticalStyle := state.Violation{Kind: "tone", Severity: state.SeverityCritical}

	assert.True(t, table.Blocks(state.IntentGeneralInfo, highFabrication))
	assert.False(t, table.Blocks(state.IntentComparison, highFabrication))
	assert.False(t, table.Blocks(state.IntentTechnicalDetail, highFabrication))
	assert.True(t, table.Blocks(state.IntentComparison, criticalFigures))
	assert.False(t, table.Blocks(state.IntentGeneralInfo, criticalStyle))
}

func TestParseRejectsInvalidPolicy(t *testing.T) {
	base := "default:\n  top_k: 10\n  relevance_threshold: 0.5\n  faithfulness_threshold: 0.7\n  max_iterations: 1\n  blocking_severity: high\nrelevance_fallback_top_n: 3\n"

	_, err := Parse([]byte(base))
	require.NoError(t, err)

	_, err = Parse([]byte(base + "intents:\n  astrology:\n    top_k: 3\n"))
	assert.Error(t, err)

	_, err = Parse([]byte(base + "intents:\n  comparison:\n    relevance_threshold: 1.5\n"))
	assert.Error(t, err)

	_, err = Parse([]byte(base + "max_refetches: 3\n"))
	assert.Error(t, err)
}
