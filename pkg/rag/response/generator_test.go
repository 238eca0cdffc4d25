package response

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/ragtest"
	"curriculum-qa-be/pkg/rag/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evidence = []state.Document{
	{Content: "Module 4 covers SQL joins and window functions.", Source: "curriculum/data-science-syllabus.pdf"},
	{Content: "Capstone uses PostgreSQL.", Source: "data-science-projects.pdf"},
	{Content: "Attendance is mandatory.", Source: "student-handbook.pdf"},
	{Content: "More SQL practice.", Source: "curriculum/data-science-syllabus.pdf"},
}

func filtered(history ...state.Turn) state.PipelineState {
	return state.New("Does data science include SQL?", history, nil).Apply(state.NewUpdate().
		SetFilteredDocs(evidence))
}

func TestGeneratorParsesStructuredAnswer(t *testing.T) {
	stub := ragtest.NewLLM().On(prompt.Generate, ragtest.JSON(map[string]any{
		"answer":              "Yes. According to data-science-syllabus.pdf, module 4 covers SQL.",
		"evidence_sufficient": true,
	}))
	g := NewGenerator(stub, logger.NewNopLogger(), time.Second)

	u, err := g.Run(context.Background(), filtered())
	require.NoError(t, err)
	v := u.View()

	assert.Equal(t, "Yes. According to data-science-syllabus.pdf, module 4 covers SQL.", v.GeneratedResponse)
	assert.True(t, v.EvidenceSufficient)
	assert.Equal(t, []string{"curriculum/data-science-syllabus.pdf"}, v.SourceCitations)

	p := stub.Prompts(prompt.Generate)[0]
	assert.Contains(t, p, "Module 4 covers SQL joins")
	assert.Contains(t, p, "Does data science include SQL?")
}

func TestGeneratorPlainTextIsNotSufficient(t *testing.T) {
	stub := ragtest.NewLLM().On(prompt.Generate, ragtest.Text("SQL is covered in module 4."))
	u, err := NewGenerator(stub, logger.NewNopLogger(), 0).Run(context.Background(), filtered())
	require.NoError(t, err)

	v := u.View()
	assert.Equal(t, "SQL is covered in module 4.", v.GeneratedResponse)
	assert.False(t, v.EvidenceSufficient)
	// no source named, so every evidence source is cited once
	assert.Equal(t, []string{"curriculum/data-science-syllabus.pdf", "data-science-projects.pdf", "student-handbook.pdf"}, v.SourceCitations)
}

func TestGeneratorMissingFlagIsNotSufficient(t *testing.T) {
	stub := ragtest.NewLLM().On(prompt.Generate, ragtest.Text(`{"answer": "Yes, see the student-handbook"}`))
	u, err := NewGenerator(stub, logger.NewNopLogger(), 0).Run(context.Background(), filtered())
	require.NoError(t, err)

	assert.False(t, u.View().EvidenceSufficient)
	assert.Equal(t, []string{"student-handbook.pdf"}, u.View().SourceCitations)
}

func TestToMessagesKeepsRecentTurns(t *testing.T) {
	var history []state.Turn
	for i := 0; i < 10; i++ {
		history = append(history, state.Turn{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}

	msgs := toMessages(history, historyTurns)
	require.Len(t, msgs, historyTurns)
	assert.Equal(t, "turn 4", msgs[0].Content)
	assert.Equal(t, "turn 9", msgs[len(msgs)-1].Content)
}

func TestGeneratorFailures(t *testing.T) {
	stub := ragtest.NewLLM().On(prompt.Generate, ragtest.Fail(errors.New("timeout")), ragtest.Text("   "))
	g := NewGenerator(stub, logger.NewNopLogger(), 0)

	_, err := g.Run(context.Background(), filtered())
	assert.Error(t, err)
	_, err = g.Run(context.Background(), filtered())
	assert.Error(t, err)

	v := GenerateDegrade(filtered(), err).View()
	assert.Empty(t, v.GeneratedResponse)
	assert.False(t, v.EvidenceSufficient)
	assert.Len(t, v.SourceCitations, 3)
}

func TestCitations(t *testing.T) {
	assert.Equal(t, []string{"data-science-projects.pdf"}, Citations("The DATA-SCIENCE-PROJECTS capstone", evidence))
	assert.Empty(t, Citations("anything", nil))
}

func TestResponders(t *testing.T) {
	r := NewResponders(logger.NewNopLogger())
	ctx := context.Background()
	s := state.New("Is there a Rust track?", nil, nil).Apply(state.NewUpdate().
		SetGeneratedResponse("verified answer").
		SetSourceCitations([]string{"a.pdf"}))

	u, err := r.NoEvidence(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, InsufficientInformationMessage, u.View().FinalResponse)
	assert.Equal(t, state.PathNoEvidence, u.View().Metadata.Path)
	assert.Empty(t, u.View().SourceCitations)

	u, err = r.Fallback(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, FallbackLine(s.Query), u.View().FinalResponse)
	assert.Equal(t, state.PathFallback, u.View().Metadata.Path)

	u, err = r.Finalize(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "verified answer", u.View().FinalResponse)
	assert.Equal(t, state.PathVerified, u.View().Metadata.Path)
	assert.False(t, u.Fields()&state.FieldSourceCitations != 0)

	u, err = r.SafetyExit(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, SafetyExitMessage, u.View().FinalResponse)
}

func TestFallbackLineIsDeterministic(t *testing.T) {
	assert.Equal(t, FallbackLine("same question"), FallbackLine("same question"))
	assert.Contains(t, fallbackLines, FallbackLine("another"))
}
