package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/repository/memory"
	"curriculum-qa-be/pkg/rag/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answered(text string, programs ...string) state.PipelineState {
	return state.New("q", nil, nil).Apply(state.NewUpdate().
		SetFinalResponse(text).
		SetDetectedPrograms(programs).
		SetQueryIntent(state.IntentDuration))
}

func TestRecordNeverTrimsStoredHistory(t *testing.T) {
	ctx := context.Background()
	m := NewManager(memory.NewSessionRepository(time.Hour), logger.NewNopLogger(), 4)

	for i := 0; i < 21; i++ {
		sess := m.LoadOrCreate(ctx, "t-1")
		m.Record(ctx, sess, fmt.Sprintf("question-%d", i), answered(fmt.Sprintf("answer-%d", i), "data-science"))
	}

	stored, err := m.Get(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, stored.Turns, 42)
	assert.Equal(t, "question-0", stored.Turns[0].Content)
	assert.Equal(t, "answer-20", stored.Turns[41].Content)
	assert.Equal(t, []string{"data-science"}, stored.LastPrograms)
	assert.Equal(t, state.IntentDuration, stored.LastIntent)

	window := m.History(stored)
	require.Len(t, window, 4)
	assert.Equal(t, "question-19", window[0].Content)
}

func TestZeroWindowSeedsWholeHistory(t *testing.T) {
	ctx := context.Background()
	m := NewManager(memory.NewSessionRepository(time.Hour), logger.NewNopLogger(), 0)

	sess := m.LoadOrCreate(ctx, "t-2")
	for i := 0; i < 3; i++ {
		m.Record(ctx, sess, "q", answered("a"))
	}
	assert.Len(t, m.History(sess), 6)
}
