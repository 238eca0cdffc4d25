// Package session loads and records the per-thread conversation around one
// pipeline run. The pipeline reads a thread at the start of a turn and writes
// it once at the end.
package session

import (
	"context"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/rag/state"
	"curriculum-qa-be/pkg/store"
)

// Store persists sessions by thread id. Get returns (nil, nil) for an unknown thread.
type Store interface {
	Get(ctx context.Context, threadID string) (*store.Session, error)
	Put(ctx context.Context, session *store.Session) error
	Delete(ctx context.Context, threadID string) error
}

// Manager handles session operations
type Manager struct {
	store  Store
	logger logger.ILogger
	window int
	now    func() time.Time
}

// NewManager builds a Manager. window limits how many recent turns a run is
// seeded with; 0 seeds the whole history. The stored history is never trimmed.
func NewManager(s Store, log logger.ILogger, window int) *Manager {
	if window < 0 {
		window = 0
	}
	return &Manager{
		store:  s,
		logger: log,
		window: window,
		now:    time.Now,
	}
}

// LoadOrCreate returns the thread's session. A store failure is logged and
// the turn proceeds with an empty session.
func (m *Manager) LoadOrCreate(ctx context.Context, threadID string) *store.Session {
	sess, err := m.store.Get(ctx, threadID)
	if err != nil {
		m.logger.Warn("Session", "Failed to load session, starting fresh", map[string]interface{}{
			"thread_id": threadID,
			"error":     err.Error(),
		})
		return store.NewSession(threadID)
	}
	if sess == nil {
		return store.NewSession(threadID)
	}
	return sess
}

// History is the conversation a run of this thread starts from
func (m *Manager) History(sess *store.Session) []state.Turn {
	return sess.Recent(m.window)
}

// Record appends the turn and the routing decisions it produced, then saves
func (m *Manager) Record(ctx context.Context, sess *store.Session, question string, final state.PipelineState) {
	now := m.now()
	sess.Append(store.RoleUser, question, now)
	sess.Append(store.RoleAssistant, final.FinalResponse, now)
	sess.LastQuery = question
	if len(final.DetectedPrograms) > 0 {
		sess.LastPrograms = append([]string(nil), final.DetectedPrograms...)
	}
	if final.Has(state.FieldQueryIntent) {
		sess.LastIntent = final.QueryIntent
	}

	if err := m.store.Put(ctx, sess); err != nil {
		m.logger.Error("Session", "Failed to save session", map[string]interface{}{
			"thread_id": sess.ID,
			"error":     err.Error(),
		})
	}
}

func (m *Manager) Get(ctx context.Context, threadID string) (*store.Session, error) {
	return m.store.Get(ctx, threadID)
}

func (m *Manager) Reset(ctx context.Context, threadID string) error {
	return m.store.Delete(ctx, threadID)
}
