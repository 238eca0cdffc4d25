package store

import (
	"time"

	"curriculum-qa-be/pkg/rag/state"
)

// Session is the per-thread record kept between turns
type Session struct {
	ID    string       `json:"id"` // thread id
	Turns []state.Turn `json:"turns"`

	// Routing decisions of the last turn, reused by follow-up questions
	LastPrograms []string     `json:"last_programs,omitempty"`
	LastIntent   state.Intent `json:"last_intent,omitempty"`
	LastQuery    string       `json:"last_query,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func NewSession(id string) *Session {
	return &Session{ID: id}
}

// Append adds a turn. Stored history is append-only.
func (s *Session) Append(role, content string, at time.Time) {
	s.Turns = append(s.Turns, state.Turn{Role: role, Content: content, CreatedAt: at})
	s.UpdatedAt = at
}

// Recent returns a copy of the last n turns, or of all of them when n <= 0
func (s *Session) Recent(n int) []state.Turn {
	turns := s.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]state.Turn(nil), turns...)
}

// Clone returns a deep copy, so stores never hand out shared slices
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = append([]state.Turn(nil), s.Turns...)
	out.LastPrograms = append([]string(nil), s.LastPrograms...)
	return &out
}
