package dto

import (
	"time"

	"curriculum-qa-be/pkg/rag/graph"
)

type AskRequest struct {
	// ThreadID continues a conversation; a new thread is started when empty
	ThreadID string `json:"thread_id" validate:"omitempty,max=128"`
	Question string `json:"question" validate:"required,min=2,max=2000"`
}

type AskResponse struct {
	RunID             string       `json:"run_id"`
	ThreadID          string       `json:"thread_id"`
	Answer            string       `json:"answer"`
	Citations         []string     `json:"citations"`
	Intent            string       `json:"intent"`
	Programs          []string     `json:"programs"`
	Iterations        int          `json:"iterations"`
	Strategy          string       `json:"refinement_strategy,omitempty"`
	FaithfulnessScore float64      `json:"faithfulness_score"`
	Path              string       `json:"path"`
	TookMs            int64        `json:"took_ms"`
	Trace             []graph.Step `json:"trace,omitempty"` // only with ?debug=true
}

type TurnDTO struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionResponse struct {
	ThreadID     string    `json:"thread_id"`
	Turns        []TurnDTO `json:"turns"`
	LastPrograms []string  `json:"last_programs"`
	LastIntent   string    `json:"last_intent,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Programs int               `json:"programs"`
	Checks   map[string]string `json:"checks"`
}
