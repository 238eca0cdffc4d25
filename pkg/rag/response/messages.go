package response

import (
	"context"
	"hash/fnv"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/rag/state"
)

// InsufficientInformationMessage is the fixed answer when retrieval found nothing usable
const InsufficientInformationMessage = "I couldn't find information about that in the curriculum documents. " +
	"Try rephrasing your question or naming the program you are asking about."

// SafetyExitMessage is returned when a run had to be aborted
const SafetyExitMessage = "Sorry, I wasn't able to finish answering that question. Please try asking again."

var fallbackLines = []string{
	"I dug through the curriculum twice and still couldn't pin down an answer I'd stand behind. The admissions team can give you a definitive one.",
	"That one slipped past me: the documents I found don't settle it clearly enough. Could you ask it a little differently, or name the program?",
	"I'd rather say \"I'm not sure\" than guess about your curriculum. The program coordinators will know this one for certain.",
	"My search came back with half an answer, and half an answer isn't good enough here. Try narrowing the question to one program or topic.",
}

// FallbackLine picks a line deterministically from the query
func FallbackLine(query string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(query))
	return fallbackLines[h.Sum32()%uint32(len(fallbackLines))]
}

const (
	TerminalWrites = state.FieldFinalResponse | state.FieldSourceCitations | state.FieldMetadata
	TerminalReads  = state.FieldQuery | state.FieldMetadata

	FallbackReads   = TerminalReads | state.FieldIterationCount | state.FieldFaithfulnessScore
	FallbackMayRead = state.FieldRefinementStrategy

	FinalizeReads  = state.FieldGeneratedResponse | state.FieldSourceCitations | state.FieldMetadata
	FinalizeWrites = state.FieldFinalResponse | state.FieldMetadata
)

// Responders are the stages that end a run
type Responders struct {
	logger logger.ILogger
}

func NewResponders(log logger.ILogger) *Responders {
	return &Responders{logger: log}
}

// NoEvidence answers with the fixed message when there is nothing to ground on
func (r *Responders) NoEvidence(_ context.Context, s state.PipelineState) (*state.Update, error) {
	r.logger.Info("Response", "No evidence, answering with insufficient information", map[string]interface{}{
		"retrieved": s.Metadata.RetrievedDocsCount,
	})
	return terminal(s, InsufficientInformationMessage, state.PathNoEvidence), nil
}

// Fallback ends a run whose answers never passed verification
func (r *Responders) Fallback(_ context.Context, s state.PipelineState) (*state.Update, error) {
	r.logger.Warn("Response", "Refinement exhausted, answering with fallback", map[string]interface{}{
		"iterations":   s.IterationCount,
		"faithfulness": s.FaithfulnessScore,
		"strategy":     s.RefinementStrategy,
	})
	return terminal(s, FallbackLine(s.Query), state.PathFallback), nil
}

// Finalize publishes the verified answer
func (r *Responders) Finalize(_ context.Context, s state.PipelineState) (*state.Update, error) {
	md := s.Metadata.Clone()
	md.Path = state.PathVerified
	return state.NewUpdate().
		SetFinalResponse(s.GeneratedResponse).
		SetMetadata(md), nil
}

// SafetyExit reads seed fields only
func (r *Responders) SafetyExit(_ context.Context, s state.PipelineState) (*state.Update, error) {
	return terminal(s, SafetyExitMessage, state.PathSafetyExit), nil
}

func terminal(s state.PipelineState, text, path string) *state.Update {
	md := s.Metadata.Clone()
	md.Path = path
	return state.NewUpdate().
		SetFinalResponse(text).
		SetSourceCitations([]string{}).
		SetMetadata(md)
}
