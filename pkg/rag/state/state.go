package state

import (
	"strings"
	"time"
)

// Intent is the closed set of query intents produced by query understanding
type Intent string

const (
	IntentGeneralInfo     Intent = "general_info"
	IntentCoverage        Intent = "coverage"
	IntentComparison      Intent = "comparison"
	IntentCertification   Intent = "certification"
	IntentDuration        Intent = "duration"
	IntentTechnicalDetail Intent = "technical_detail"
	IntentRequirements    Intent = "requirements"
)

var knownIntents = map[Intent]bool{
	IntentGeneralInfo:     true,
	IntentCoverage:        true,
	IntentComparison:      true,
	IntentCertification:   true,
	IntentDuration:        true,
	IntentTechnicalDetail: true,
	IntentRequirements:    true,
}

// ParseIntent normalizes a classifier label. Unknown labels map to general_info.
func ParseIntent(s string) Intent {
	i := Intent(strings.ToLower(strings.TrimSpace(s)))
	if knownIntents[i] {
		return i
	}
	return IntentGeneralInfo
}

// Strategy is the refinement strategy picked after a failed verification
type Strategy string

const (
	StrategyNone                 Strategy = ""
	StrategyExpandChunks         Strategy = "EXPAND_CHUNKS"
	StrategyRelaxNamespaceFilter Strategy = "RELAX_NAMESPACE_FILTER"
	StrategyEnhanceQueryKeywords Strategy = "ENHANCE_QUERY_KEYWORDS"
	StrategySwitchToCoveragePath Strategy = "SWITCH_TO_COVERAGE_PATH"
	StrategyFunFallback          Strategy = "FUN_FALLBACK"
)

// ParseStrategy maps a label to a Strategy, falling back to FUN_FALLBACK for anything unknown.
func ParseStrategy(s string) Strategy {
	switch st := Strategy(strings.ToUpper(strings.TrimSpace(s))); st {
	case StrategyExpandChunks, StrategyRelaxNamespaceFilter, StrategyEnhanceQueryKeywords,
		StrategySwitchToCoveragePath, StrategyFunFallback:
		return st
	default:
		return StrategyFunFallback
	}
}

// Severity of a faithfulness violation, ordered low → critical
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities. Unknown values rank as low.
func (s Severity) Rank() int {
	switch Severity(strings.ToLower(string(s))) {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Terminal paths recorded in Metadata.Path
const (
	PathVerified         = "verified"
	PathNoEvidence       = "no_evidence"
	PathNegativeCoverage = "negative_coverage"
	PathFallback         = "fallback"
	PathSafetyExit       = "safety_exit"
)

// Document is one retrieved chunk
type Document struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// NamespaceFilter restricts retrieval to a set of source documents
type NamespaceFilter struct {
	Sources []string `json:"sources"`
}

// RetrievalStats describes the last retrieval call
type RetrievalStats struct {
	TopK     int    `json:"top_k"`
	Returned int    `json:"returned"`
	Error    string `json:"error,omitempty"`
}

// CoverageVerification is the outcome of checking a coverage topic against the evidence
type CoverageVerification struct {
	IsPresent bool   `json:"is_present"`
	Topic     string `json:"topic"`
	Evidence  string `json:"evidence"`
}

// Violation is a claim flagged by faithfulness verification
type Violation struct {
	Claim    string   `json:"claim"`
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
}

// Turn is one entry of the conversation history
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Metadata carries run bookkeeping that routers and callers read
type Metadata struct {
	RefetchCount       int                      `json:"refetch_count"`
	NeedsRefetch       bool                     `json:"needs_refetch"`
	RetrievedDocsCount int                      `json:"retrieved_docs_count"`
	Path               string                   `json:"path,omitempty"`
	Timings            map[string]time.Duration `json:"timings,omitempty"`
}

// Clone returns a deep copy so the timings map is never shared between states
func (m Metadata) Clone() Metadata {
	out := m
	if m.Timings != nil {
		out.Timings = make(map[string]time.Duration, len(m.Timings))
		for k, v := range m.Timings {
			out.Timings[k] = v
		}
	}
	return out
}

// PipelineState is the record threaded through every stage.
// Stages never mutate it; they return an Update which Apply merges into a new value.
type PipelineState struct {
	present Field

	Query                 string
	EnhancedQuery         string
	QueryIntent           Intent
	AmbiguityScore        float64
	DetectedPrograms      []string
	NamespaceFilter       *NamespaceFilter
	RetrievedDocs         []Document
	RetrievalStats        *RetrievalStats
	FilteredDocs          []Document
	RelevanceScores       []float64
	RejectionReasons      []string
	IsCoverageQuestion    bool
	CoverageTopic         string
	CoverageVerification  *CoverageVerification
	GeneratedResponse     string
	SourceCitations       []string
	EvidenceSufficient    bool
	FaithfulnessScore     float64
	IsGrounded            bool
	HasCriticalViolations bool
	Violations            []Violation
	IterationCount        int
	RefinementStrategy    Strategy
	FinalResponse         string
	Metadata              Metadata
	ConversationHistory   []Turn
	PriorPrograms         []string
	Error                 string
}

// New seeds a fresh state for one incoming query
func New(query string, history []Turn, priorPrograms []string) PipelineState {
	return PipelineState{
		present:             SeedFields,
		Query:               query,
		ConversationHistory: append([]Turn(nil), history...),
		PriorPrograms:       append([]string(nil), priorPrograms...),
	}
}

// Has reports whether every field in f has been produced
func (s PipelineState) Has(f Field) bool {
	return s.present&f == f
}

// Present returns the set of produced fields
func (s PipelineState) Present() Field {
	return s.present
}

// Done reports whether a terminal stage has emitted the final response
func (s PipelineState) Done() bool {
	return s.Has(FieldFinalResponse)
}

// SearchQuery is the query retrieval should use
func (s PipelineState) SearchQuery() string {
	if strings.TrimSpace(s.EnhancedQuery) != "" {
		return s.EnhancedQuery
	}
	return s.Query
}

// Clone returns a copy that shares no mutable backing storage with s
func (s PipelineState) Clone() PipelineState {
	out := s
	out.DetectedPrograms = cloneSlice(s.DetectedPrograms)
	out.RetrievedDocs = cloneSlice(s.RetrievedDocs)
	out.FilteredDocs = cloneSlice(s.FilteredDocs)
	out.RelevanceScores = cloneSlice(s.RelevanceScores)
	out.RejectionReasons = cloneSlice(s.RejectionReasons)
	out.SourceCitations = cloneSlice(s.SourceCitations)
	out.Violations = cloneSlice(s.Violations)
	out.ConversationHistory = cloneSlice(s.ConversationHistory)
	out.PriorPrograms = cloneSlice(s.PriorPrograms)
	if s.NamespaceFilter != nil {
		nf := NamespaceFilter{Sources: cloneSlice(s.NamespaceFilter.Sources)}
		out.NamespaceFilter = &nf
	}
	if s.RetrievalStats != nil {
		rs := *s.RetrievalStats
		out.RetrievalStats = &rs
	}
	if s.CoverageVerification != nil {
		cv := *s.CoverageVerification
		out.CoverageVerification = &cv
	}
	out.Metadata = s.Metadata.Clone()
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
