package state

import (
	"math/bits"
	"strings"
)

// Field identifies one PipelineState field. Fields combine as a bit set.
type Field uint64

const (
	FieldQuery Field = 1 << iota
	FieldEnhancedQuery
	FieldQueryIntent
	FieldAmbiguityScore
	FieldDetectedPrograms
	FieldNamespaceFilter
	FieldRetrievedDocs
	FieldRetrievalStats
	FieldFilteredDocs
	FieldRelevanceScores
	FieldRejectionReasons
	FieldIsCoverageQuestion
	FieldCoverageTopic
	FieldCoverageVerification
	FieldGeneratedResponse
	FieldSourceCitations
	FieldEvidenceSufficient
	FieldFaithfulnessScore
	FieldIsGrounded
	FieldHasCriticalViolations
	FieldViolations
	FieldIterationCount
	FieldRefinementStrategy
	FieldFinalResponse
	FieldMetadata
	FieldConversationHistory
	FieldPriorPrograms
	FieldError

	fieldSentinel
)

// AllFields is the union of every field
const AllFields = fieldSentinel - 1

// SeedFields are present on every freshly created state
const SeedFields = FieldQuery | FieldConversationHistory | FieldPriorPrograms | FieldIterationCount | FieldMetadata

var fieldNames = map[Field]string{
	FieldQuery:                 "query",
	FieldEnhancedQuery:         "enhanced_query",
	FieldQueryIntent:           "query_intent",
	FieldAmbiguityScore:        "ambiguity_score",
	FieldDetectedPrograms:      "detected_programs",
	FieldNamespaceFilter:       "namespace_filter",
	FieldRetrievedDocs:         "retrieved_docs",
	FieldRetrievalStats:        "retrieval_stats",
	FieldFilteredDocs:          "filtered_docs",
	FieldRelevanceScores:       "relevance_scores",
	FieldRejectionReasons:      "rejection_reasons",
	FieldIsCoverageQuestion:    "is_coverage_question",
	FieldCoverageTopic:         "coverage_topic",
	FieldCoverageVerification:  "coverage_verification",
	FieldGeneratedResponse:     "generated_response",
	FieldSourceCitations:       "source_citations",
	FieldEvidenceSufficient:    "evidence_sufficient",
	FieldFaithfulnessScore:     "faithfulness_score",
	FieldIsGrounded:            "is_grounded",
	FieldHasCriticalViolations: "has_critical_violations",
	FieldViolations:            "violations",
	FieldIterationCount:        "iteration_count",
	FieldRefinementStrategy:    "refinement_strategy",
	FieldFinalResponse:         "final_response",
	FieldMetadata:              "metadata",
	FieldConversationHistory:   "conversation_history",
	FieldPriorPrograms:         "prior_programs",
	FieldError:                 "error",
}

// Fields splits a set into its single-field members in declaration order
func (f Field) Fields() []Field {
	var out []Field
	for rest := f & AllFields; rest != 0; {
		bit := Field(1) << bits.TrailingZeros64(uint64(rest))
		out = append(out, bit)
		rest &^= bit
	}
	return out
}

// Missing returns the members of f that are not in have
func (f Field) Missing(have Field) Field {
	return f &^ have
}

func (f Field) String() string {
	if f == 0 {
		return "none"
	}
	names := make([]string, 0, bits.OnesCount64(uint64(f)))
	for _, single := range f.Fields() {
		names = append(names, fieldNames[single])
	}
	return strings.Join(names, ",")
}
