package pipeline

import (
	"curriculum-qa-be/pkg/rag/graph"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/refine"
	"curriculum-qa-be/pkg/rag/state"
)

// Stage identifiers of the curriculum pipeline
const (
	StageUnderstand       graph.StageID = "understand"
	StageRetrieve         graph.StageID = "retrieve"
	StageAssessRelevance  graph.StageID = "assess_relevance"
	StageFilterDocuments  graph.StageID = "filter_documents"
	StageClassifyCoverage graph.StageID = "classify_coverage"
	StageVerifyCoverage   graph.StageID = "verify_coverage"
	StageNegativeCoverage graph.StageID = "negative_coverage"
	StageGenerate         graph.StageID = "generate"
	StageVerify           graph.StageID = "verify"
	StageRefine           graph.StageID = "refine"
	StageReenhance        graph.StageID = "reenhance_query"
	StageFinalize         graph.StageID = "finalize"
	StageNoEvidence       graph.StageID = "no_evidence"
	StageFallback         graph.StageID = "fallback"
	StageSafetyExit       graph.StageID = "safety_exit"
)

func afterRetrieve(s state.PipelineState) graph.StageID {
	if len(s.RetrievedDocs) == 0 {
		return StageNoEvidence
	}
	return StageAssessRelevance
}

func afterFilter(s state.PipelineState) graph.StageID {
	switch {
	case s.Metadata.NeedsRefetch:
		return StageRetrieve
	case len(s.FilteredDocs) == 0:
		return StageNoEvidence
	case s.QueryIntent == state.IntentComparison:
		return StageGenerate
	default:
		return StageClassifyCoverage
	}
}

func afterClassify(s state.PipelineState) graph.StageID {
	if s.IsCoverageQuestion {
		return StageVerifyCoverage
	}
	return StageGenerate
}

func afterVerifyCoverage(s state.PipelineState) graph.StageID {
	if s.CoverageVerification != nil && !s.CoverageVerification.IsPresent {
		return StageNegativeCoverage
	}
	return StageGenerate
}

func afterVerify(p *policy.Table) graph.Router {
	return func(s state.PipelineState) graph.StageID {
		switch refine.Decide(s, p) {
		case refine.Finalize:
			return StageFinalize
		case refine.Refine:
			return StageRefine
		default:
			return StageFallback
		}
	}
}

func afterRefine(s state.PipelineState) graph.StageID {
	switch s.RefinementStrategy {
	case state.StrategyExpandChunks, state.StrategyRelaxNamespaceFilter:
		return StageRetrieve
	case state.StrategyEnhanceQueryKeywords:
		return StageReenhance
	case state.StrategySwitchToCoveragePath:
		return StageVerifyCoverage
	default:
		return StageFallback
	}
}
