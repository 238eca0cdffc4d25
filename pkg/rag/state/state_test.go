package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsOnlySeedFields(t *testing.T) {
	s := New("What does the cloud program cover?", []Turn{{Role: "user", Content: "hi"}}, []string{"cloud"})

	assert.True(t, s.Has(SeedFields))
	assert.False(t, s.Has(FieldEnhancedQuery))
	assert.Equal(t, SeedFields, s.Present())
	assert.Equal(t, 0, s.IterationCount)
	assert.False(t, s.Done())
}

func TestApplyOnlyTouchesMarkedFields(t *testing.T) {
	s := New("q", nil, nil)
	s = s.Apply(NewUpdate().SetEnhancedQuery("q expanded").SetQueryIntent(IntentComparison))

	next := s.Apply(NewUpdate().SetAmbiguityScore(0.2))

	assert.Equal(t, "q expanded", next.EnhancedQuery)
	assert.Equal(t, IntentComparison, next.QueryIntent)
	assert.Equal(t, 0.2, next.AmbiguityScore)
	assert.True(t, next.Has(FieldEnhancedQuery|FieldQueryIntent|FieldAmbiguityScore))
}

func TestApplyDoesNotMutateReceiver(t *testing.T) {
	docs := []Document{{Content: "a", Source: "x.pdf", Score: 0.9}}
	s := New("q", nil, nil).Apply(NewUpdate().SetRetrievedDocs(docs))

	next := s.Apply(NewUpdate().SetRetrievedDocs(nil))
	docs[0].Content = "mutated"

	require.Len(t, s.RetrievedDocs, 1)
	assert.Equal(t, "a", s.RetrievedDocs[0].Content)
	assert.Empty(t, next.RetrievedDocs)
}

func TestApplyIterationCountNeverDecreases(t *testing.T) {
	s := New("q", nil, nil).Apply(NewUpdate().SetIterationCount(2))

	s = s.Apply(NewUpdate().SetIterationCount(1))
	assert.Equal(t, 2, s.IterationCount)

	s = s.Apply(ZeroUpdate(FieldIterationCount))
	assert.Equal(t, 2, s.IterationCount)

	s = s.Apply(NewUpdate().SetIterationCount(3))
	assert.Equal(t, 3, s.IterationCount)
}

func TestScoresAreClamped(t *testing.T) {
	s := New("q", nil, nil).Apply(NewUpdate().SetAmbiguityScore(1.7).SetFaithfulnessScore(-0.3))

	assert.Equal(t, 1.0, s.AmbiguityScore)
	assert.Equal(t, 0.0, s.FaithfulnessScore)
}

func TestZeroUpdateResetsWritesButKeepsQuery(t *testing.T) {
	s := New("keep me", nil, nil).Apply(NewUpdate().
		SetGeneratedResponse("draft").
		SetEvidenceSufficient(true).
		SetSourceCitations([]string{"a.pdf"}))

	s = s.Apply(ZeroUpdate(FieldQuery | FieldGeneratedResponse | FieldEvidenceSufficient | FieldSourceCitations))

	assert.Equal(t, "keep me", s.Query)
	assert.Empty(t, s.GeneratedResponse)
	assert.False(t, s.EvidenceSufficient)
	assert.Nil(t, s.SourceCitations)
	assert.True(t, s.Has(FieldGeneratedResponse))
}

func TestMetadataTimingsAreNotShared(t *testing.T) {
	md := Metadata{Timings: map[string]time.Duration{"enhance": time.Second}}
	s := New("q", nil, nil).Apply(NewUpdate().SetMetadata(md))

	md.Timings["enhance"] = time.Hour
	clone := s.Clone()
	clone.Metadata.Timings["enhance"] = time.Minute

	assert.Equal(t, time.Second, s.Metadata.Timings["enhance"])
}

func TestUpdateMergeLaterWins(t *testing.T) {
	a := NewUpdate().SetEnhancedQuery("first").SetQueryIntent(IntentCoverage)
	b := NewUpdate().SetEnhancedQuery("second").SetDetectedPrograms([]string{"cloud"})

	merged := a.Merge(b)
	view := merged.View()

	assert.Equal(t, "second", view.EnhancedQuery)
	assert.Equal(t, IntentCoverage, view.QueryIntent)
	assert.Equal(t, []string{"cloud"}, view.DetectedPrograms)
	assert.Equal(t, FieldEnhancedQuery|FieldQueryIntent|FieldDetectedPrograms, merged.Fields())
}

func TestSearchQueryPrefersEnhanced(t *testing.T) {
	s := New("raw", nil, nil)
	assert.Equal(t, "raw", s.SearchQuery())

	s = s.Apply(NewUpdate().SetEnhancedQuery("  "))
	assert.Equal(t, "raw", s.SearchQuery())

	s = s.Apply(NewUpdate().SetEnhancedQuery("better"))
	assert.Equal(t, "better", s.SearchQuery())
}

func TestParseIntentAndStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Intent
	}{
		{"comparison", IntentComparison},
		{" Certification ", IntentCertification},
		{"TECHNICAL_DETAIL", IntentTechnicalDetail},
		{"weather", IntentGeneralInfo},
		{"", IntentGeneralInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseIntent(tt.in), tt.in)
	}

	assert.Equal(t, StrategyExpandChunks, ParseStrategy("expand_chunks"))
	assert.Equal(t, StrategyFunFallback, ParseStrategy("retry harder"))
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Equal(t, SeverityLow.Rank(), Severity("unknown").Rank())
}

func TestFieldString(t *testing.T) {
	assert.Equal(t, "none", Field(0).String())
	assert.Equal(t, "query,enhanced_query", (FieldQuery | FieldEnhancedQuery).String())
	assert.Len(t, AllFields.Fields(), 28)
}

func TestViewKeepsOnlyRequestedFields(t *testing.T) {
	s := New("does it cover SQL?", []Turn{{Role: "user", Content: "hi"}}, []string{"data-science"}).
		Apply(NewUpdate().
			SetEnhancedQuery("data science SQL").
			SetRefinementStrategy(StrategyExpandChunks).
			SetFilteredDocs([]Document{{Source: "a.pdf"}}))

	v := s.View(FieldQuery | FieldEnhancedQuery | FieldCoverageTopic)

	assert.Equal(t, "does it cover SQL?", v.Query)
	assert.Equal(t, "data science SQL", v.EnhancedQuery)
	assert.Empty(t, v.FilteredDocs)
	assert.Empty(t, v.ConversationHistory)
	assert.Equal(t, StrategyNone, v.RefinementStrategy)
	assert.True(t, v.Has(FieldQuery|FieldEnhancedQuery))
	assert.False(t, v.Has(FieldCoverageTopic))
	assert.False(t, v.Has(FieldFilteredDocs))

	// the source state is untouched
	assert.Len(t, s.FilteredDocs, 1)
}
