package state

// Update is a partial state produced by one stage. Only fields set through
// the setters are merged; everything else in the target state is left alone.
type Update struct {
	fields Field
	v      PipelineState
}

// NewUpdate starts an empty update
func NewUpdate() *Update {
	return &Update{}
}

// Fields returns the set of fields this update writes
func (u *Update) Fields() Field {
	if u == nil {
		return 0
	}
	return u.fields
}

// Empty reports whether the update writes nothing
func (u *Update) Empty() bool {
	return u == nil || u.fields == 0
}

// Merge copies every field set in other into u; other wins on overlap
func (u *Update) Merge(other *Update) *Update {
	if other.Empty() {
		return u
	}
	merged := u.v.Clone()
	src := other.v.Clone()
	copyFields(&merged, src, other.fields)
	u.v = merged
	u.fields |= other.fields
	return u
}

// Apply merges u into s and returns the new state. s is not modified.
// iteration_count never decreases.
func (s PipelineState) Apply(u *Update) PipelineState {
	out := s.Clone()
	if u.Empty() {
		return out
	}
	src := u.v.Clone()
	copyFields(&out, src, u.fields)
	if u.fields&FieldIterationCount != 0 && src.IterationCount < s.IterationCount {
		out.IterationCount = s.IterationCount
	}
	out.present |= u.fields
	return out
}

func copyFields(dst *PipelineState, src PipelineState, f Field) {
	for _, single := range f.Fields() {
		switch single {
		case FieldQuery:
			// immutable once seeded
		case FieldEnhancedQuery:
			dst.EnhancedQuery = src.EnhancedQuery
		case FieldQueryIntent:
			dst.QueryIntent = src.QueryIntent
		case FieldAmbiguityScore:
			dst.AmbiguityScore = src.AmbiguityScore
		case FieldDetectedPrograms:
			dst.DetectedPrograms = src.DetectedPrograms
		case FieldNamespaceFilter:
			dst.NamespaceFilter = src.NamespaceFilter
		case FieldRetrievedDocs:
			dst.RetrievedDocs = src.RetrievedDocs
		case FieldRetrievalStats:
			dst.RetrievalStats = src.RetrievalStats
		case FieldFilteredDocs:
			dst.FilteredDocs = src.FilteredDocs
		case FieldRelevanceScores:
			dst.RelevanceScores = src.RelevanceScores
		case FieldRejectionReasons:
			dst.RejectionReasons = src.RejectionReasons
		case FieldIsCoverageQuestion:
			dst.IsCoverageQuestion = src.IsCoverageQuestion
		case FieldCoverageTopic:
			dst.CoverageTopic = src.CoverageTopic
		case FieldCoverageVerification:
			dst.CoverageVerification = src.CoverageVerification
		case FieldGeneratedResponse:
			dst.GeneratedResponse = src.GeneratedResponse
		case FieldSourceCitations:
			dst.SourceCitations = src.SourceCitations
		case FieldEvidenceSufficient:
			dst.EvidenceSufficient = src.EvidenceSufficient
		case FieldFaithfulnessScore:
			dst.FaithfulnessScore = src.FaithfulnessScore
		case FieldIsGrounded:
			dst.IsGrounded = src.IsGrounded
		case FieldHasCriticalViolations:
			dst.HasCriticalViolations = src.HasCriticalViolations
		case FieldViolations:
			dst.Violations = src.Violations
		case FieldIterationCount:
			dst.IterationCount = src.IterationCount
		case FieldRefinementStrategy:
			dst.RefinementStrategy = src.RefinementStrategy
		case FieldFinalResponse:
			dst.FinalResponse = src.FinalResponse
		case FieldMetadata:
			dst.Metadata = src.Metadata
		case FieldConversationHistory:
			dst.ConversationHistory = src.ConversationHistory
		case FieldPriorPrograms:
			dst.PriorPrograms = src.PriorPrograms
		case FieldError:
			dst.Error = src.Error
		}
	}
}

// ZeroUpdate writes the zero value of every field in f. The executor uses it
// to build degraded updates when a stage fails.
func ZeroUpdate(f Field) *Update {
	return &Update{fields: f &^ FieldQuery}
}

func (u *Update) set(f Field) *Update {
	u.fields |= f
	return u
}

func (u *Update) SetEnhancedQuery(q string) *Update {
	u.v.EnhancedQuery = q
	return u.set(FieldEnhancedQuery)
}

func (u *Update) SetQueryIntent(i Intent) *Update {
	u.v.QueryIntent = i
	return u.set(FieldQueryIntent)
}

func (u *Update) SetAmbiguityScore(score float64) *Update {
	u.v.AmbiguityScore = clamp01(score)
	return u.set(FieldAmbiguityScore)
}

func (u *Update) SetDetectedPrograms(programs []string) *Update {
	u.v.DetectedPrograms = cloneSlice(programs)
	return u.set(FieldDetectedPrograms)
}

func (u *Update) SetNamespaceFilter(f *NamespaceFilter) *Update {
	u.v.NamespaceFilter = f
	return u.set(FieldNamespaceFilter)
}

func (u *Update) SetRetrievedDocs(docs []Document) *Update {
	u.v.RetrievedDocs = cloneSlice(docs)
	return u.set(FieldRetrievedDocs)
}

func (u *Update) SetRetrievalStats(stats RetrievalStats) *Update {
	u.v.RetrievalStats = &stats
	return u.set(FieldRetrievalStats)
}

func (u *Update) SetFilteredDocs(docs []Document) *Update {
	u.v.FilteredDocs = cloneSlice(docs)
	return u.set(FieldFilteredDocs)
}

func (u *Update) SetRelevanceScores(scores []float64) *Update {
	u.v.RelevanceScores = cloneSlice(scores)
	return u.set(FieldRelevanceScores)
}

func (u *Update) SetRejectionReasons(reasons []string) *Update {
	u.v.RejectionReasons = cloneSlice(reasons)
	return u.set(FieldRejectionReasons)
}

func (u *Update) SetIsCoverageQuestion(v bool) *Update {
	u.v.IsCoverageQuestion = v
	return u.set(FieldIsCoverageQuestion)
}

func (u *Update) SetCoverageTopic(topic string) *Update {
	u.v.CoverageTopic = topic
	return u.set(FieldCoverageTopic)
}

func (u *Update) SetCoverageVerification(cv CoverageVerification) *Update {
	u.v.CoverageVerification = &cv
	return u.set(FieldCoverageVerification)
}

func (u *Update) SetGeneratedResponse(text string) *Update {
	u.v.GeneratedResponse = text
	return u.set(FieldGeneratedResponse)
}

func (u *Update) SetSourceCitations(sources []string) *Update {
	u.v.SourceCitations = cloneSlice(sources)
	return u.set(FieldSourceCitations)
}

func (u *Update) SetEvidenceSufficient(v bool) *Update {
	u.v.EvidenceSufficient = v
	return u.set(FieldEvidenceSufficient)
}

func (u *Update) SetFaithfulnessScore(score float64) *Update {
	u.v.FaithfulnessScore = clamp01(score)
	return u.set(FieldFaithfulnessScore)
}

func (u *Update) SetIsGrounded(v bool) *Update {
	u.v.IsGrounded = v
	return u.set(FieldIsGrounded)
}

func (u *Update) SetHasCriticalViolations(v bool) *Update {
	u.v.HasCriticalViolations = v
	return u.set(FieldHasCriticalViolations)
}

func (u *Update) SetViolations(v []Violation) *Update {
	u.v.Violations = cloneSlice(v)
	return u.set(FieldViolations)
}

func (u *Update) SetIterationCount(n int) *Update {
	u.v.IterationCount = n
	return u.set(FieldIterationCount)
}

func (u *Update) SetRefinementStrategy(s Strategy) *Update {
	u.v.RefinementStrategy = s
	return u.set(FieldRefinementStrategy)
}

func (u *Update) SetFinalResponse(text string) *Update {
	u.v.FinalResponse = text
	return u.set(FieldFinalResponse)
}

// SetMetadata replaces the metadata record; callers start from s.Metadata.Clone()
func (u *Update) SetMetadata(m Metadata) *Update {
	u.v.Metadata = m.Clone()
	return u.set(FieldMetadata)
}

func (u *Update) SetError(msg string) *Update {
	u.v.Error = msg
	return u.set(FieldError)
}

// View exposes the values carried by the update, for tests and observers
func (u *Update) View() PipelineState {
	if u == nil {
		return PipelineState{}
	}
	v := u.v.Clone()
	v.present = u.fields
	return v
}

// Declare marks f as produced without touching any value. The graph executor
// uses it so a stage's declared writes are present after every invocation.
func (s PipelineState) Declare(f Field) PipelineState {
	s.present |= f &^ FieldQuery
	return s
}

// View returns a copy that carries only the fields in f. Everything else
// reads as its zero value and is reported absent by Has.
func (s PipelineState) View(f Field) PipelineState {
	var out PipelineState
	copyFields(&out, s.Clone(), f)
	if f&FieldQuery != 0 {
		out.Query = s.Query
	}
	out.present = s.present & f
	return out
}

// Only drops every field outside f from the update
func (u *Update) Only(f Field) *Update {
	if u == nil {
		return nil
	}
	kept := &Update{fields: u.fields & f}
	copyFields(&kept.v, u.v.Clone(), kept.fields)
	return kept
}
