// Package response produces the user-facing answer: the grounded generator
// and the deterministic responders that end a run without it.
package response

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/state"
)

const historyTurns = 6

const (
	GenerateReads  = state.FieldQuery | state.FieldFilteredDocs | state.FieldConversationHistory | state.FieldIterationCount
	GenerateWrites = state.FieldGeneratedResponse | state.FieldSourceCitations | state.FieldEvidenceSufficient

	// GenerateMayRead: coverage evidence exists only after the coverage branch
	GenerateMayRead = state.FieldCoverageVerification
)

type generateResponse struct {
	Answer             string `json:"answer"`
	EvidenceSufficient *bool  `json:"evidence_sufficient"`
}

// Generator answers from the filtered evidence only
type Generator struct {
	llmProvider llm.LLMProvider
	logger      logger.ILogger
	timeout     time.Duration
}

func NewGenerator(llmProvider llm.LLMProvider, log logger.ILogger, timeout time.Duration) *Generator {
	return &Generator{
		llmProvider: llmProvider,
		logger:      log,
		timeout:     timeout,
	}
}

func (g *Generator) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	history := toMessages(s.ConversationHistory, historyTurns)
	fullHistory := append(history, llm.Message{Role: "user", Content: g.buildGroundedPrompt(s)})

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	defer cancel()

	raw, err := g.llmProvider.Chat(callCtx, fullHistory,
		llm.WithSystem(prompt.Generate), llm.WithJSONResponse(), llm.WithTemperature(0.2))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	answer, sufficient := parseAnswer(raw)
	if answer == "" {
		return nil, fmt.Errorf("generate answer: %w", llm.ErrEmptyResponse)
	}
	citations := Citations(answer, s.FilteredDocs)

	g.logger.Info("Generation", "Answer generated", map[string]interface{}{
		"docs":                len(s.FilteredDocs),
		"citations":           citations,
		"evidence_sufficient": sufficient,
		"iteration":           s.IterationCount,
	})

	return state.NewUpdate().
		SetGeneratedResponse(answer).
		SetSourceCitations(citations).
		SetEvidenceSufficient(sufficient), nil
}

func (g *Generator) buildGroundedPrompt(s state.PipelineState) string {
	b := prompt.NewBuilder().
		Section("grounded_reference_material", prompt.Evidence(s.FilteredDocs))
	if cv := s.CoverageVerification; cv != nil && cv.IsPresent && cv.Evidence != "" {
		b.Section("coverage_evidence", fmt.Sprintf("%s: %s", cv.Topic, cv.Evidence))
	}
	return b.
		Section("user_question", s.Query).
		Line("Answer ONLY using the text in <grounded_reference_material>.").
		String()
}

// parseAnswer reads the structured answer. Plain text is accepted as the
// answer but never counts as a claim of sufficient evidence.
func parseAnswer(raw string) (string, bool) {
	var resp generateResponse
	if err := prompt.Decode(raw, &resp); err != nil || strings.TrimSpace(resp.Answer) == "" {
		return strings.TrimSpace(raw), false
	}
	sufficient := resp.EvidenceSufficient != nil && *resp.EvidenceSufficient
	return strings.TrimSpace(resp.Answer), sufficient
}

// Citations lists the sources whose name appears in the answer, in evidence
// order. When the answer names none, every evidence source is cited.
func Citations(answer string, docs []state.Document) []string {
	lower := strings.ToLower(answer)
	all := distinctSources(docs)

	cited := []string{}
	for _, source := range all {
		base := strings.ToLower(path.Base(source))
		stem := strings.TrimSuffix(base, path.Ext(base))
		if strings.Contains(lower, base) || (stem != "" && strings.Contains(lower, stem)) {
			cited = append(cited, source)
		}
	}
	if len(cited) == 0 {
		return all
	}
	return cited
}

func distinctSources(docs []state.Document) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, d := range docs {
		if d.Source == "" || seen[d.Source] {
			continue
		}
		seen[d.Source] = true
		out = append(out, d.Source)
	}
	return out
}

func toMessages(turns []state.Turn, n int) []llm.Message {
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	msgs := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// GenerateDegrade leaves no answer and reports insufficient evidence, which
// the refinement controller never accepts
func GenerateDegrade(s state.PipelineState, _ error) *state.Update {
	return state.NewUpdate().
		SetGeneratedResponse("").
		SetSourceCitations(distinctSources(s.FilteredDocs)).
		SetEvidenceSufficient(false)
}
