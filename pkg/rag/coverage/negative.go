package coverage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/catalog"
	"curriculum-qa-be/pkg/rag/state"
)

var errMissingVerdict = errors.New("coverage verification: no is_present verdict")

const (
	NegativeReads  = state.FieldQuery | state.FieldEnhancedQuery | state.FieldDetectedPrograms | state.FieldPriorPrograms | state.FieldFilteredDocs | state.FieldCoverageVerification | state.FieldMetadata
	NegativeWrites = state.FieldFinalResponse | state.FieldSourceCitations | state.FieldMetadata
)

// NegativeResponder composes the "not included" answer without a model call.
// It cites each program's canonical document from the catalog, whether or not
// that document was retrieved.
type NegativeResponder struct {
	catalog *catalog.Catalog
	logger  logger.ILogger
}

func NewNegativeResponder(c *catalog.Catalog, log logger.ILogger) *NegativeResponder {
	return &NegativeResponder{catalog: c, logger: log}
}

func (n *NegativeResponder) Run(_ context.Context, s state.PipelineState) (*state.Update, error) {
	topic := Topic(s)
	if s.CoverageVerification != nil && strings.TrimSpace(s.CoverageVerification.Topic) != "" {
		topic = strings.TrimSpace(s.CoverageVerification.Topic)
	}

	programs := n.programs(s)
	var names, citations []string
	for _, id := range programs {
		p, ok := n.catalog.Program(id)
		if !ok {
			continue
		}
		names = append(names, p.Name)
		citations = append(citations, n.catalog.CanonicalDocument(id))
	}

	var sb strings.Builder
	if len(names) == 0 {
		fmt.Fprintf(&sb, "Based on the curriculum documents available to me, %s is not included in the program content.", topic)
	} else {
		fmt.Fprintf(&sb, "Based on the official %s curriculum, %s is not included in the program.", joinNames(names), topic)
		fmt.Fprintf(&sb, " You can review the full program content in %s.", strings.Join(citations, ", "))
	}

	md := s.Metadata.Clone()
	md.Path = state.PathNegativeCoverage

	n.logger.Info("Coverage", "Answered with negative coverage", map[string]interface{}{
		"topic":     topic,
		"programs":  programs,
		"citations": citations,
	})

	if citations == nil {
		citations = []string{}
	}
	return state.NewUpdate().
		SetFinalResponse(sb.String()).
		SetSourceCitations(citations).
		SetMetadata(md), nil
}

// programs prefers the detected programs, then the programs owning the
// evidence, then the ones the thread discussed before
func (n *NegativeResponder) programs(s state.PipelineState) []string {
	if known := n.catalog.Known(s.DetectedPrograms); len(known) > 0 {
		return known
	}
	var owners []string
	for _, d := range s.FilteredDocs {
		if id, ok := n.catalog.ProgramOf(d.Source); ok {
			owners = append(owners, id)
		}
	}
	if known := n.catalog.Known(owners); len(known) > 0 {
		return known
	}
	return n.catalog.Known(s.PriorPrograms)
}

func joinNames(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
