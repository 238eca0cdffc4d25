package understanding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/catalog"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/state"
)

// DetectWrites are the fields the detection branch produces
const DetectWrites = state.FieldDetectedPrograms | state.FieldNamespaceFilter

type detectResponse struct {
	Programs []string `json:"programs"`
}

// Detector finds the programs a question is about: catalog aliases first,
// then the model, then the programs the thread was already discussing.
type Detector struct {
	catalog *catalog.Catalog
	llm     llm.LLMProvider
	logger  logger.ILogger
	timeout time.Duration
}

// NewDetector builds a Detector. provider may be nil to use catalog matching only.
func NewDetector(c *catalog.Catalog, provider llm.LLMProvider, log logger.ILogger, timeout time.Duration) *Detector {
	return &Detector{catalog: c, llm: provider, logger: log, timeout: timeout}
}

func (d *Detector) Run(ctx context.Context, s state.PipelineState) (*state.Update, error) {
	programs := d.catalog.DetectPrograms(s.Query)
	source := "catalog"

	if len(programs) == 0 && d.llm != nil {
		found, err := d.ask(ctx, s.Query)
		if err != nil {
			d.logger.Warn("Understanding", "Program detection by model failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		programs, source = found, "model"
	}
	if len(programs) == 0 {
		programs, source = d.catalog.Known(s.PriorPrograms), "session"
	}

	u := state.NewUpdate().SetDetectedPrograms(programs)
	if len(programs) > 0 {
		u.SetNamespaceFilter(&state.NamespaceFilter{Sources: d.catalog.SourcesFor(programs)})
	} else {
		u.SetNamespaceFilter(nil)
	}

	d.logger.Debug("Understanding", "Programs detected", map[string]interface{}{
		"programs": programs,
		"source":   source,
	})
	return u, nil
}

func (d *Detector) ask(ctx context.Context, query string) ([]string, error) {
	var ids strings.Builder
	for _, p := range d.catalog.Programs() {
		fmt.Fprintf(&ids, "- %s: %s\n", p.ID, p.Name)
	}
	p := prompt.NewBuilder().
		Section("programs", ids.String()).
		Section("question", query).
		String()

	callCtx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	raw, err := d.llm.Generate(callCtx, p, llm.WithSystem(prompt.DetectPrograms), llm.WithJSONResponse(), llm.WithTemperature(0))
	if err != nil {
		return nil, err
	}
	var resp detectResponse
	if err := prompt.Decode(raw, &resp); err != nil {
		return nil, err
	}
	return d.catalog.Known(resp.Programs), nil
}

// DetectFallback scopes nothing: no programs and no namespace filter
func DetectFallback(_ state.PipelineState, _ error) *state.Update {
	return state.NewUpdate().
		SetDetectedPrograms([]string{}).
		SetNamespaceFilter(nil)
}
