// Package policy holds the per-intent knobs of the pipeline: retrieval budget,
// relevance and faithfulness thresholds, loop caps and violation blocking.
package policy

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"curriculum-qa-be/pkg/rag/state"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultYAML []byte

// Intent is the resolved policy for one query intent
type Intent struct {
	TopK                  int            `yaml:"top_k" validate:"gte=1"`
	RelevanceThreshold    float64        `yaml:"relevance_threshold" validate:"gte=0,lte=1"`
	ForceUniversal        bool           `yaml:"force_universal"`
	FaithfulnessThreshold float64        `yaml:"faithfulness_threshold" validate:"gte=0,lte=1"`
	MaxIterations         int            `yaml:"max_iterations" validate:"gte=0,lte=5"`
	BlockingSeverity      state.Severity `yaml:"blocking_severity" validate:"oneof=low medium high critical"`
}

type intentOverride struct {
	TopK                  *int            `yaml:"top_k"`
	RelevanceThreshold    *float64        `yaml:"relevance_threshold"`
	ForceUniversal        *bool           `yaml:"force_universal"`
	FaithfulnessThreshold *float64        `yaml:"faithfulness_threshold"`
	MaxIterations         *int            `yaml:"max_iterations"`
	BlockingSeverity      *state.Severity `yaml:"blocking_severity"`
}

func (o intentOverride) apply(base Intent) Intent {
	if o.TopK != nil {
		base.TopK = *o.TopK
	}
	if o.RelevanceThreshold != nil {
		base.RelevanceThreshold = *o.RelevanceThreshold
	}
	if o.ForceUniversal != nil {
		base.ForceUniversal = *o.ForceUniversal
	}
	if o.FaithfulnessThreshold != nil {
		base.FaithfulnessThreshold = *o.FaithfulnessThreshold
	}
	if o.MaxIterations != nil {
		base.MaxIterations = *o.MaxIterations
	}
	if o.BlockingSeverity != nil {
		base.BlockingSeverity = *o.BlockingSeverity
	}
	return base
}

type policyFile struct {
	Default               Intent                    `yaml:"default"`
	Intents               map[string]intentOverride `yaml:"intents"`
	MaxRefetches          int                       `yaml:"max_refetches"`
	MinProgramDocs        int                       `yaml:"min_program_docs"`
	RelevanceFallbackTopN int                       `yaml:"relevance_fallback_top_n"`
	FineFilterMinKeep     int                       `yaml:"fine_filter_min_keep"`
	CriticalKinds         []string                  `yaml:"critical_violation_kinds"`
}

// Table is the full policy. It is immutable once built.
type Table struct {
	Default Intent
	Intents map[state.Intent]Intent

	// MaxRefetches caps filter-triggered re-retrievals per query
	MaxRefetches int `validate:"gte=0,lte=1"`
	// MinProgramDocs is the program-specific match count below which filtering asks for a refetch
	MinProgramDocs int `validate:"gte=0"`
	// RelevanceFallbackTopN is how many chunks survive when relevance assessment rejects all of them
	RelevanceFallbackTopN int `validate:"gte=1"`
	// FineFilterMinKeep triggers the fine filter safety net when fewer chunks are kept
	FineFilterMinKeep int `validate:"gte=0"`

	CriticalKinds map[string]bool
}

var (
	defaultTable     *Table
	defaultTableOnce sync.Once
	defaultTableErr  error
)

// Default returns the embedded policy table
func Default() (*Table, error) {
	defaultTableOnce.Do(func() {
		defaultTable, defaultTableErr = Parse(defaultYAML)
	})
	return defaultTable, defaultTableErr
}

// MustDefault is Default for callers that cannot recover, such as tests and
// package-level wiring. The embedded file is covered by tests.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads a policy file; an empty path returns the embedded default
func Load(filePath string) (*Table, error) {
	if filePath == "" {
		return Default()
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	t := &Table{
		Default:               file.Default,
		Intents:               make(map[state.Intent]Intent, len(file.Intents)),
		MaxRefetches:          file.MaxRefetches,
		MinProgramDocs:        file.MinProgramDocs,
		RelevanceFallbackTopN: file.RelevanceFallbackTopN,
		FineFilterMinKeep:     file.FineFilterMinKeep,
		CriticalKinds:         make(map[string]bool, len(file.CriticalKinds)),
	}
	for name, o := range file.Intents {
		intent := state.Intent(strings.ToLower(name))
		if state.ParseIntent(name) != intent {
			return nil, fmt.Errorf("policy: unknown intent %q", name)
		}
		t.Intents[intent] = o.apply(file.Default)
	}
	for _, kind := range file.CriticalKinds {
		t.CriticalKinds[strings.ToLower(kind)] = true
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

var validate = validator.New()

func (t *Table) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if err := validate.Struct(t.Default); err != nil {
		return fmt.Errorf("policy default: %w", err)
	}
	for intent, p := range t.Intents {
		if err := validate.Struct(p); err != nil {
			return fmt.Errorf("policy %s: %w", intent, err)
		}
	}
	return nil
}

// For returns the policy of an intent, falling back to the default
func (t *Table) For(intent state.Intent) Intent {
	if p, ok := t.Intents[intent]; ok {
		return p
	}
	return t.Default
}

// TopK computes the retrieval budget: the intent's base, doubled per refetch
// when a refetch was signalled, doubled again for EXPAND_CHUNKS, capped at max.
func (t *Table) TopK(intent state.Intent, refetchCount int, strategy state.Strategy, max int) int {
	k := t.For(intent).TopK
	if refetchCount > 0 {
		k *= int(math.Pow(2, float64(refetchCount)))
	}
	if strategy == state.StrategyExpandChunks {
		k *= 2
	}
	if max > 0 && k > max {
		k = max
	}
	return k
}

// IsCritical reports whether a violation kind is one that can block acceptance
func (t *Table) IsCritical(kind string) bool {
	return t.CriticalKinds[strings.ToLower(strings.TrimSpace(kind))]
}

// Blocks reports whether v alone prevents accepting an answer for intent
func (t *Table) Blocks(intent state.Intent, v state.Violation) bool {
	return t.IsCritical(v.Kind) && v.Severity.Rank() >= t.For(intent).BlockingSeverity.Rank()
}
