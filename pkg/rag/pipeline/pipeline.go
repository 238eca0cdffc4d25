// Package pipeline wires the curriculum stages into a compiled graph and runs
// one conversation turn at a time through it.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/catalog"
	"curriculum-qa-be/pkg/llm"
	"curriculum-qa-be/pkg/rag/coverage"
	"curriculum-qa-be/pkg/rag/filter"
	"curriculum-qa-be/pkg/rag/graph"
	"curriculum-qa-be/pkg/rag/policy"
	"curriculum-qa-be/pkg/rag/refine"
	"curriculum-qa-be/pkg/rag/relevance"
	"curriculum-qa-be/pkg/rag/response"
	"curriculum-qa-be/pkg/rag/retrieve"
	"curriculum-qa-be/pkg/rag/session"
	"curriculum-qa-be/pkg/rag/state"
	"curriculum-qa-be/pkg/rag/understanding"
	"curriculum-qa-be/pkg/rag/verify"
	"curriculum-qa-be/pkg/retrieval"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

var ErrEmptyQuestion = errors.New("pipeline: thread id and question are required")

// Channel receives progress updates and the final answer of a thread
type Channel interface {
	graph.Notifier
	Deliver(ctx context.Context, threadID, text string) error
}

type Config struct {
	// LLMTimeout bounds every individual model call
	LLMTimeout       time.Duration
	RetrievalTimeout time.Duration
	RelevanceWorkers int
	// FineFilter enables the model pass of the filtering stage
	FineFilter      bool
	MaxSteps        int
	ProgressTimeout time.Duration
	DeliveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		LLMTimeout:       30 * time.Second,
		RetrievalTimeout: 10 * time.Second,
		RelevanceWorkers: relevance.DefaultConfig().Workers,
		FineFilter:       true,
		MaxSteps:         64,
		ProgressTimeout:  2 * time.Second,
		DeliveryTimeout:  5 * time.Second,
	}
}

type Deps struct {
	LLM       llm.LLMProvider
	Retriever retrieval.Retriever
	Catalog   *catalog.Catalog
	Policy    *policy.Table
	Sessions  *session.Manager
	// Channel is optional
	Channel  Channel
	Logger   logger.ILogger
	Observer graph.Observer
	Tracer   trace.Tracer
}

// Answer is what a caller gets back for one turn
type Answer struct {
	RunID        string              `json:"run_id"`
	ThreadID     string              `json:"thread_id"`
	Text         string              `json:"answer"`
	Citations    []string            `json:"citations"`
	Intent       state.Intent        `json:"intent"`
	Programs     []string            `json:"programs"`
	Iterations   int                 `json:"iterations"`
	Strategy     state.Strategy      `json:"refinement_strategy,omitempty"`
	Faithfulness float64             `json:"faithfulness_score"`
	Path         string              `json:"path"`
	RefetchCount int                 `json:"refetch_count"`
	Aborted      bool                `json:"aborted,omitempty"`
	Trace        []graph.Step        `json:"trace"`
	Took         time.Duration       `json:"took"`
	State        state.PipelineState `json:"-"`
}

type Pipeline struct {
	graph    *graph.Graph
	sessions *session.Manager
	channel  Channel
	logger   logger.ILogger
	config   Config

	deliveries sync.WaitGroup
}

func New(deps Deps, config Config) (*Pipeline, error) {
	if deps.LLM == nil || deps.Retriever == nil || deps.Sessions == nil {
		return nil, errors.New("pipeline: llm, retriever and sessions are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if deps.Catalog == nil {
		c, err := catalog.Default()
		if err != nil {
			return nil, err
		}
		deps.Catalog = c
	}
	if deps.Policy == nil {
		p, err := policy.Default()
		if err != nil {
			return nil, err
		}
		deps.Policy = p
	}

	g, err := build(deps, config)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		graph:    g,
		sessions: deps.Sessions,
		channel:  deps.Channel,
		logger:   deps.Logger,
		config:   config,
	}, nil
}

func build(deps Deps, config Config) (*graph.Graph, error) {
	log := deps.Logger
	p := deps.Policy

	enhancer := understanding.NewEnhancer(deps.LLM, log, config.LLMTimeout)
	detector := understanding.NewDetector(deps.Catalog, deps.LLM, log, config.LLMTimeout)
	reenhancer := understanding.NewReenhancer(deps.LLM, log, config.LLMTimeout)
	retriever := retrieve.New(deps.Retriever, p, log, config.RetrievalTimeout)
	assessor := relevance.NewAssessor(deps.LLM, deps.Catalog, p, relevance.Config{
		Workers: config.RelevanceWorkers,
		Timeout: config.LLMTimeout,
	}, log)
	var fineFilter llm.LLMProvider
	if config.FineFilter {
		fineFilter = deps.LLM
	}
	docFilter := filter.New(deps.Catalog, p, fineFilter, log, config.LLMTimeout)
	classifier := coverage.NewClassifier(deps.LLM, log, config.LLMTimeout)
	coverageVerifier := coverage.NewVerifier(deps.LLM, log, config.LLMTimeout)
	negative := coverage.NewNegativeResponder(deps.Catalog, log)
	generator := response.NewGenerator(deps.LLM, log, config.LLMTimeout)
	verifier := verify.New(deps.LLM, p, log, config.LLMTimeout)
	controller := refine.NewController(deps.LLM, log, config.LLMTimeout)
	responders := response.NewResponders(log)

	b := graph.NewBuilder().
		AddStage(graph.Stage{
			ID: StageUnderstand, Run: understanding.Understand(enhancer, detector),
			Reads: understanding.Reads, Writes: understanding.Writes, Degrade: understanding.Degrade,
			Progress: "Understanding your question...",
		}).
		AddStage(graph.Stage{
			ID: StageRetrieve, Run: retriever.Run,
			Reads: retrieve.Reads, MayRead: retrieve.MayRead, Writes: retrieve.Writes, Degrade: retriever.Degrade,
			Progress: "Searching the curriculum documents...",
		}).
		AddStage(graph.Stage{
			ID: StageAssessRelevance, Run: assessor.Run,
			Reads: relevance.Reads, Writes: relevance.Writes, Degrade: assessor.Degrade,
			Progress: "Reading the most relevant sections...",
		}).
		AddStage(graph.Stage{
			ID: StageFilterDocuments, Run: docFilter.Run,
			Reads: filter.Reads, MayRead: filter.MayRead, Writes: filter.Writes, Degrade: filter.Degrade,
		}).
		AddStage(graph.Stage{
			ID: StageClassifyCoverage, Run: classifier.Run,
			Reads: coverage.ClassifyReads, Writes: coverage.ClassifyWrites, Degrade: coverage.ClassifyDegrade,
		}).
		AddStage(graph.Stage{
			ID: StageVerifyCoverage, Run: coverageVerifier.Run,
			Reads: coverage.VerifyReads, MayRead: coverage.TopicMayRead, Writes: coverage.VerifyWrites, Degrade: coverage.VerifyDegrade,
			Progress: "Checking what the program covers...",
		}).
		AddStage(graph.Stage{
			ID: StageNegativeCoverage, Run: negative.Run,
			Reads: coverage.NegativeReads, MayRead: coverage.TopicMayRead, Writes: coverage.NegativeWrites,
		}).
		AddStage(graph.Stage{
			ID: StageGenerate, Run: generator.Run,
			Reads: response.GenerateReads, MayRead: response.GenerateMayRead, Writes: response.GenerateWrites, Degrade: response.GenerateDegrade,
			Progress: "Writing your answer...",
		}).
		AddStage(graph.Stage{
			ID: StageVerify, Run: verifier.Run,
			Reads: verify.Reads, Writes: verify.Writes, Degrade: verify.Degrade,
			Progress: "Double-checking the answer against the sources...",
		}).
		AddStage(graph.Stage{
			ID: StageRefine, Run: controller.Run,
			Reads: refine.Reads, MayRead: refine.MayRead, Writes: refine.Writes, Degrade: refine.Degrade,
			Progress: "Taking another look...",
		}).
		AddStage(graph.Stage{
			ID: StageReenhance, Run: reenhancer.Run,
			Reads: understanding.ReenhanceReads, Writes: understanding.ReenhanceWrites, Degrade: understanding.ReenhanceDegrade,
		}).
		AddStage(graph.Stage{
			ID: StageFinalize, Run: responders.Finalize,
			Reads: response.FinalizeReads, Writes: response.FinalizeWrites,
		}).
		AddStage(graph.Stage{
			ID: StageNoEvidence, Run: responders.NoEvidence,
			Reads: response.TerminalReads, Writes: response.TerminalWrites,
		}).
		AddStage(graph.Stage{
			ID: StageFallback, Run: responders.Fallback,
			Reads: response.FallbackReads, MayRead: response.FallbackMayRead, Writes: response.TerminalWrites,
		}).
		SetSafetyExit(graph.Stage{
			ID: StageSafetyExit, Run: responders.SafetyExit,
			Reads: response.TerminalReads, Writes: response.TerminalWrites,
		})

	b.AddEdge(StageUnderstand, StageRetrieve).
		AddConditionalEdge(StageRetrieve, afterRetrieve, StageAssessRelevance, StageNoEvidence).
		AddEdge(StageAssessRelevance, StageFilterDocuments).
		AddConditionalEdge(StageFilterDocuments, afterFilter,
			StageRetrieve, StageNoEvidence, StageGenerate, StageClassifyCoverage).
		AddConditionalEdge(StageClassifyCoverage, afterClassify, StageVerifyCoverage, StageGenerate).
		AddConditionalEdge(StageVerifyCoverage, afterVerifyCoverage, StageNegativeCoverage, StageGenerate).
		AddEdge(StageGenerate, StageVerify).
		AddConditionalEdge(StageVerify, afterVerify(p), StageFinalize, StageRefine, StageFallback).
		AddConditionalEdge(StageRefine, afterRefine,
			StageRetrieve, StageReenhance, StageVerifyCoverage, StageFallback).
		AddEdge(StageReenhance, StageRetrieve).
		AddEdge(StageNegativeCoverage, graph.End).
		AddEdge(StageFinalize, graph.End).
		AddEdge(StageNoEvidence, graph.End).
		AddEdge(StageFallback, graph.End).
		SetEntry(StageUnderstand).
		Guard(StageRetrieve, retrieve.Counter).
		Guard(StageRefine, refine.Counter)

	return b.Compile(state.SeedFields,
		graph.WithLogger(log),
		graph.WithObserver(deps.Observer),
		graph.WithMaxSteps(config.MaxSteps),
		graph.WithStrictReads(),
		graph.WithTracer(deps.Tracer),
	)
}

// Graph exposes the compiled graph, for inspection and tests
func (p *Pipeline) Graph() *graph.Graph {
	return p.graph
}

// Run executes the graph over a prepared state without touching sessions
func (p *Pipeline) Run(ctx context.Context, rc graph.RunContext, s state.PipelineState) (graph.Result, error) {
	return p.graph.Run(ctx, rc, s)
}

// Ask answers one question of a thread. Stage failures never surface here:
// the worst case is a fallback answer. An error means invalid input.
func (p *Pipeline) Ask(ctx context.Context, threadID, question string) (*Answer, error) {
	threadID = strings.TrimSpace(threadID)
	question = strings.TrimSpace(question)
	if threadID == "" || question == "" {
		return nil, ErrEmptyQuestion
	}

	started := time.Now()
	runID := uuid.NewString()
	sess := p.sessions.LoadOrCreate(ctx, threadID)

	seed := state.New(question, p.sessions.History(sess), sess.LastPrograms)
	rc := graph.RunContext{ThreadID: threadID, ProgressTimeout: p.config.ProgressTimeout}
	if p.channel != nil {
		rc.Notifier = p.channel
	}

	res, err := p.graph.Run(ctx, rc, seed)
	if err != nil {
		// only reachable without a safety exit
		return nil, err
	}
	final := res.State

	p.sessions.Record(ctx, sess, question, final)
	p.deliver(ctx, threadID, final.FinalResponse, res.Progress)

	answer := &Answer{
		RunID:        runID,
		ThreadID:     threadID,
		Text:         final.FinalResponse,
		Citations:    append([]string{}, final.SourceCitations...),
		Intent:       final.QueryIntent,
		Programs:     append([]string{}, final.DetectedPrograms...),
		Iterations:   final.IterationCount,
		Strategy:     final.RefinementStrategy,
		Faithfulness: final.FaithfulnessScore,
		Path:         final.Metadata.Path,
		RefetchCount: final.Metadata.RefetchCount,
		Aborted:      res.Aborted != nil,
		Trace:        res.Trace,
		Took:         time.Since(started),
		State:        final,
	}

	p.logger.Info("Pipeline", "Question answered", map[string]interface{}{
		"run_id":     runID,
		"thread_id":  threadID,
		"intent":     answer.Intent,
		"path":       answer.Path,
		"iterations": answer.Iterations,
		"steps":      len(res.Trace),
		"took_ms":    answer.Took.Milliseconds(),
	})
	return answer, nil
}

// deliver hands the answer to the channel without waiting for it. The send
// starts once the run's status lines are out, so no progress line trails the
// answer.
func (p *Pipeline) deliver(ctx context.Context, threadID, text string, progressed <-chan struct{}) {
	if p.channel == nil {
		return
	}
	timeout := p.config.DeliveryTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().DeliveryTimeout
	}

	p.deliveries.Add(1)
	go func() {
		defer p.deliveries.Done()
		if progressed != nil {
			<-progressed
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := p.channel.Deliver(dctx, threadID, text); err != nil {
			p.logger.Warn("Pipeline", "Answer delivery failed", map[string]interface{}{
				"thread_id": threadID,
				"error":     err.Error(),
			})
		}
	}()
}

// Wait blocks until pending deliveries have finished
func (p *Pipeline) Wait() {
	p.deliveries.Wait()
}
