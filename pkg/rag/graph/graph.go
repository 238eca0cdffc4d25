// Package graph runs a pipeline of stages over a state.PipelineState.
// A Builder declares stages and transitions; Compile checks the wiring once
// (reachability, guarded cycles, field dataflow) and returns an immutable
// Graph that can serve any number of concurrent runs.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"curriculum-qa-be/pkg/rag/state"
)

// StageID names a stage in the transition table
type StageID string

// End is the terminal marker. It is never a registered stage.
const End StageID = "__end__"

var (
	ErrNoEntry             = errors.New("graph: entry stage not set")
	ErrDuplicateStage      = errors.New("graph: duplicate stage")
	ErrUnknownStage        = errors.New("graph: unknown stage")
	ErrDuplicateTransition = errors.New("graph: stage already has an outgoing transition")
	ErrMissingTransition   = errors.New("graph: stage has no outgoing transition")
	ErrUnreachableStage    = errors.New("graph: stage unreachable from entry")
	ErrNoPathToEnd         = errors.New("graph: stage cannot reach end")
	ErrUnguardedCycle      = errors.New("graph: cycle without a guarded stage")
	ErrUnsatisfiedRead     = errors.New("graph: stage reads a field not produced on every path")
	ErrInvalidRoute        = errors.New("graph: router returned an undeclared destination")
	ErrStepLimit           = errors.New("graph: step limit exceeded")
	ErrGuardStalled        = errors.New("graph: guarded stage revisited without progress")
)

// StageFunc does the work of one stage. It must not mutate s; everything it
// produces goes into the returned update.
type StageFunc func(ctx context.Context, s state.PipelineState) (*state.Update, error)

// Stage is a node of the graph
type Stage struct {
	ID  StageID
	Run StageFunc

	// Reads and Writes declare the fields the stage consumes and produces.
	Reads  state.Field
	Writes state.Field

	// MayRead lists fields the stage reads when some path produced them and
	// treats as zero values otherwise.
	MayRead state.Field

	// Degrade supplies router-relevant defaults when Run fails. It is merged
	// over the zero values of Writes.
	Degrade func(s state.PipelineState, err error) *state.Update

	// Progress is sent to the run's notifier before the stage starts
	Progress string
}

// Router picks the next stage from the state produced by the stage it follows
type Router func(s state.PipelineState) StageID

// Counter reads the value a guarded stage must strictly increase on every visit
type Counter func(s state.PipelineState) int

type transition struct {
	to      StageID
	router  Router
	allowed []StageID
}

func (t transition) targets() []StageID {
	if t.router == nil {
		return []StageID{t.to}
	}
	return t.allowed
}

func (t transition) permits(id StageID) bool {
	for _, a := range t.allowed {
		if a == id {
			return true
		}
	}
	return false
}

type guard struct {
	counter Counter
}

// Notifier receives progress text for a thread
type Notifier interface {
	Notify(ctx context.Context, threadID, status string) error
}

// RunContext is created per turn and carries what a single run needs besides state
type RunContext struct {
	ThreadID string
	Notifier Notifier

	// ProgressTimeout bounds each progress send; sends happen in stage order
	// without blocking the run
	ProgressTimeout time.Duration
}

// Observer receives execution events. internal/metrics implements it with prometheus.
type Observer interface {
	StageCompleted(id StageID, took time.Duration, degraded bool)
	RunCompleted(final state.PipelineState, steps int, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) StageCompleted(StageID, time.Duration, bool) {}
func (nopObserver) RunCompleted(state.PipelineState, int, time.Duration) {}

// Builder collects stages and transitions. It is not safe for concurrent use.
type Builder struct {
	stages      map[StageID]Stage
	order       []StageID
	transitions map[StageID]transition
	guards      map[StageID]guard
	entry       StageID
	safetyExit  *Stage
	errs        []error
}

func NewBuilder() *Builder {
	return &Builder{
		stages:      make(map[StageID]Stage),
		transitions: make(map[StageID]transition),
		guards:      make(map[StageID]guard),
	}
}

func (b *Builder) AddStage(st Stage) *Builder {
	switch {
	case st.ID == "" || st.ID == End:
		b.errs = append(b.errs, fmt.Errorf("%w: invalid id %q", ErrUnknownStage, st.ID))
	case st.Run == nil:
		b.errs = append(b.errs, fmt.Errorf("graph: stage %s has no run func", st.ID))
	default:
		if _, dup := b.stages[st.ID]; dup {
			b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateStage, st.ID))
			return b
		}
		b.stages[st.ID] = st
		b.order = append(b.order, st.ID)
	}
	return b
}

// AddEdge declares an unconditional transition
func (b *Builder) AddEdge(from, to StageID) *Builder {
	return b.addTransition(from, transition{to: to})
}

// AddConditionalEdge declares a routed transition. The router may only
// return one of allowed; anything else aborts the run through the safety exit.
func (b *Builder) AddConditionalEdge(from StageID, router Router, allowed ...StageID) *Builder {
	if router == nil || len(allowed) == 0 {
		b.errs = append(b.errs, fmt.Errorf("graph: conditional edge from %s needs a router and destinations", from))
		return b
	}
	return b.addTransition(from, transition{router: router, allowed: append([]StageID(nil), allowed...)})
}

func (b *Builder) addTransition(from StageID, t transition) *Builder {
	if _, dup := b.transitions[from]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateTransition, from))
		return b
	}
	b.transitions[from] = t
	return b
}

func (b *Builder) SetEntry(id StageID) *Builder {
	b.entry = id
	return b
}

// Guard marks a stage as a loop guard. Every cycle in the graph must pass
// through a guarded stage, and at run time the counter must strictly increase
// between consecutive visits.
func (b *Builder) Guard(id StageID, counter Counter) *Builder {
	if counter == nil {
		b.errs = append(b.errs, fmt.Errorf("graph: guard on %s needs a counter", id))
		return b
	}
	b.guards[id] = guard{counter: counter}
	return b
}

// SetSafetyExit registers the stage that runs when a run is aborted
// (undeclared route, step limit, stalled guard, cancellation). It sits outside
// the transition table and may only read seed fields.
func (b *Builder) SetSafetyExit(st Stage) *Builder {
	if st.Run == nil {
		b.errs = append(b.errs, fmt.Errorf("graph: safety exit %s has no run func", st.ID))
		return b
	}
	b.safetyExit = &st
	return b
}
