package graph

import (
	"errors"
	"fmt"

	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/pkg/rag/state"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxSteps = 64

// Graph is a compiled, immutable stage graph
type Graph struct {
	stages      map[StageID]Stage
	transitions map[StageID]transition
	guards      map[StageID]guard
	entry       StageID
	safetyExit  *Stage
	available   map[StageID]state.Field

	// strictReads hands every stage a view limited to its declared reads
	strictReads bool

	maxSteps int
	logger   logger.ILogger
	observer Observer
	tracer   trace.Tracer
}

type Option func(*Graph)

func WithLogger(l logger.ILogger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Graph) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithMaxSteps bounds the number of stage invocations per run
func WithMaxSteps(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.maxSteps = n
		}
	}
}

// WithStrictReads runs every stage on a view of the state that holds only
// its Reads and MayRead fields, so an undeclared read sees a zero value.
func WithStrictReads() Option {
	return func(g *Graph) {
		g.strictReads = true
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Graph) {
		if t != nil {
			g.tracer = t
		}
	}
}

// Compile validates the declared graph and freezes it. seed is the set of
// fields present on the state handed to Run.
func (b *Builder) Compile(seed state.Field, opts ...Option) (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.entry == "" {
		return nil, ErrNoEntry
	}
	if _, ok := b.stages[b.entry]; !ok {
		return nil, fmt.Errorf("%w: entry %s", ErrUnknownStage, b.entry)
	}

	var errs []error
	for from, t := range b.transitions {
		if _, ok := b.stages[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: transition from %s", ErrUnknownStage, from))
		}
		for _, to := range t.targets() {
			if _, ok := b.stages[to]; !ok && to != End {
				errs = append(errs, fmt.Errorf("%w: %s -> %s", ErrUnknownStage, from, to))
			}
		}
	}
	for id := range b.guards {
		if _, ok := b.stages[id]; !ok {
			errs = append(errs, fmt.Errorf("%w: guard on %s", ErrUnknownStage, id))
		}
	}
	for _, id := range b.order {
		if _, ok := b.transitions[id]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingTransition, id))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	reach := b.reachableFromEntry()
	toEnd := b.reachingEnd()
	if !toEnd[b.entry] {
		errs = append(errs, fmt.Errorf("%w: no path from entry %s", ErrNoPathToEnd, b.entry))
	}
	for _, id := range b.order {
		if !reach[id] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnreachableStage, id))
			continue
		}
		if !toEnd[id] && id != b.entry {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoPathToEnd, id))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := b.checkCycles(); err != nil {
		return nil, err
	}

	available := b.mustProduce(seed)
	for _, id := range b.order {
		if missing := b.stages[id].Reads.Missing(available[id]); missing != 0 {
			errs = append(errs, fmt.Errorf("%w: %s reads %s", ErrUnsatisfiedRead, id, missing))
		}
	}
	produced := seed
	for _, id := range b.order {
		produced |= b.stages[id].Writes
	}
	for _, id := range b.order {
		if missing := b.stages[id].MayRead.Missing(produced); missing != 0 {
			errs = append(errs, fmt.Errorf("%w: %s may read %s, which no stage writes", ErrUnsatisfiedRead, id, missing))
		}
	}
	if b.safetyExit != nil {
		if missing := b.safetyExit.Reads.Missing(seed); missing != 0 {
			errs = append(errs, fmt.Errorf("%w: safety exit %s reads %s", ErrUnsatisfiedRead, b.safetyExit.ID, missing))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g := &Graph{
		stages:      make(map[StageID]Stage, len(b.stages)),
		transitions: make(map[StageID]transition, len(b.transitions)),
		guards:      make(map[StageID]guard, len(b.guards)),
		entry:       b.entry,
		available:   available,
		maxSteps:    defaultMaxSteps,
		logger:      logger.NewNopLogger(),
		observer:    nopObserver{},
		tracer:      otel.Tracer("rag-graph"),
	}
	for id, st := range b.stages {
		g.stages[id] = st
	}
	for id, t := range b.transitions {
		g.transitions[id] = t
	}
	for id, gd := range b.guards {
		g.guards[id] = gd
	}
	if b.safetyExit != nil {
		exit := *b.safetyExit
		g.safetyExit = &exit
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (b *Builder) reachableFromEntry() map[StageID]bool {
	seen := map[StageID]bool{b.entry: true}
	queue := []StageID{b.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, to := range b.transitions[id].targets() {
			if to == End || seen[to] {
				continue
			}
			seen[to] = true
			queue = append(queue, to)
		}
	}
	return seen
}

func (b *Builder) reachingEnd() map[StageID]bool {
	preds := b.predecessors()
	seen := map[StageID]bool{}
	queue := append([]StageID(nil), preds[End]...)
	for _, id := range queue {
		seen[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, p := range preds[id] {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return seen
}

// predecessors lists incoming stages in registration order so the result is stable
func (b *Builder) predecessors() map[StageID][]StageID {
	preds := make(map[StageID][]StageID)
	for _, from := range b.order {
		for _, to := range b.transitions[from].targets() {
			preds[to] = append(preds[to], from)
		}
	}
	return preds
}

// checkCycles removes the guarded stages and requires what is left to be
// acyclic, so every cycle passes through at least one guard.
func (b *Builder) checkCycles() error {
	index := 0
	indices := map[StageID]int{}
	lowlink := map[StageID]int{}
	onStack := map[StageID]bool{}
	var stack []StageID
	var errs []error

	var connect func(id StageID)
	connect = func(id StageID) {
		indices[id] = index
		lowlink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		selfLoop := false
		for _, to := range b.transitions[id].targets() {
			if to == End {
				continue
			}
			if _, guarded := b.guards[to]; guarded {
				continue
			}
			if to == id {
				selfLoop = true
			}
			if _, visited := indices[to]; !visited {
				connect(to)
				lowlink[id] = min(lowlink[id], lowlink[to])
			} else if onStack[to] {
				lowlink[id] = min(lowlink[id], indices[to])
			}
		}

		if lowlink[id] != indices[id] {
			return
		}
		var component []StageID
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == id {
				break
			}
		}
		if len(component) > 1 || selfLoop {
			errs = append(errs, fmt.Errorf("%w: %v", ErrUnguardedCycle, component))
		}
	}

	for _, id := range b.order {
		if _, guarded := b.guards[id]; guarded {
			continue
		}
		if _, visited := indices[id]; !visited {
			connect(id)
		}
	}
	return errors.Join(errs...)
}

// mustProduce computes, for every stage, the fields present on entry along
// every path from the graph entry. Forward must analysis: intersection over
// predecessors, iterated to a fixpoint from the top element.
func (b *Builder) mustProduce(seed state.Field) map[StageID]state.Field {
	preds := b.predecessors()
	in := make(map[StageID]state.Field, len(b.order))
	for _, id := range b.order {
		in[id] = state.AllFields
	}
	in[b.entry] = seed

	for changed := true; changed; {
		changed = false
		for _, id := range b.order {
			v := state.AllFields
			if id == b.entry {
				v = seed
			}
			for _, p := range preds[id] {
				v &= in[p] | b.stages[p].Writes
			}
			if v != in[id] {
				in[id] = v
				changed = true
			}
		}
	}
	return in
}

// Entry returns the first stage of every run
func (g *Graph) Entry() StageID {
	return g.entry
}

// Available returns the fields guaranteed present when id starts
func (g *Graph) Available(id StageID) state.Field {
	return g.available[id]
}

// Stage returns the compiled declaration of id
func (g *Graph) Stage(id StageID) (Stage, bool) {
	st, ok := g.stages[id]
	return st, ok
}

// Targets lists the declared destinations of a stage
func (g *Graph) Targets(id StageID) []StageID {
	return append([]StageID(nil), g.transitions[id].targets()...)
}
