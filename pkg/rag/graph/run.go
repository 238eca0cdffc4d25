package graph

import (
	"context"
	"fmt"
	"time"

	"curriculum-qa-be/pkg/rag/state"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultProgressTimeout = 2 * time.Second

// bookkeeping fields survive a degraded stage untouched
const bookkeeping = state.FieldMetadata | state.FieldIterationCount

// Step is one entry of a run trace
type Step struct {
	Stage    StageID       `json:"stage"`
	Next     StageID       `json:"next,omitempty"`
	Took     time.Duration `json:"took"`
	Degraded bool          `json:"degraded,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Result is the outcome of one run
type Result struct {
	State state.PipelineState
	Trace []Step

	// Aborted is set when the run ended through the safety exit
	Aborted error

	// Progress is closed once every status line of the run has been sent
	Progress <-chan struct{}
}

// Path returns the stage ids visited, in order
func (r Result) Path() []StageID {
	ids := make([]StageID, 0, len(r.Trace))
	for _, st := range r.Trace {
		ids = append(ids, st.Stage)
	}
	return ids
}

// Visits counts how many times a stage ran
func (r Result) Visits(id StageID) int {
	n := 0
	for _, st := range r.Trace {
		if st.Stage == id {
			n++
		}
	}
	return n
}

// Run executes the graph from its entry until End. Stage failures never
// surface here; they become degraded updates. An error is returned only when
// the run had to be aborted and no safety exit is configured.
func (g *Graph) Run(ctx context.Context, rc RunContext, s state.PipelineState) (Result, error) {
	started := time.Now()
	ctx, span := g.tracer.Start(ctx, "graph.run", trace.WithAttributes(
		attribute.String("thread_id", rc.ThreadID),
	))
	defer span.End()

	progress := g.startProgress(ctx, rc)
	defer progress.close()

	res := Result{Progress: progress.done}
	lastCounter := make(map[StageID]int)
	current := g.entry

	for current != End {
		if len(res.Trace) >= g.maxSteps {
			return g.abort(ctx, rc, s, res, started, fmt.Errorf("%w: %d", ErrStepLimit, g.maxSteps))
		}
		if err := ctx.Err(); err != nil {
			return g.abort(ctx, rc, s, res, started, err)
		}

		st := g.stages[current]
		progress.send(st)

		stepStart := time.Now()
		view := g.view(st, s)
		update, stageErr := g.invoke(ctx, st, view)
		if stageErr != nil {
			update = g.degrade(st, view, stageErr)
		} else if extra := update.Fields() &^ st.Writes; extra != 0 {
			g.logger.Warn("Graph", "Stage wrote undeclared fields, dropping them", map[string]interface{}{
				"stage":  st.ID,
				"fields": extra.String(),
			})
			update = update.Only(st.Writes)
		}
		s = s.Apply(update).Declare(st.Writes)

		step := Step{Stage: st.ID, Took: time.Since(stepStart), Degraded: stageErr != nil}
		if stageErr != nil {
			step.Error = stageErr.Error()
		}
		g.observer.StageCompleted(st.ID, step.Took, step.Degraded)

		if gd, ok := g.guards[current]; ok {
			v := gd.counter(s)
			if prev, seen := lastCounter[current]; seen && v <= prev {
				res.Trace = append(res.Trace, step)
				return g.abort(ctx, rc, s, res, started, fmt.Errorf("%w: %s counter %d -> %d", ErrGuardStalled, current, prev, v))
			}
			lastCounter[current] = v
		}

		next, err := g.route(current, s)
		step.Next = next
		res.Trace = append(res.Trace, step)
		if err != nil {
			return g.abort(ctx, rc, s, res, started, err)
		}
		current = next
	}

	res.State = s
	g.observer.RunCompleted(s, len(res.Trace), time.Since(started))
	return res, nil
}

func (g *Graph) view(st Stage, s state.PipelineState) state.PipelineState {
	if !g.strictReads {
		return s
	}
	return s.View(st.Reads | st.MayRead)
}

func (g *Graph) invoke(ctx context.Context, st Stage, s state.PipelineState) (update *state.Update, err error) {
	ctx, span := g.tracer.Start(ctx, "stage."+string(st.ID))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			update = nil
			err = fmt.Errorf("stage %s panicked: %v", st.ID, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return st.Run(ctx, s)
}

func (g *Graph) degrade(st Stage, s state.PipelineState, err error) *state.Update {
	g.logger.Error("Graph", "Stage failed, continuing with degraded output", map[string]interface{}{
		"stage": st.ID,
		"error": err.Error(),
	})

	u := state.ZeroUpdate(st.Writes &^ bookkeeping)
	if st.Degrade != nil {
		u.Merge(st.Degrade(s, err).Only(st.Writes))
	}
	return u.SetError(fmt.Sprintf("%s: %v", st.ID, err))
}

func (g *Graph) route(from StageID, s state.PipelineState) (next StageID, err error) {
	t := g.transitions[from]
	if t.router == nil {
		return t.to, nil
	}

	defer func() {
		if r := recover(); r != nil {
			next = ""
			err = fmt.Errorf("%w: router after %s panicked: %v", ErrInvalidRoute, from, r)
		}
	}()

	next = t.router(s)
	if !t.permits(next) {
		return next, fmt.Errorf("%w: %s -> %q", ErrInvalidRoute, from, next)
	}
	return next, nil
}

// abort ends the run through the safety exit, or returns err when none is set
func (g *Graph) abort(ctx context.Context, rc RunContext, s state.PipelineState, res Result, started time.Time, err error) (Result, error) {
	g.logger.Warn("Graph", "Run aborted", map[string]interface{}{
		"thread_id": rc.ThreadID,
		"steps":     len(res.Trace),
		"reason":    err.Error(),
	})

	if g.safetyExit == nil {
		res.State = s
		return res, err
	}

	exit := *g.safetyExit
	stepStart := time.Now()
	view := g.view(exit, s)
	update, exitErr := g.invoke(context.WithoutCancel(ctx), exit, view)
	if exitErr != nil {
		update = g.degrade(exit, view, exitErr)
	}
	s = s.Apply(update).Declare(exit.Writes)

	step := Step{Stage: exit.ID, Next: End, Took: time.Since(stepStart), Degraded: exitErr != nil}
	if exitErr != nil {
		step.Error = exitErr.Error()
	}
	g.observer.StageCompleted(exit.ID, step.Took, step.Degraded)

	res.Trace = append(res.Trace, step)
	res.State = s
	res.Aborted = err
	g.observer.RunCompleted(s, len(res.Trace), time.Since(started))
	return res, nil
}

// progressSender delivers one run's status lines in stage order from a single
// goroutine, so a slow channel never holds up the run.
type progressSender struct {
	lines chan string
	done  chan struct{}
}

func (g *Graph) startProgress(ctx context.Context, rc RunContext) *progressSender {
	ps := &progressSender{done: make(chan struct{})}
	if rc.Notifier == nil {
		close(ps.done)
		return ps
	}
	timeout := rc.ProgressTimeout
	if timeout <= 0 {
		timeout = defaultProgressTimeout
	}

	// one slot per step, so enqueueing never blocks
	ps.lines = make(chan string, g.maxSteps+1)
	base := context.WithoutCancel(ctx)
	go func() {
		defer close(ps.done)
		for line := range ps.lines {
			pctx, cancel := context.WithTimeout(base, timeout)
			err := rc.Notifier.Notify(pctx, rc.ThreadID, line)
			cancel()
			if err != nil {
				g.logger.Warn("Graph", "Progress notification failed", map[string]interface{}{
					"thread_id": rc.ThreadID,
					"status":    line,
					"error":     err.Error(),
				})
			}
		}
	}()
	return ps
}

func (ps *progressSender) send(st Stage) {
	if ps.lines == nil || st.Progress == "" {
		return
	}
	select {
	case ps.lines <- st.Progress:
	default:
	}
}

func (ps *progressSender) close() {
	if ps.lines != nil {
		close(ps.lines)
	}
}
