// Package metrics exposes pipeline execution as prometheus metrics
package metrics

import (
	"strings"
	"time"

	"curriculum-qa-be/pkg/rag/graph"
	"curriculum-qa-be/pkg/rag/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "curriculum_qa"

// branchPrefix marks the fan-out timings recorded in state metadata
const branchPrefix = "understand."

// Observer implements graph.Observer
type Observer struct {
	stageDuration  *prometheus.HistogramVec
	stageDegraded  *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	runSteps       prometheus.Histogram
	iterations     *prometheus.HistogramVec
	refetches      prometheus.Counter
	branchDuration *prometheus.HistogramVec
}

var _ graph.Observer = (*Observer)(nil)

// NewObserver registers the pipeline metrics on reg
func NewObserver(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds", Help: "Duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		stageDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_degraded_total", Help: "Stage runs that failed and were replaced by their degraded update.",
		}, []string{"stage"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total", Help: "Completed pipeline runs by terminal path and intent.",
		}, []string{"path", "intent"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds", Help: "End to end duration of a pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		runSteps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_steps", Help: "Stages executed per run.",
			Buckets: prometheus.LinearBuckets(2, 2, 12),
		}),
		iterations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "refinement_iterations", Help: "Refinement iterations per run.",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		}, []string{"intent"}),
		refetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "refetches_total", Help: "Re-fetches triggered by the document filter.",
		}),
		branchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "fanout_branch_duration_seconds", Help: "Duration of each understanding fan-out branch.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"branch"}),
	}
}

func (o *Observer) StageCompleted(id graph.StageID, took time.Duration, degraded bool) {
	o.stageDuration.WithLabelValues(string(id)).Observe(took.Seconds())
	if degraded {
		o.stageDegraded.WithLabelValues(string(id)).Inc()
	}
}

func (o *Observer) RunCompleted(final state.PipelineState, steps int, took time.Duration) {
	path := final.Metadata.Path
	if path == "" {
		path = "unknown"
	}
	intent := string(final.QueryIntent)
	if intent == "" {
		intent = string(state.IntentGeneralInfo)
	}

	o.runs.WithLabelValues(path, intent).Inc()
	o.runDuration.Observe(took.Seconds())
	o.runSteps.Observe(float64(steps))
	o.iterations.WithLabelValues(intent).Observe(float64(final.IterationCount))
	if final.Metadata.RefetchCount > 0 {
		o.refetches.Add(float64(final.Metadata.RefetchCount))
	}
	for key, d := range final.Metadata.Timings {
		if branch, ok := strings.CutPrefix(key, branchPrefix); ok {
			o.branchDuration.WithLabelValues(branch).Observe(d.Seconds())
		}
	}
}
