// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal counts pipeline runs, labelled by verdict.
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botshield",
		Name:      "evaluations_total",
		Help:      "Completed detection evaluations by verdict.",
	}, []string{"verdict"}) // "bot" / "human"

	// VerdictsByBand counts final risk bands.
	VerdictsByBand = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botshield",
		Name:      "verdicts_by_band_total",
		Help:      "Final verdicts by risk band.",
	}, []string{"band"})

	// ActionsTotal counts recommended actions.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botshield",
		Name:      "actions_total",
		Help:      "Recommended actions by name and policy.",
	}, []string{"action", "policy"})

	// DetectorTimeouts counts per-detector deadline expiries.
	DetectorTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botshield",
		Name:      "detector_timeouts_total",
		Help:      "Detector runs abandoned at their per-detector deadline.",
	}, []string{"detector"})

	// PartialEvaluations counts runs that hit the global budget.
	PartialEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "botshield",
		Name:      "partial_evaluations_total",
		Help:      "Evaluations cut short by the global budget.",
	})

	// PipelineDuration observes whole-pipeline wall time.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "botshield",
		Name:      "pipeline_duration_seconds",
		Help:      "Wall-clock duration of one evaluation.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .15, .25, .5, 1},
	})

	// LLMEscalations counts ambiguous-band escalations by outcome.
	LLMEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botshield",
		Name:      "llm_escalations_total",
		Help:      "LLM classifier escalations by outcome.",
	}, []string{"outcome"}) // "verdict" / "failed"
)
