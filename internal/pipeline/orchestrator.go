// Package pipeline schedules the detector catalog over the per-request
// blackboard: priority waves, trigger filtering, per-detector timeouts,
// and the publish barrier between waves.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/perimeterlab/botshield-engine/internal/detectors"
	"github.com/perimeterlab/botshield-engine/internal/registry"
	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// WaveGate lets the engine veto a whole wave at its boundary. The LLM tier
// only runs when the interim probability sits in the ambiguous band; the
// gate is how that decision reaches the scheduler without the scheduler
// knowing about calibration.
type WaveGate func(priority int, dc *signals.Context) bool

// Outcome summarises one pipeline run for the aggregator and metrics.
type Outcome struct {
	Completed int  // detector runs applied to the blackboard
	Scheduled int  // runs launched plus runs forfeited to the budget
	Timeouts  int  // runs abandoned at their per-detector deadline
	Failures  int  // runs that returned an error or panicked
	Partial   bool // global budget expired before the last wave
}

// Orchestrator drives the wave loop. Immutable after construction; one
// instance serves all requests concurrently.
type Orchestrator struct {
	reg       *registry.Registry
	catalog   map[string]detectors.Detector
	budget    time.Duration
	reserve   time.Duration // tail kept for aggregation
	gate      WaveGate
	onTimeout func(detector string) // metrics hook, may be nil
}

// New builds an orchestrator over a loaded registry and detector catalog.
// Detectors without a manifest entry, and manifests without an implementation,
// are both startup errors: the catalog and the registry must agree exactly.
func New(reg *registry.Registry, catalog map[string]detectors.Detector, budgetMs int, gate WaveGate, onTimeout func(string)) (*Orchestrator, error) {
	for _, w := range reg.Waves() {
		for _, m := range w.Detectors {
			if _, ok := catalog[m.Name]; !ok {
				return nil, fmt.Errorf("manifest %q has no registered detector", m.Name)
			}
		}
	}
	for name := range catalog {
		if _, ok := reg.Get(name); !ok {
			return nil, fmt.Errorf("detector %q has no manifest", name)
		}
	}

	budget := time.Duration(budgetMs) * time.Millisecond
	return &Orchestrator{
		reg:       reg,
		catalog:   catalog,
		budget:    budget,
		reserve:   budget / 10,
		gate:      gate,
		onTimeout: onTimeout,
	}, nil
}

// SeedInputs publishes the derived request properties triggers may
// reference, before wave 0. Raw UA and address never land on the board.
func SeedInputs(dc *signals.Context) {
	fp := dc.Fingerprint
	dc.SeedSignal("request.method", models.StringSignal(fp.Method))
	dc.SeedSignal("request.path.depth", models.IntSignal(int64(pathDepth(fp.Path))))
	dc.SeedSignal("request.path.length", models.IntSignal(int64(len(fp.Path))))
	dc.SeedSignal("request.header.count", models.IntSignal(int64(len(fp.Headers))))
	dc.SeedSignal("request.has_tls", models.BoolSignal(fp.TLS != nil))
	dc.SeedSignal("request.has_http2", models.BoolSignal(fp.HTTP2 != nil))
	dc.SeedSignal("request.has_client_bundle", models.BoolSignal(len(fp.ClientBundle) > 0))
}

func pathDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

type runOutcome struct {
	name     string
	res      *detectors.Result
	err      error
	timedOut bool
}

// Run executes the wave loop against a seeded context. The deadline is
// anchored to the context's start time so middleware overhead counts
// against the budget, not on top of it.
func (o *Orchestrator) Run(ctx context.Context, dc *signals.Context) Outcome {
	deadline := dc.StartedAt.Add(o.budget)
	var out Outcome

	waves := o.reg.Waves()
	for wi, wave := range waves {
		remaining := time.Until(deadline)
		if remaining <= o.reserve || ctx.Err() != nil {
			out.Partial = true
			for _, rest := range waves[wi:] {
				out.Scheduled += len(rest.Detectors)
			}
			log.Printf("[Pipeline] budget exceeded before wave %d (%s left), returning partial", wave.Priority, remaining)
			break
		}
		if o.gate != nil && !o.gate(wave.Priority, dc) {
			continue
		}

		runnable := make([]detectors.Detector, 0, len(wave.Detectors))
		for _, m := range wave.Detectors {
			if !TriggerMet(m.Triggers, dc) {
				continue
			}
			runnable = append(runnable, o.catalog[m.Name])
		}
		if len(runnable) == 0 {
			continue
		}

		out.Scheduled += len(runnable)
		o.runWave(ctx, dc, runnable, remaining-o.reserve, &out)
		dc.PublishBarrier()
	}
	return out
}

// runWave launches one wave concurrently and applies results. A result is
// applied only when its detector finished in time: timed-out work is
// abandoned wholesale, never half-applied. Application waits until the
// whole wave has finished, so wave-mates never observe each other's
// contributions and the run stays independent of scheduling order.
func (o *Orchestrator) runWave(ctx context.Context, dc *signals.Context, runnable []detectors.Detector, waveBudget time.Duration, out *Outcome) {
	results := make(chan runOutcome, len(runnable))

	for _, d := range runnable {
		timeout := time.Duration(d.Manifest().Defaults.Timing.TimeoutMs) * time.Millisecond
		if timeout > waveBudget {
			timeout = waveBudget
		}
		go o.runOne(ctx, dc, d, timeout, results)
	}

	finished := make(map[string]*detectors.Result, len(runnable))
	for range runnable {
		r := <-results
		switch {
		case r.timedOut:
			out.Timeouts++
			if o.onTimeout != nil {
				o.onTimeout(r.name)
			}
			log.Printf("[Pipeline] detector %s timed out, result discarded", r.name)
		case r.err != nil:
			out.Failures++
			log.Printf("[Pipeline] detector %s failed: %v", r.name, r.err)
		default:
			finished[r.name] = r.res
			out.Completed++
		}
	}

	// Apply in the wave's deterministic (name-sorted) order, not completion
	// order, so the evidence layout is stable across runs.
	for _, d := range runnable {
		if res, ok := finished[d.Name()]; ok {
			o.apply(dc, d.Name(), res)
		}
	}
}

// runOne enforces the per-detector deadline. The inner goroutine may keep
// running past it; its eventual result goes nowhere.
func (o *Orchestrator) runOne(ctx context.Context, dc *signals.Context, d detectors.Detector, timeout time.Duration, results chan<- runOutcome) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- runOutcome{name: d.Name(), err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := d.Run(rctx, dc)
		done <- runOutcome{name: d.Name(), res: res, err: err}
	}()

	select {
	case r := <-done:
		results <- r
	case <-rctx.Done():
		results <- runOutcome{name: d.Name(), timedOut: true}
	}
}

// apply stages a finished detector's output. Signal conflicts are logged by
// the context; the contribution still lands.
func (o *Orchestrator) apply(dc *signals.Context, name string, res *detectors.Result) {
	if res == nil {
		return
	}
	emitted := make([]string, 0, len(res.Signals))
	for _, s := range res.Signals {
		if err := dc.SetSignal(name, s.Key, s.Value); err == nil {
			emitted = append(emitted, s.Key)
		}
	}
	for _, c := range res.Contributions {
		if len(c.EmittedSignals) == 0 {
			c.EmittedSignals = emitted
		}
		dc.RecordContribution(c)
	}
	for _, rec := range res.Learning {
		if rec.Source == "" {
			rec.Source = name
		}
		dc.AddLearning(rec)
	}
}
