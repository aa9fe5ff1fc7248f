// Package engine wires the detection stack together: registry, detector
// catalog, orchestrator, aggregator, policies, and the cross-request state.
// One Engine serves all requests concurrently.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/perimeterlab/botshield-engine/internal/config"
	"github.com/perimeterlab/botshield-engine/internal/db"
	"github.com/perimeterlab/botshield-engine/internal/detectors"
	"github.com/perimeterlab/botshield-engine/internal/llm"
	"github.com/perimeterlab/botshield-engine/internal/metrics"
	"github.com/perimeterlab/botshield-engine/internal/pipeline"
	"github.com/perimeterlab/botshield-engine/internal/registry"
	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/internal/signature"
	"github.com/perimeterlab/botshield-engine/internal/state"
	"github.com/perimeterlab/botshield-engine/internal/verdict"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// Engine is the facade the middleware calls. Construction validates the
// whole stack; a constructed engine never fails a request, it fails open.
type Engine struct {
	cfg      *config.Config
	registry *registry.Registry
	orch     *pipeline.Orchestrator
	policies *verdict.PolicyRegistry

	window   state.HitWindow
	weighter *state.AdaptiveWeighter
	clusters *state.ClusterStore
	names    *state.RecentNames

	signer   *signature.Signer
	provider llm.Provider
	store    *db.LearningStore // nil when no database is configured
}

// Options carries the optional externals. Store and Provider may be nil.
type Options struct {
	Store    *db.LearningStore
	Provider llm.Provider
}

// New builds the engine from a validated config.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	reg, err := registry.Load(cfg.Detection.Overrides)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	policies, err := verdict.LoadPolicies(cfg.Detection.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("policies: %w", err)
	}

	span := time.Duration(cfg.State.WindowSeconds) * time.Second
	var window state.HitWindow
	if cfg.State.RedisURL != "" {
		rw, err := state.NewRedisWindow(cfg.State.RedisURL, span)
		if err != nil {
			return nil, fmt.Errorf("redis window: %w", err)
		}
		window = rw
	} else {
		window = state.NewMemoryWindow(span, cfg.State.WindowMaxSignatures)
	}

	weighter := state.NewAdaptiveWeighter(0.05)
	clusters := state.NewClusterStore(weighter)

	e := &Engine{
		cfg:      cfg,
		registry: reg,
		policies: policies,
		window:   window,
		weighter: weighter,
		clusters: clusters,
		names:    state.NewRecentNames(cfg.State.RecentNamesCapacity),
		signer:   signature.NewSigner(cfg.Detection.SecretKey),
		provider: opts.Provider,
		store:    opts.Store,
	}

	catalog, err := detectors.BuildCatalog(reg, detectors.Deps{
		Window:         window,
		Clusters:       clusters,
		Provider:       opts.Provider,
		LLMTemperature: cfg.LLM.Temperature,
		LLMMaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	e.orch, err = pipeline.New(reg, catalog, cfg.Detection.GlobalBudgetMs, e.waveGate,
		func(detector string) { metrics.DetectorTimeouts.WithLabelValues(detector).Inc() })
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return e, nil
}

// Registry exposes the loaded manifest catalog for the dump endpoint.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Policies exposes the action table for the dump endpoint.
func (e *Engine) Policies() *verdict.PolicyRegistry { return e.policies }

const (
	// deepWavePriority is the first conditional tier: transport
	// fingerprinting and correlation only pay off while the verdict is
	// still contestable.
	deepWavePriority = 2
	// llmWavePriority is the catalog tier holding the LLM classifier.
	llmWavePriority = 4
)

// Interim probabilities outside this band mean the request is already
// definitively classified; deeper tiers stop spending on it.
const (
	definitiveLow  = 0.05
	definitiveHigh = 0.95
)

// waveGate vetoes tiers the interim verdict has made redundant. Waves 0
// and 1 always run; the deep fingerprint tiers skip once the verdict is
// definitive either way; the LLM tier additionally needs a ready provider
// and the ambiguous band.
func (e *Engine) waveGate(priority int, dc *signals.Context) bool {
	if priority < deepWavePriority {
		return true
	}
	p := verdict.InterimProbability(dc.Contributions(), e.cfg.Detection.LogisticK)
	if priority < llmWavePriority {
		return p > definitiveLow && p < definitiveHigh
	}
	if !e.cfg.LLM.Enabled || e.provider == nil || !e.provider.IsReady() {
		return false
	}
	in := p >= e.cfg.LLM.TriggerLow && p <= e.cfg.LLM.TriggerHigh
	if in {
		metrics.LLMEscalations.WithLabelValues("verdict").Inc()
	}
	return in
}

// Evaluate runs the full pipeline for one fingerprint. It never returns an
// error: any internal failure yields a fail-open Allow evidence, because a
// broken detector must not take the protected site down with it.
func (e *Engine) Evaluate(ctx context.Context, fp *models.Fingerprint) (ev *models.Evidence) {
	id := uuid.NewString()
	sig := e.signer.Primary(fp.UserAgent, fp.RemoteIP, fp.Path)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Engine] evaluation %s panicked, failing open: %v", id, r)
			ev = failOpenEvidence(id, sig)
		}
	}()

	dc := signals.NewContext(id, fp, sig)
	pipeline.SeedInputs(dc)

	outcome := e.orch.Run(ctx, dc)

	ev = verdict.Aggregate(dc, verdict.Calibration{
		LogisticK:    e.cfg.Detection.LogisticK,
		BotThreshold: e.cfg.Detection.BotThreshold,
		Saturation:   e.cfg.Detection.Saturation,
	}, outcome.Completed, outcome.Scheduled, outcome.Partial, e.policies, e.names)

	e.recordOutcome(dc, ev, outcome)
	return ev
}

// recordOutcome feeds the cross-request state and flushes persistence.
// Everything here is advisory: failures log and move on.
func (e *Engine) recordOutcome(dc *signals.Context, ev *models.Evidence, outcome pipeline.Outcome) {
	e.window.Record(ev.PrimarySignature, state.Visit{
		UnixMs:         time.Now().UnixMilli(),
		Path:           dc.Fingerprint.Path,
		BotProbability: ev.BotProbability,
		IsBot:          ev.IsBot,
	})

	vec := state.ComputeFeatures(e.window.History(ev.PrimarySignature), state.FeatureInputs{
		InterimBotProb: ev.BotProbability,
		IsDatacenter:   dc.Bool("request.ip.is_datacenter"),
		ASN:            int64(dc.Real("request.ip.asn")),
		LatestPath:     dc.Fingerprint.Path,
	})
	e.clusters.Update(ev.PrimarySignature, vec, ev.IsBot)

	verdictLabel := "human"
	if ev.IsBot {
		verdictLabel = "bot"
	}
	metrics.EvaluationsTotal.WithLabelValues(verdictLabel).Inc()
	metrics.VerdictsByBand.WithLabelValues(ev.RiskBand.String()).Inc()
	metrics.ActionsTotal.WithLabelValues(ev.RecommendedAction.String(), ev.PolicyName).Inc()
	metrics.PipelineDuration.Observe(float64(ev.ProcessingMs) / 1000.0)
	if outcome.Partial {
		metrics.PartialEvaluations.Inc()
	}

	if e.store != nil {
		records := dc.LearningRecords()
		evidence := ev
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.store.SaveEvidence(ctx, evidence); err != nil {
				log.Printf("[Engine] failed to persist verdict: %v", err)
			}
			if err := e.store.SaveLearningRecords(ctx, records); err != nil {
				log.Printf("[Engine] failed to persist learning records: %v", err)
			}
		}()
	}
}

// failOpenEvidence is the verdict of last resort.
func failOpenEvidence(id, sig string) *models.Evidence {
	return &models.Evidence{
		EvaluationID:      id,
		IsBot:             false,
		BotProbability:    0.5,
		Confidence:        0,
		RiskBand:          models.RiskVeryLow,
		RecommendedAction: models.ActionAllow,
		ActionReason:      "evaluation failed, failing open",
		PrimarySignature:  sig,
	}
}
