package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/perimeterlab/botshield-engine/internal/config"
	"github.com/perimeterlab/botshield-engine/internal/detectors"
	"github.com/perimeterlab/botshield-engine/internal/registry"
	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

var allDetectors = []string{
	"UserAgent", "HeaderAnalysis", "IPAnalysis", "SecurityTool",
	"Inconsistency", "VersionAge", "Heuristic", "Reputation",
	"TLSFingerprint", "TCPFingerprint", "HTTP2Fingerprint", "BehavioralWaveform",
	"MultiLayerCorrelation", "Clustering", "LLMClassifier",
}

// onlyEnable builds overrides disabling everything but the named detectors.
func onlyEnable(names ...string) map[string]config.DetectorOverride {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	off := false
	overrides := make(map[string]config.DetectorOverride)
	for _, n := range allDetectors {
		if !keep[n] {
			overrides[n] = config.DetectorOverride{Enabled: &off}
		}
	}
	return overrides
}

// stub is a scriptable detector for scheduler tests.
type stub struct {
	manifest *models.Manifest
	run      func(ctx context.Context, dc *signals.Context) (*detectors.Result, error)
}

func (s *stub) Name() string               { return s.manifest.Name }
func (s *stub) Manifest() *models.Manifest { return s.manifest }
func (s *stub) Run(ctx context.Context, dc *signals.Context) (*detectors.Result, error) {
	return s.run(ctx, dc)
}

func newPipelineContext() *signals.Context {
	fp := &models.Fingerprint{
		Method: "GET", Path: "/products/77", UserAgent: "curl/8.5.0", RemoteIP: "203.0.113.9",
		Headers: []models.HeaderField{{Name: "Host", Value: "example.test"}},
	}
	return signals.NewContext("run-1", fp, "sig-1")
}

func mustStub(t *testing.T, reg *registry.Registry, name string, run func(context.Context, *signals.Context) (*detectors.Result, error)) *stub {
	t.Helper()
	m, ok := reg.Get(name)
	if !ok {
		t.Fatalf("manifest %s missing from registry", name)
	}
	return &stub{manifest: m, run: run}
}

func TestTriggerMet(t *testing.T) {
	dc := newPipelineContext()
	dc.SeedSignal("request.has_tls", models.BoolSignal(true))
	dc.SeedSignal("detection.useragent.category", models.StringSignal("ScriptingLibrary"))
	dc.SeedSignal("detection.reputation.hits", models.IntSignal(7))

	tests := []struct {
		name string
		cond models.TriggerCondition
		want bool
	}{
		{"Exists hit", models.TriggerCondition{Kind: "exists", Key: "request.has_tls"}, true},
		{"Exists miss", models.TriggerCondition{Kind: "exists", Key: "request.has_http2"}, false},
		{"Equals bool", models.TriggerCondition{Kind: "equals", Key: "request.has_tls", Value: true}, true},
		{"Equals string miss", models.TriggerCondition{Kind: "equals", Key: "detection.useragent.category", Value: "SearchEngine"}, false},
		{"GreaterThan int over", models.TriggerCondition{Kind: "greater_than", Key: "detection.reputation.hits", Value: 3}, true},
		{"GreaterThan int under", models.TriggerCondition{Kind: "greater_than", Key: "detection.reputation.hits", Value: 10}, false},
		{"GreaterThan absent key", models.TriggerCondition{Kind: "greater_than", Key: "detection.waveform.cv", Value: 0.1}, false},
		{"AnyOf one hit", models.TriggerCondition{Kind: "any_of", Nested: []models.TriggerCondition{
			{Kind: "exists", Key: "nope"},
			{Kind: "exists", Key: "request.has_tls"},
		}}, true},
		{"AllOf one miss", models.TriggerCondition{Kind: "all_of", Nested: []models.TriggerCondition{
			{Kind: "exists", Key: "request.has_tls"},
			{Kind: "exists", Key: "nope"},
		}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TriggerMet([]models.TriggerCondition{tt.cond}, dc); got != tt.want {
				t.Errorf("TriggerMet = %t, want %t", got, tt.want)
			}
		})
	}

	if !TriggerMet(nil, dc) {
		t.Error("Empty trigger list should always fire")
	}
}

func TestSeedInputs(t *testing.T) {
	dc := newPipelineContext()
	SeedInputs(dc)

	if dc.Str("request.method") != "GET" {
		t.Errorf("Method signal wrong: %q", dc.Str("request.method"))
	}
	if depth := dc.Real("request.path.depth"); depth != 2 {
		t.Errorf("Path depth = %g, want 2", depth)
	}
	if n := dc.Real("request.header.count"); n != 1 {
		t.Errorf("Header count = %g, want 1", n)
	}
	if dc.Bool("request.has_tls") || dc.Bool("request.has_client_bundle") {
		t.Error("Absent TLS/client bundle should seed false")
	}
}

func TestRun_WaveOrderingAndBarrier(t *testing.T) {
	reg, err := registry.Load(onlyEnable("UserAgent", "Heuristic"))
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}

	ua := mustStub(t, reg, "UserAgent", func(_ context.Context, dc *signals.Context) (*detectors.Result, error) {
		if dc.Str("detection.useragent.category") != "" {
			t.Error("Wave 0 detector saw its own unpublished output")
		}
		return &detectors.Result{
			Contributions: []models.Contribution{{Detector: "UserAgent", RawScore: 0.8, Weight: 1.4, Confidence: 0.9}},
			Signals:       []detectors.Emit{{Key: "detection.useragent.category", Value: models.StringSignal("ScriptingLibrary")}},
		}, nil
	})

	var sawCategory string
	heur := mustStub(t, reg, "Heuristic", func(_ context.Context, dc *signals.Context) (*detectors.Result, error) {
		sawCategory = dc.Str("detection.useragent.category")
		return &detectors.Result{
			Signals: []detectors.Emit{{Key: "detection.heuristic.probability", Value: models.RealSignal(0.6)}},
		}, nil
	})

	o, err := New(reg, map[string]detectors.Detector{"UserAgent": ua, "Heuristic": heur}, 150, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dc := newPipelineContext()
	SeedInputs(dc)
	out := o.Run(context.Background(), dc)

	if out.Completed != 2 || out.Scheduled != 2 || out.Partial {
		t.Errorf("Outcome wrong: %+v", out)
	}
	if sawCategory != "ScriptingLibrary" {
		t.Errorf("Wave 1 should see wave 0 signals, saw %q", sawCategory)
	}
	if dc.Real("detection.heuristic.probability") != 0.6 {
		t.Error("Final barrier should publish the last wave's signals")
	}
	if len(dc.Contributions()) != 1 {
		t.Errorf("Expected 1 contribution, got %d", len(dc.Contributions()))
	}
}

func TestRun_WaveMatesNeverSeeContributions(t *testing.T) {
	reg, err := registry.Load(onlyEnable("UserAgent", "HeaderAnalysis"))
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}

	// Both run in wave 0. The writer finishes first; the reader then checks
	// that the writer's contribution is still invisible mid-wave.
	writerDone := make(chan struct{})
	writer := mustStub(t, reg, "UserAgent", func(_ context.Context, _ *signals.Context) (*detectors.Result, error) {
		defer close(writerDone)
		return &detectors.Result{
			Contributions: []models.Contribution{{Detector: "UserAgent", RawScore: 0.8, Weight: 1.4, Confidence: 0.9}},
		}, nil
	})

	sawMidWave := -1
	reader := mustStub(t, reg, "HeaderAnalysis", func(_ context.Context, dc *signals.Context) (*detectors.Result, error) {
		<-writerDone
		time.Sleep(200 * time.Microsecond)
		sawMidWave = len(dc.Contributions())
		return &detectors.Result{}, nil
	})

	o, err := New(reg, map[string]detectors.Detector{"UserAgent": writer, "HeaderAnalysis": reader}, 150, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dc := newPipelineContext()
	out := o.Run(context.Background(), dc)

	if out.Completed != 2 {
		t.Fatalf("Outcome wrong: %+v", out)
	}
	if sawMidWave != 0 {
		t.Errorf("Wave-mate contributions must stay invisible until the wave ends, saw %d", sawMidWave)
	}
	if len(dc.Contributions()) != 1 {
		t.Errorf("Expected the contribution after the wave, got %d", len(dc.Contributions()))
	}
}

func TestRun_TimeoutDiscardsResult(t *testing.T) {
	reg, err := registry.Load(onlyEnable("UserAgent", "Heuristic"))
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}

	ua := mustStub(t, reg, "UserAgent", func(_ context.Context, _ *signals.Context) (*detectors.Result, error) {
		return &detectors.Result{
			Signals: []detectors.Emit{{Key: "detection.useragent.empty", Value: models.BoolSignal(false)}},
		}, nil
	})
	// Heuristic's manifest allows 3ms; this run overshoots it badly.
	slow := mustStub(t, reg, "Heuristic", func(ctx context.Context, _ *signals.Context) (*detectors.Result, error) {
		select {
		case <-time.After(80 * time.Millisecond):
		case <-ctx.Done():
			<-time.After(80 * time.Millisecond) // ignores cancellation too
		}
		return &detectors.Result{
			Signals: []detectors.Emit{{Key: "detection.heuristic.probability", Value: models.RealSignal(0.99)}},
		}, nil
	})

	var timedOut []string
	o, err := New(reg, map[string]detectors.Detector{"UserAgent": ua, "Heuristic": slow}, 150, nil,
		func(name string) { timedOut = append(timedOut, name) })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dc := newPipelineContext()
	out := o.Run(context.Background(), dc)

	if out.Timeouts != 1 || out.Completed != 1 {
		t.Errorf("Outcome wrong: %+v", out)
	}
	if len(timedOut) != 1 || timedOut[0] != "Heuristic" {
		t.Errorf("Timeout hook not invoked correctly: %v", timedOut)
	}
	if _, ok := dc.GetSignal("detection.heuristic.probability"); ok {
		t.Error("Timed-out detector's signals must never reach the blackboard")
	}
}

func TestRun_PanicIsTrapped(t *testing.T) {
	reg, err := registry.Load(onlyEnable("UserAgent"))
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}
	bad := mustStub(t, reg, "UserAgent", func(_ context.Context, _ *signals.Context) (*detectors.Result, error) {
		panic("detector bug")
	})

	o, err := New(reg, map[string]detectors.Detector{"UserAgent": bad}, 150, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	out := o.Run(context.Background(), newPipelineContext())
	if out.Failures != 1 || out.Completed != 0 {
		t.Errorf("Panic should count as failure: %+v", out)
	}
}

func TestRun_WaveGateVeto(t *testing.T) {
	reg, err := registry.Load(onlyEnable("UserAgent", "Heuristic"))
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}
	noop := func(_ context.Context, _ *signals.Context) (*detectors.Result, error) {
		return &detectors.Result{}, nil
	}
	catalog := map[string]detectors.Detector{
		"UserAgent": mustStub(t, reg, "UserAgent", noop),
		"Heuristic": mustStub(t, reg, "Heuristic", noop),
	}

	gate := func(priority int, _ *signals.Context) bool { return priority == 0 }
	o, err := New(reg, catalog, 150, gate, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	out := o.Run(context.Background(), newPipelineContext())
	if out.Scheduled != 1 || out.Completed != 1 {
		t.Errorf("Gate should skip wave 1: %+v", out)
	}
}

func TestRun_BudgetExceededReturnsPartial(t *testing.T) {
	reg, err := registry.Load(onlyEnable("UserAgent", "Heuristic"))
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}
	noop := func(_ context.Context, _ *signals.Context) (*detectors.Result, error) {
		return &detectors.Result{}, nil
	}
	catalog := map[string]detectors.Detector{
		"UserAgent": mustStub(t, reg, "UserAgent", noop),
		"Heuristic": mustStub(t, reg, "Heuristic", noop),
	}

	o, err := New(reg, catalog, 150, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dc := newPipelineContext()
	dc.StartedAt = time.Now().Add(-time.Second) // budget already spent
	out := o.Run(context.Background(), dc)

	if !out.Partial {
		t.Error("Expired budget should report partial")
	}
	if out.Completed != 0 || out.Scheduled != 2 {
		t.Errorf("Unvisited waves should count as scheduled: %+v", out)
	}
}

func TestNew_CatalogMismatch(t *testing.T) {
	reg, err := registry.Load(onlyEnable("UserAgent"))
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}
	if _, err := New(reg, map[string]detectors.Detector{}, 150, nil, nil); err == nil {
		t.Error("Manifest without an implementation should fail construction")
	}
}
