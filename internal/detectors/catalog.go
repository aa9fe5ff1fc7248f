package detectors

import (
	"fmt"

	"github.com/perimeterlab/botshield-engine/internal/llm"
	"github.com/perimeterlab/botshield-engine/internal/registry"
	"github.com/perimeterlab/botshield-engine/internal/state"
)

// Deps are the shared services detectors draw on. Window and Clusters are
// required; Provider may be nil when the LLM tier is disabled.
type Deps struct {
	Window   state.HitWindow
	Clusters *state.ClusterStore
	Provider llm.Provider

	LLMTemperature float64
	LLMMaxTokens   int
}

// BuildCatalog constructs every detector the registry knows, wired to the
// shared state. The orchestrator verifies the catalog and registry agree.
func BuildCatalog(reg *registry.Registry, deps Deps) (map[string]Detector, error) {
	if deps.Window == nil || deps.Clusters == nil {
		return nil, fmt.Errorf("detector catalog requires window and cluster store")
	}

	catalog := make(map[string]Detector, 15)
	add := func(d Detector) { catalog[d.Name()] = d }

	for _, m := range reg.All() {
		switch m.Name {
		case "UserAgent":
			add(NewUserAgentDetector(m))
		case "HeaderAnalysis":
			add(NewHeaderDetector(m))
		case "IPAnalysis":
			add(NewIPDetector(m))
		case "SecurityTool":
			add(NewSecurityToolDetector(m))
		case "Inconsistency":
			add(NewInconsistencyDetector(m))
		case "VersionAge":
			add(NewVersionAgeDetector(m))
		case "Heuristic":
			add(NewHeuristicDetector(m, deps.Window))
		case "Reputation":
			add(NewReputationDetector(m, deps.Window))
		case "TLSFingerprint":
			add(NewTLSDetector(m))
		case "TCPFingerprint":
			add(NewTCPDetector(m))
		case "HTTP2Fingerprint":
			add(NewHTTP2Detector(m))
		case "BehavioralWaveform":
			add(NewWaveformDetector(m, deps.Window))
		case "MultiLayerCorrelation":
			add(NewCorrelationDetector(m))
		case "Clustering":
			add(NewClusteringDetector(m, deps.Clusters))
		case "LLMClassifier":
			add(NewLLMDetector(m, deps.Provider, deps.LLMTemperature, deps.LLMMaxTokens))
		default:
			return nil, fmt.Errorf("manifest %q has no detector implementation", m.Name)
		}
	}
	return catalog, nil
}
