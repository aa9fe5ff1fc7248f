package detectors

import (
	"context"
	"fmt"
	"math"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/internal/state"
	"github.com/perimeterlab/botshield-engine/internal/verdict"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// HeuristicDetector scores the 18-feature behavioural vector through a
// logistic model. Coefficients live in the manifest so a retrained model
// deploys as an override, not a binary.
type HeuristicDetector struct {
	Base
	window state.HitWindow
}

func NewHeuristicDetector(m *models.Manifest, window state.HitWindow) *HeuristicDetector {
	return &HeuristicDetector{Base: NewBase(m), window: window}
}

func (d *HeuristicDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}

	history := d.window.History(dc.PrimarySignature)
	inputs := state.FeatureInputs{
		InterimBotProb: verdict.InterimProbability(dc.Contributions(), 1.0),
		GeoRisk:        geoRisk(dc),
		IsDatacenter:   dc.Bool("request.ip.is_datacenter"),
		ASN:            int64(dc.Real("request.ip.asn")),
		LatestPath:     dc.Fingerprint.Path,
	}
	vec := state.ComputeFeatures(history, inputs)

	m := d.Manifest()
	score := m.Feature("bias", 0)
	for i, name := range state.FeatureNames {
		score += m.Feature(name, 0) * vec[i]
	}
	p := 1.0 / (1.0 + math.Exp(-score))

	res.Signals = append(res.Signals,
		Emit{"detection.heuristic.probability", models.RealSignal(p)})

	// raw in [-1,1]: above 0.5 argues bot, below argues human
	raw := 2*p - 1
	contrib := models.Contribution{
		Detector:   m.Name,
		RawScore:   raw,
		Weight:     d.Weight("logistic", 1.0),
		Confidence: math.Abs(raw),
		Rationale:  fmt.Sprintf("logistic score %.3f over %d window visits", p, history.Hits),
	}
	res.Contributions = append(res.Contributions, contrib)

	features := make(map[string]float64, state.FeatureCount)
	for i, name := range state.FeatureNames {
		features[name] = vec[i]
	}
	res.Learning = append(res.Learning, models.LearningRecord{
		BotProbability: p,
		Features:       features,
	})
	return res, nil
}

// geoRisk derives a coarse infrastructure risk from the wave-0 address
// classification. A feed-backed geo score would slot in here.
func geoRisk(dc *signals.Context) float64 {
	switch {
	case dc.Bool("request.ip.is_datacenter"):
		return 0.5
	case dc.Bool("request.ip.is_vpn"):
		return 0.3
	}
	return 0.0
}
