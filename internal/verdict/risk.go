package verdict

import (
	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// Risk banding keys off the strongest single bot-leaning contribution
// rather than the calibrated probability: one detector shouting at weight
// 2.0 is a different operational situation from ten detectors mumbling,
// even when both produce the same probability.

var bandThresholds = []struct {
	limit float64
	band  models.RiskBand
}{
	{0.2, models.RiskVeryLow},
	{0.4, models.RiskLow},
	{0.6, models.RiskElevated},
	{0.8, models.RiskMedium},
	{0.95, models.RiskHigh},
}

// baseBand maps the maximum weighted score to its band.
func baseBand(maxWeighted float64) models.RiskBand {
	for _, t := range bandThresholds {
		if maxWeighted < t.limit {
			return t.band
		}
	}
	return models.RiskVeryHigh
}

// strongSignalCount counts the independent "strong" indicators on the
// blackboard. Two or more agreeing earn a one-band boost.
func strongSignalCount(dc *signals.Context) int {
	n := 0
	if dc.Real("detection.inconsistency.score") > 0.5 {
		n++
	}
	if dc.Real("detection.useragent.headless_likelihood") > 0.7 {
		n++
	}
	if dc.Bool("request.ip.is_datacenter") {
		n++
	}
	return n
}

// AssessRisk derives the final band: threshold mapping plus multi-signal
// boosting, capped at VeryHigh.
func AssessRisk(dc *signals.Context) models.RiskBand {
	band := baseBand(dc.MaxWeightedScore())
	if strongSignalCount(dc) >= 2 {
		band = band.Boost()
	}
	return band
}
