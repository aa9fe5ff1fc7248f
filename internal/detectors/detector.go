// Package detectors holds the detection catalog: one file per analyzer,
// each paired with an embedded manifest in the registry.
package detectors

import (
	"context"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// Emit is one staged signal write produced by a detector run.
type Emit struct {
	Key   string
	Value models.SignalValue
}

// Result is the transactional output of one detector run. The orchestrator
// applies it to the context only when the run finishes inside its timeout;
// a timed-out or failed run leaves no trace on the blackboard.
type Result struct {
	Contributions []models.Contribution
	Signals       []Emit
	Learning      []models.LearningRecord
}

// Detector is a single analyzer. Run must honour ctx cancellation on any
// blocking work and must not touch the detection context directly: all
// output flows through the returned Result.
type Detector interface {
	Name() string
	Manifest() *models.Manifest
	Run(ctx context.Context, dc *signals.Context) (*Result, error)
}

// Base carries the manifest plumbing shared by every detector.
type Base struct {
	manifest *models.Manifest
}

// NewBase wraps a manifest.
func NewBase(m *models.Manifest) Base {
	return Base{manifest: m}
}

func (b *Base) Name() string               { return b.manifest.Name }
func (b *Base) Manifest() *models.Manifest { return b.manifest }

// Weight resolves a named weight with fallback.
func (b *Base) Weight(name string, def float64) float64 {
	return b.manifest.Weight(name, def)
}

// Confidence resolves a named confidence default.
func (b *Base) Confidence(name string, def float64) float64 {
	return b.manifest.ConfidenceFor(name, def)
}

// Bot builds a bot-leaning contribution under the named weight.
func (b *Base) Bot(raw float64, weightName string, cat models.BotCategory, rationale string) models.Contribution {
	if raw < 0 {
		raw = -raw
	}
	return models.Contribution{
		Detector:   b.manifest.Name,
		Category:   cat,
		RawScore:   raw,
		Weight:     b.manifest.Weight(weightName, 1.0),
		Confidence: b.manifest.ConfidenceFor(weightName, 0.7),
		Rationale:  rationale,
	}
}

// Human builds a human-leaning contribution under the named weight.
func (b *Base) Human(raw float64, weightName string, rationale string) models.Contribution {
	if raw > 0 {
		raw = -raw
	}
	return models.Contribution{
		Detector:   b.manifest.Name,
		RawScore:   raw,
		Weight:     b.manifest.Weight(weightName, 1.0),
		Confidence: b.manifest.ConfidenceFor(weightName, 0.7),
		Rationale:  rationale,
	}
}
