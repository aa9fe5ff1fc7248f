package state

import (
	"math"
	"testing"
)

func TestAdaptiveWeighter_DefaultsNormalised(t *testing.T) {
	w := NewAdaptiveWeighter(0.05)
	weights := w.Weights()

	sum := 0.0
	for _, x := range weights {
		sum += x
	}
	if math.Abs(sum-1.0) > 0.05 {
		t.Errorf("Default weights should sum to ~1, got %g", sum)
	}
}

func TestComputeWeights_RequiresThreeVectors(t *testing.T) {
	w := NewAdaptiveWeighter(0.05)
	before := w.Weights()

	var a, b FeatureVector
	a[0], b[0] = 0.1, 0.9
	w.ComputeWeights([]FeatureVector{a, b})

	if w.Weights() != before {
		t.Errorf("Fewer than 3 vectors must leave the snapshot untouched")
	}
}

func TestComputeWeights_NormalisationAndClamp(t *testing.T) {
	w := NewAdaptiveWeighter(0.05)

	// Feature 0 varies wildly, feature 1 mildly, the rest are flat.
	vectors := make([]FeatureVector, 6)
	for i := range vectors {
		vectors[i][0] = float64(i) * 0.2
		vectors[i][1] = 0.5 + float64(i%2)*0.05
		for f := 2; f < FeatureCount; f++ {
			vectors[i][f] = 0.5
		}
	}
	w.ComputeWeights(vectors)

	weights := w.Weights()
	sum := 0.0
	for f, x := range weights {
		sum += x
		if x < 0.01-1e-9 || x > 0.25+1e-9 {
			t.Errorf("Weight %s = %g outside [0.01, 0.25]", FeatureNames[f], x)
		}
	}
	if sum < 0.95 || sum > 1.05 {
		t.Errorf("Weights should sum to [0.95, 1.05], got %g", sum)
	}
	if weights[0] <= weights[2] {
		t.Errorf("High-CV feature should outweigh a flat one: %g vs %g", weights[0], weights[2])
	}
}

func TestComputeWeights_ConcentratedCVStaysNormalised(t *testing.T) {
	w := NewAdaptiveWeighter(0.05)

	// Only feature 0 carries any variation; every other feature is flat
	// across the population, so all the raw CV mass lands on one slot.
	vectors := make([]FeatureVector, 6)
	for i := range vectors {
		vectors[i][0] = float64(i)
	}
	w.ComputeWeights(vectors)

	weights := w.Weights()
	sum := 0.0
	for f, x := range weights {
		sum += x
		if x < 0.01-1e-9 || x > 0.25+1e-9 {
			t.Errorf("Weight %s = %g outside [0.01, 0.25]", FeatureNames[f], x)
		}
	}
	if sum < 0.95 || sum > 1.05 {
		t.Errorf("Weights should sum to [0.95, 1.05] even under concentrated CV, got %g", sum)
	}
	if math.Abs(weights[0]-0.25) > 1e-9 {
		t.Errorf("Dominant feature should sit at the ceiling, got %g", weights[0])
	}
}

func TestComputeWeights_RecordsShifts(t *testing.T) {
	w := NewAdaptiveWeighter(0.02)

	vectors := make([]FeatureVector, 5)
	for i := range vectors {
		vectors[i][3] = float64(i) // huge CV on one feature
	}
	w.ComputeWeights(vectors)

	shifts := w.Shifts()
	if len(shifts) == 0 {
		t.Fatalf("Expected at least one recorded weight shift")
	}
	found := false
	for _, s := range shifts {
		if s.Feature == "entropy" {
			found = true
			if math.Abs(s.Current-s.Previous) <= 0.02 {
				t.Errorf("Recorded shift below threshold: %+v", s)
			}
		}
	}
	if !found {
		t.Errorf("Expected a shift on the dominant feature, got %+v", shifts)
	}
}

func TestWeightedDistance(t *testing.T) {
	var a, b, weights FeatureVector
	for i := range weights {
		weights[i] = 1.0 / FeatureCount
	}
	if d := WeightedDistance(a, b, weights); d != 0 {
		t.Errorf("Identical vectors should be at distance 0, got %g", d)
	}

	b[0] = 1.0
	d := WeightedDistance(a, b, weights)
	want := math.Sqrt(1.0 / FeatureCount)
	if math.Abs(d-want) > 1e-9 {
		t.Errorf("Expected single-axis distance %g, got %g", want, d)
	}
}
