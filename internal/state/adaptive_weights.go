package state

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Adaptive Similarity Weighter
//
// The clustering distance metric weights each of the 18 features by how
// discriminative it currently is across the observed population. Features
// with high coefficient of variation separate signatures well and earn
// weight; flat features decay toward the floor. Weights always stay inside
// [0.01, 0.25] and re-normalise to sum ≈ 1, so no single feature can
// dominate the metric and none can vanish entirely.
//
// Concurrency: recomputes go through a single-writer mutex; readers take a
// consistent snapshot via an atomic pointer swap and never block.

const (
	weightFloor = 0.01
	weightCeil  = 0.25
)

// WeightShift records one recompute where a feature moved by more than the
// shift threshold. Kept for operator introspection.
type WeightShift struct {
	Feature  string    `json:"feature"`
	Previous float64   `json:"previous"`
	Current  float64   `json:"current"`
	At       time.Time `json:"at"`
}

// AdaptiveWeighter maintains the similarity weight vector.
type AdaptiveWeighter struct {
	snapshot atomic.Pointer[FeatureVector]

	mu             sync.Mutex
	shiftThreshold float64
	shifts         []WeightShift
	maxShifts      int
}

// NewAdaptiveWeighter starts from uniform weights (1/18 each, inside the
// clamp band) and records shifts larger than shiftThreshold.
func NewAdaptiveWeighter(shiftThreshold float64) *AdaptiveWeighter {
	w := &AdaptiveWeighter{
		shiftThreshold: shiftThreshold,
		maxShifts:      256,
	}
	defaults := defaultWeights()
	w.snapshot.Store(&defaults)
	return w
}

func defaultWeights() FeatureVector {
	var v FeatureVector
	for i := range v {
		v[i] = 1.0 / FeatureCount
	}
	return v
}

// Weights returns the current snapshot. Never blocks.
func (w *AdaptiveWeighter) Weights() FeatureVector {
	return *w.snapshot.Load()
}

// ComputeWeights recomputes from the population of feature vectors. Fewer
// than three vectors leaves the current snapshot untouched: CV over one or
// two points is noise, not signal.
func (w *AdaptiveWeighter) ComputeWeights(vectors []FeatureVector) {
	if len(vectors) < 3 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev := *w.snapshot.Load()

	var raw FeatureVector
	for f := 0; f < FeatureCount; f++ {
		col := make([]float64, len(vectors))
		for i, v := range vectors {
			col[i] = v[f]
		}
		raw[f] = coefficientOfVariation(col)
	}

	next := normalizeClamped(raw)

	for f := 0; f < FeatureCount; f++ {
		if math.Abs(next[f]-prev[f]) > w.shiftThreshold {
			w.shifts = append(w.shifts, WeightShift{
				Feature:  FeatureNames[f],
				Previous: prev[f],
				Current:  next[f],
				At:       time.Now(),
			})
			log.Printf("[AdaptiveWeights] %s shifted %.3f -> %.3f", FeatureNames[f], prev[f], next[f])
		}
	}
	if len(w.shifts) > w.maxShifts {
		w.shifts = append([]WeightShift(nil), w.shifts[len(w.shifts)-w.maxShifts:]...)
	}

	w.snapshot.Store(&next)
}

// normalizeClamped maps raw per-feature scores to weights: proportional to
// the raw score, clamped to [0.01, 0.25], re-normalised to sum ≈ 1.
// Clamping moves mass, so the residual is pushed back onto the features
// still inside the band until the sum settles. Each pass pins at least one
// more feature to a bound, so the loop terminates within FeatureCount
// iterations even when CV concentrates on a single feature.
func normalizeClamped(raw FeatureVector) FeatureVector {
	total := 0.0
	for _, x := range raw {
		total += x
	}
	if total <= 0 {
		return defaultWeights()
	}
	var out FeatureVector
	for i, x := range raw {
		out[i] = x / total
	}
	for iter := 0; iter < FeatureCount; iter++ {
		sum := 0.0
		for i := range out {
			out[i] = clampWeight(out[i])
			sum += out[i]
		}
		deficit := 1.0 - sum
		if math.Abs(deficit) < 1e-6 {
			break
		}
		free := 0.0
		for _, x := range out {
			if (deficit > 0 && x < weightCeil) || (deficit < 0 && x > weightFloor) {
				free += x
			}
		}
		if free <= 0 {
			// every feature pinned to a bound; the band cannot absorb more
			break
		}
		for i := range out {
			if (deficit > 0 && out[i] < weightCeil) || (deficit < 0 && out[i] > weightFloor) {
				out[i] += deficit * out[i] / free
			}
		}
	}
	return out
}

func clampWeight(x float64) float64 {
	if x < weightFloor {
		return weightFloor
	}
	if x > weightCeil {
		return weightCeil
	}
	return x
}

// Shifts returns a copy of the recorded shift events.
func (w *AdaptiveWeighter) Shifts() []WeightShift {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]WeightShift(nil), w.shifts...)
}
