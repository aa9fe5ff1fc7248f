package state

import (
	"math"
	"testing"
)

// machineHistory builds perfectly periodic single-path visits, the
// signature of a scheduled scraper.
func machineHistory(n int, periodMs int64) History {
	h := History{}
	base := int64(1_700_000_000_000)
	for i := 0; i < n; i++ {
		h.Visits = append(h.Visits, Visit{UnixMs: base + int64(i)*periodMs, Path: "/feed"})
		h.Hits++
	}
	return h
}

// humanHistory builds jittery multi-path visits.
func humanHistory() History {
	h := History{}
	base := int64(1_700_000_000_000)
	offsets := []int64{0, 4_000, 11_500, 13_200, 41_000, 66_300, 92_100, 150_700}
	paths := []string{"/", "/products", "/products/42", "/cart", "/", "/about", "/products/7", "/checkout"}
	for i, off := range offsets {
		h.Visits = append(h.Visits, Visit{UnixMs: base + off, Path: paths[i]})
		h.Hits++
	}
	return h
}

func TestComputeFeatures_MachineVsHuman(t *testing.T) {
	machine := ComputeFeatures(machineHistory(12, 10_000), FeatureInputs{IsDatacenter: true})
	human := ComputeFeatures(humanHistory(), FeatureInputs{})

	// timing: machines are near-perfectly regular.
	if machine[0] < 0.95 {
		t.Errorf("Expected machine timing regularity near 1, got %g", machine[0])
	}
	if human[0] > machine[0] {
		t.Errorf("Human timing (%g) should be less regular than machine (%g)", human[0], machine[0])
	}

	// pathDiv/entropy: one-path loops have no diversity.
	if machine[2] > 0.2 {
		t.Errorf("Single-path loop should have near-zero path diversity, got %g", machine[2])
	}
	if human[3] <= machine[3] {
		t.Errorf("Human path entropy (%g) should exceed machine (%g)", human[3], machine[3])
	}

	// datacenter flag feeds straight through.
	if machine[6] != 1 || human[6] != 0 {
		t.Errorf("Datacenter feature should be 0/1, got %g / %g", machine[6], human[6])
	}

	// loopScore: the machine hammers one path.
	if machine[14] < 0.99 {
		t.Errorf("Expected loopScore ~1 for single-path machine, got %g", machine[14])
	}
}

func TestComputeFeatures_AllInUnitRange(t *testing.T) {
	histories := []History{{}, machineHistory(3, 500), machineHistory(30, 2_000), humanHistory()}
	for _, h := range histories {
		v := ComputeFeatures(h, FeatureInputs{InterimBotProb: 0.6, ASN: 14618, IsDatacenter: true, LatestPath: "/x"})
		for f, x := range v {
			if x < 0 || x > 1 || math.IsNaN(x) {
				t.Errorf("Feature %s = %g outside [0,1] for history with %d visits", FeatureNames[f], x, h.Hits)
			}
		}
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   float64
	}{
		{"Constant series", []float64{5, 5, 5, 5}, 0},
		{"Empty series", nil, 0},
		{"Single value", []float64{3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coefficientOfVariation(tt.series); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("coefficientOfVariation() = %v, want %v", got, tt.want)
			}
		})
	}

	// Jittery series must have higher CV than a near-constant one.
	tight := coefficientOfVariation([]float64{10, 10.1, 9.9, 10.05})
	loose := coefficientOfVariation([]float64{2, 30, 7, 19})
	if tight >= loose {
		t.Errorf("Expected CV(tight)=%g < CV(loose)=%g", tight, loose)
	}
}

func TestPathEntropy_Bounds(t *testing.T) {
	uniform := History{}
	for i := 0; i < 8; i++ {
		uniform.Visits = append(uniform.Visits, Visit{Path: string(rune('a' + i))})
		uniform.Hits++
	}
	if got := pathEntropy(uniform.Visits); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("All-distinct paths should have entropy 1, got %g", got)
	}

	single := machineHistory(8, 1000)
	if got := pathEntropy(single.Visits); got != 0 {
		t.Errorf("Single-path history should have entropy 0, got %g", got)
	}
}
