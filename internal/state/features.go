package state

import "math"

// The 18 Adaptive Features
//
// Per-signature behavioural feature vector used by the Heuristic detector
// (logistic scoring) and the clustering engine (weighted similarity).
// Order is contractual: adaptive weights, manifest coefficients, and shift
// events all index by this layout.
//
//	 0 timing          regularity of inter-arrival times, 1/(1+CV)
//	 1 rate            requests/sec over the window, squashed to [0,1]
//	 2 pathDiv         distinct paths / visits
//	 3 entropy         normalised path entropy
//	 4 botProb         interim bot probability at computation time
//	 5 geo             geo risk (0 when no provider is attached)
//	 6 datacenter      datacenter flag, 0/1
//	 7 asn             ASN squashed to [0,1]
//	 8 spectralEntropy entropy of the interval magnitude spectrum
//	 9 harmonic        energy share of the dominant frequency's harmonics
//	10 peakToAvg       peak-to-average of the magnitude spectrum
//	11 dominantFreq    dominant frequency index, normalised
//	12 selfDrift       mean-interval drift between window halves
//	13 humanDrift      spread of activity across hours of day
//	14 loopScore       concentration on the single most common path
//	15 surprise        improbability of the latest path under history
//	16 novelty         fraction of paths seen exactly once
//	17 entropyDelta    recent-half entropy minus older-half entropy

const FeatureCount = 18

// FeatureNames lists the features in vector order.
var FeatureNames = [FeatureCount]string{
	"timing", "rate", "pathDiv", "entropy", "botProb", "geo",
	"datacenter", "asn", "spectralEntropy", "harmonic", "peakToAvg",
	"dominantFreq", "selfDrift", "humanDrift", "loopScore", "surprise",
	"novelty", "entropyDelta",
}

// FeatureVector is one signature's behavioural coordinates.
type FeatureVector [FeatureCount]float64

// FeatureInputs carries the non-history inputs for vector computation.
type FeatureInputs struct {
	InterimBotProb float64
	GeoRisk        float64
	IsDatacenter   bool
	ASN            int64
	LatestPath     string
}

// ComputeFeatures builds the vector from a window history plus request
// inputs. Histories below three visits yield mostly-zero waveform slots;
// callers gate on observation count before trusting the result.
func ComputeFeatures(h History, in FeatureInputs) FeatureVector {
	var v FeatureVector

	intervals := interArrivalSeconds(h.Visits)
	cv := coefficientOfVariation(intervals)
	if len(intervals) >= 2 {
		v[0] = 1.0 / (1.0 + cv)
	}
	v[1] = squash(requestRate(h.Visits), 10)
	v[2] = pathDiversity(h.Visits)
	v[3] = pathEntropy(h.Visits)
	v[4] = clamp01(in.InterimBotProb)
	v[5] = clamp01(in.GeoRisk)
	if in.IsDatacenter {
		v[6] = 1
	}
	v[7] = squash(float64(in.ASN), 65535)

	spec := magnitudeSpectrum(intervals)
	v[8] = spectralEntropy(spec)
	v[9] = harmonicRatio(spec)
	v[10] = peakToAverage(spec)
	v[11] = dominantFrequency(spec)
	v[12] = selfDrift(intervals)
	v[13] = hourSpread(h.Visits)
	v[14] = loopScore(h.Visits)
	v[15] = surprise(h.Visits, in.LatestPath)
	v[16] = novelty(h.Visits)
	v[17] = entropyDelta(h.Visits)

	return v
}

// WeightedDistance is the similarity metric between two signatures: a
// weighted Euclidean distance under the adaptive weight snapshot.
func WeightedDistance(a, b FeatureVector, weights FeatureVector) float64 {
	sum := 0.0
	for i := 0; i < FeatureCount; i++ {
		d := a[i] - b[i]
		sum += weights[i] * d * d
	}
	return math.Sqrt(sum)
}

func interArrivalSeconds(visits []Visit) []float64 {
	if len(visits) < 2 {
		return nil
	}
	out := make([]float64, 0, len(visits)-1)
	for i := 1; i < len(visits); i++ {
		out = append(out, float64(visits[i].UnixMs-visits[i-1].UnixMs)/1000.0)
	}
	return out
}

// coefficientOfVariation is σ/μ of the series; 0 for degenerate input.
func coefficientOfVariation(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	mean := meanOf(series)
	if mean <= 0 {
		return 0
	}
	varianceSum := 0.0
	for _, x := range series {
		d := x - mean
		varianceSum += d * d
	}
	return math.Sqrt(varianceSum/float64(len(series))) / mean
}

func meanOf(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range series {
		sum += x
	}
	return sum / float64(len(series))
}

func requestRate(visits []Visit) float64 {
	if len(visits) < 2 {
		return 0
	}
	spanSec := float64(visits[len(visits)-1].UnixMs-visits[0].UnixMs) / 1000.0
	if spanSec <= 0 {
		return 0
	}
	return float64(len(visits)) / spanSec
}

func pathDiversity(visits []Visit) float64 {
	if len(visits) == 0 {
		return 0
	}
	distinct := map[string]bool{}
	for _, v := range visits {
		distinct[v.Path] = true
	}
	return float64(len(distinct)) / float64(len(visits))
}

// pathEntropy is Shannon entropy of the path distribution, normalised by
// the maximum log2(n) so it lands in [0,1].
func pathEntropy(visits []Visit) float64 {
	return entropyOf(pathCounts(visits), len(visits))
}

func pathCounts(visits []Visit) map[string]int {
	counts := map[string]int{}
	for _, v := range visits {
		counts[v.Path]++
	}
	return counts
}

func entropyOf(counts map[string]int, total int) float64 {
	if total == 0 || len(counts) <= 1 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h / math.Log2(float64(total))
}

// magnitudeSpectrum is a direct DFT over the mean-removed interval series.
// Window sizes are tiny (<= 63 intervals) so O(n²) is cheaper than an FFT
// dependency.
func magnitudeSpectrum(intervals []float64) []float64 {
	n := len(intervals)
	if n < 4 {
		return nil
	}
	mean := meanOf(intervals)
	spectrum := make([]float64, n/2)
	for k := 1; k <= n/2; k++ {
		re, im := 0.0, 0.0
		for t, x := range intervals {
			angle := 2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += (x - mean) * math.Cos(angle)
			im -= (x - mean) * math.Sin(angle)
		}
		spectrum[k-1] = math.Hypot(re, im)
	}
	return spectrum
}

func spectralEntropy(spectrum []float64) float64 {
	if len(spectrum) < 2 {
		return 0
	}
	total := 0.0
	for _, m := range spectrum {
		total += m
	}
	if total <= 0 {
		return 0
	}
	h := 0.0
	for _, m := range spectrum {
		if m <= 0 {
			continue
		}
		p := m / total
		h -= p * math.Log2(p)
	}
	return h / math.Log2(float64(len(spectrum)))
}

// harmonicRatio measures how much spectral energy sits at multiples of the
// dominant frequency. Periodic schedulers score high.
func harmonicRatio(spectrum []float64) float64 {
	if len(spectrum) < 2 {
		return 0
	}
	peak := 0
	for i, m := range spectrum {
		if m > spectrum[peak] {
			peak = i
		}
	}
	total, harmonic := 0.0, 0.0
	for i, m := range spectrum {
		total += m
		if (i+1)%(peak+1) == 0 {
			harmonic += m
		}
	}
	if total <= 0 {
		return 0
	}
	return harmonic / total
}

func peakToAverage(spectrum []float64) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	peak, sum := 0.0, 0.0
	for _, m := range spectrum {
		if m > peak {
			peak = m
		}
		sum += m
	}
	avg := sum / float64(len(spectrum))
	if avg <= 0 {
		return 0
	}
	return squash(peak/avg, 8)
}

func dominantFrequency(spectrum []float64) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	peak := 0
	for i, m := range spectrum {
		if m > spectrum[peak] {
			peak = i
		}
	}
	return float64(peak+1) / float64(len(spectrum))
}

// selfDrift compares mean intervals between the two window halves.
func selfDrift(intervals []float64) float64 {
	if len(intervals) < 4 {
		return 0
	}
	half := len(intervals) / 2
	a, b := meanOf(intervals[:half]), meanOf(intervals[half:])
	if a <= 0 {
		return 0
	}
	return clamp01(math.Abs(b-a) / a)
}

// hourSpread counts distinct active hours of day; bots pinned to a cron
// slot score low, humans wander.
func hourSpread(visits []Visit) float64 {
	if len(visits) == 0 {
		return 0
	}
	hours := map[int64]bool{}
	for _, v := range visits {
		hours[(v.UnixMs/3600000)%24] = true
	}
	return float64(len(hours)) / 24.0
}

func loopScore(visits []Visit) float64 {
	if len(visits) == 0 {
		return 0
	}
	max := 0
	for _, c := range pathCounts(visits) {
		if c > max {
			max = c
		}
	}
	return float64(max) / float64(len(visits))
}

func surprise(visits []Visit, latestPath string) float64 {
	if len(visits) == 0 || latestPath == "" {
		return 0
	}
	counts := pathCounts(visits)
	return 1.0 - float64(counts[latestPath])/float64(len(visits))
}

func novelty(visits []Visit) float64 {
	if len(visits) == 0 {
		return 0
	}
	singles := 0
	for _, c := range pathCounts(visits) {
		if c == 1 {
			singles++
		}
	}
	return float64(singles) / float64(len(visits))
}

func entropyDelta(visits []Visit) float64 {
	if len(visits) < 4 {
		return 0
	}
	half := len(visits) / 2
	older := pathEntropy(visits[:half])
	recent := pathEntropy(visits[half:])
	return clamp01(math.Abs(recent-older))
}

func squash(x, scale float64) float64 {
	if x <= 0 || scale <= 0 {
		return 0
	}
	return clamp01(x / scale)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
