package detectors

import (
	"context"
	"fmt"
	"math"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/internal/state"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// WaveformDetector reads the signature's visit waveform: inter-arrival
// regularity, path entropy, and request rate. Machine schedulers produce a
// coefficient of variation near zero; humans land around 0.5-1.5.
type WaveformDetector struct {
	Base
	window state.HitWindow
}

func NewWaveformDetector(m *models.Manifest, window state.HitWindow) *WaveformDetector {
	return &WaveformDetector{Base: NewBase(m), window: window}
}

func (d *WaveformDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}
	m := d.Manifest()

	history := d.window.History(dc.PrimarySignature)
	minObs := int(m.ParamFloat("min_observations", 5))
	if history.Hits < minObs {
		return res, nil
	}

	cv, rate, entropy := waveformStats(history.Visits)

	res.Signals = append(res.Signals,
		Emit{"detection.waveform.cv", models.RealSignal(cv)},
		Emit{"detection.waveform.path_entropy", models.RealSignal(entropy)},
		Emit{"detection.waveform.rate", models.RealSignal(rate)},
	)

	cvThreshold := m.ParamFloat("cv_bot_threshold", 0.12)
	entropyThreshold := m.ParamFloat("entropy_bot_threshold", 0.8)

	switch {
	case cv < cvThreshold:
		// regularity score grows as CV approaches zero
		raw := 1.0 - cv/cvThreshold
		res.Contributions = append(res.Contributions,
			d.Bot(raw, "machine_timing", models.CategoryUnknown,
				fmt.Sprintf("inter-arrival CV %.3f over %d visits, machine-regular", cv, history.Hits)))
	case cv >= 0.5 && cv <= 1.5 && entropy < entropyThreshold:
		res.Contributions = append(res.Contributions,
			d.Human(0.5, "human_timing",
				fmt.Sprintf("inter-arrival CV %.2f, human-typical", cv)))
	}
	return res, nil
}

// waveformStats mirrors the feature layer's timing math on the raw visit
// list: CV of inter-arrivals, requests/sec, normalised path entropy.
func waveformStats(visits []state.Visit) (cv, rate, entropy float64) {
	if len(visits) < 2 {
		return 0, 0, 0
	}

	intervals := make([]float64, 0, len(visits)-1)
	for i := 1; i < len(visits); i++ {
		intervals = append(intervals, float64(visits[i].UnixMs-visits[i-1].UnixMs)/1000.0)
	}

	mean := 0.0
	for _, x := range intervals {
		mean += x
	}
	mean /= float64(len(intervals))
	if mean > 0 {
		variance := 0.0
		for _, x := range intervals {
			d := x - mean
			variance += d * d
		}
		variance /= float64(len(intervals))
		cv = math.Sqrt(variance) / mean
	}

	span := float64(visits[len(visits)-1].UnixMs-visits[0].UnixMs) / 1000.0
	if span > 0 {
		rate = float64(len(visits)) / span
	}

	counts := make(map[string]int)
	for _, v := range visits {
		counts[v.Path]++
	}
	if len(counts) > 1 {
		total := float64(len(visits))
		h := 0.0
		for _, n := range counts {
			p := float64(n) / total
			h -= p * math.Log2(p)
		}
		entropy = h / math.Log2(total)
	}
	return cv, rate, entropy
}
