package detectors

import (
	"context"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// InconsistencyDetector cross-checks wave-0 outputs: infrastructure facts
// against the client's claimed identity. A real person browsing from an
// AWS range with a pristine Chrome UA is rare; a scraper doing it is not.
type InconsistencyDetector struct {
	Base
}

func NewInconsistencyDetector(m *models.Manifest) *InconsistencyDetector {
	return &InconsistencyDetector{Base: NewBase(m)}
}

func (d *InconsistencyDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}

	claimsBrowser := dc.Str("detection.useragent.category") == "Browser"
	score := 0.0

	if claimsBrowser && dc.Bool("request.ip.is_datacenter") {
		score += 0.6
		res.Contributions = append(res.Contributions,
			d.Bot(0.7, "datacenter_browser", models.CategoryUnknown,
				"browser identity claimed from a datacenter address"))
	}
	if claimsBrowser && dc.Bool("detection.header.inconsistent") {
		score += 0.4
		res.Contributions = append(res.Contributions,
			d.Bot(0.6, "missing_hints_browser", models.CategoryUnknown,
				"browser identity claimed without matching header fingerprint"))
	}
	if score > 1 {
		score = 1
	}

	res.Signals = append(res.Signals,
		Emit{"detection.inconsistency.score", models.RealSignal(score)})
	return res, nil
}
