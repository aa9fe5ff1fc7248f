package detectors

import (
	"context"
	"fmt"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/internal/state"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// ReputationDetector reads the signature's sliding-window history: repeat
// bot verdicts confirm, repeat human verdicts exonerate. First contact
// publishes hits=0 and stays silent.
type ReputationDetector struct {
	Base
	window state.HitWindow
}

func NewReputationDetector(m *models.Manifest, window state.HitWindow) *ReputationDetector {
	return &ReputationDetector{Base: NewBase(m), window: window}
}

func (d *ReputationDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}

	history := d.window.History(dc.PrimarySignature)
	ratio := history.BotRatio()

	res.Signals = append(res.Signals,
		Emit{"detection.reputation.hits", models.IntSignal(int64(history.Hits))},
		Emit{"detection.reputation.bot_ratio", models.RealSignal(ratio)},
	)

	minHits := int(d.Manifest().ParamFloat("min_hits", 3))
	if history.Hits < minHits {
		return res, nil
	}

	switch {
	case ratio >= 0.6:
		res.Contributions = append(res.Contributions,
			d.Bot(ratio, "repeat_bot", models.CategoryUnknown,
				fmt.Sprintf("%d of %d recent visits judged bot", history.BotCount, history.Hits)))
	case ratio <= 0.2:
		res.Contributions = append(res.Contributions,
			d.Human(1-ratio, "repeat_human",
				fmt.Sprintf("%d recent visits, %d judged bot", history.Hits, history.BotCount)))
	}
	return res, nil
}
