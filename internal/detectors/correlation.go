package detectors

import (
	"context"
	"fmt"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// CorrelationDetector cross-checks layers that lie independently: the
// transport stack's OS guess against the user agent's OS claim. Spoofing a
// UA is one line of code; spoofing TCP initial TTL is not.
type CorrelationDetector struct {
	Base
}

func NewCorrelationDetector(m *models.Manifest) *CorrelationDetector {
	return &CorrelationDetector{Base: NewBase(m)}
}

func (d *CorrelationDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}

	guess := dc.Str("detection.tcp.os_guess")
	claim := dc.Str("detection.useragent.os")
	if guess == "" || claim == "" || guess == "network-device" {
		return res, nil
	}

	mismatch := !osCompatible(guess, claim)
	res.Signals = append(res.Signals,
		Emit{"detection.correlation.os_mismatch", models.BoolSignal(mismatch)})

	if mismatch {
		res.Contributions = append(res.Contributions,
			d.Bot(0.9, "os_mismatch", models.CategoryUnknown,
				fmt.Sprintf("transport stack looks like %s, user agent claims %s", guess, claim)))
	}
	return res, nil
}

// osCompatible treats the coarse transport guess as a family: "unix-like"
// covers every 64-initial-TTL OS.
func osCompatible(guess, claim string) bool {
	if guess == claim {
		return true
	}
	if guess == "unix-like" {
		switch claim {
		case "linux", "macos", "android", "ios":
			return true
		}
	}
	return false
}
