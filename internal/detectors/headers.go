package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// browserHeaders are the headers every mainstream browser sends on a
// top-level navigation. Scripted clients usually skip most of them.
// Connection stays out: it is hop-by-hop and absent on HTTP/2.
var browserHeaders = []string{
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
}

// HeaderDetector scores header presence and internal consistency: a UA
// claiming modern Chrome without client hints is lying about something.
type HeaderDetector struct {
	Base
}

func NewHeaderDetector(m *models.Manifest) *HeaderDetector {
	return &HeaderDetector{Base: NewBase(m)}
}

func (d *HeaderDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	fp := dc.Fingerprint
	res := &Result{}

	missing := 0
	for _, h := range browserHeaders {
		if !fp.HasHeader(h) {
			missing++
		}
	}

	hasClientHints := fp.HasHeader("Sec-CH-UA")
	hasSecFetch := fp.HasHeader("Sec-Fetch-Mode") || fp.HasHeader("Sec-Fetch-Site")

	inconsistent := claimsModernChrome(fp.UserAgent) && !hasClientHints && !hasSecFetch

	res.Signals = append(res.Signals,
		Emit{"detection.header.missing_count", models.IntSignal(int64(missing))},
		Emit{"detection.header.inconsistent", models.BoolSignal(inconsistent)},
		Emit{"detection.header.has_client_hints", models.BoolSignal(hasClientHints)},
		Emit{"detection.header.has_sec_fetch", models.BoolSignal(hasSecFetch)},
	)

	threshold := int(d.Manifest().ParamFloat("missing_threshold", 2))
	if missing >= threshold {
		// score scales with how bare the request is
		raw := float64(missing) / float64(len(browserHeaders))
		res.Contributions = append(res.Contributions,
			d.Bot(raw, "missing_headers", models.CategoryUnknown,
				fmt.Sprintf("%d of %d browser headers absent", missing, len(browserHeaders))))
	}
	if inconsistent {
		res.Contributions = append(res.Contributions,
			d.Bot(0.8, "inconsistent_claims", models.CategoryUnknown,
				"claims modern Chrome but sends no Sec-CH-UA or Sec-Fetch headers"))
	}
	// Client hints on a mostly-complete header set corroborate the browser
	// claim; scripted clients rarely bother forging them.
	if !inconsistent && hasClientHints && missing < threshold {
		res.Contributions = append(res.Contributions,
			d.Human(0.6, "consistent_headers",
				"client hints present alongside the expected browser headers"))
	}
	return res, nil
}

// claimsModernChrome reports a Chrome >= 90 UA claim, the point past which
// client hints ship by default.
func claimsModernChrome(ua string) bool {
	idx := strings.Index(ua, "Chrome/")
	if idx < 0 {
		return false
	}
	return parseMajor(ua[idx+len("Chrome/"):]) >= 90
}
