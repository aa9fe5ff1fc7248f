package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// VersionAgeDetector compares the claimed browser major version against
// current releases. Automation images pin old browser builds; humans
// auto-update. Mild weight: stale alone proves nothing.
type VersionAgeDetector struct {
	Base
}

func NewVersionAgeDetector(m *models.Manifest) *VersionAgeDetector {
	return &VersionAgeDetector{Base: NewBase(m)}
}

func (d *VersionAgeDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}

	browser := dc.Str("detection.useragent.browser")
	version := int(dc.Real("detection.useragent.browser_version"))
	if browser == "" || version <= 0 {
		return res, nil
	}

	current := d.currentVersion(browser)
	if current <= 0 {
		return res, nil
	}

	delta := current - version
	if delta < 0 {
		delta = 0
	}
	staleDelta := int(d.Manifest().ParamFloat("stale_delta", 6))

	res.Signals = append(res.Signals,
		Emit{"detection.versionage.delta", models.IntSignal(int64(delta))},
		Emit{"detection.versionage.stale", models.BoolSignal(delta >= staleDelta)},
	)

	switch {
	case delta >= 4*staleDelta:
		res.Contributions = append(res.Contributions,
			d.Bot(0.8, "ancient_version", models.CategoryUnknown,
				fmt.Sprintf("%s %d is %d majors behind current", browser, version, delta)))
	case delta >= staleDelta:
		res.Contributions = append(res.Contributions,
			d.Bot(0.5, "stale_version", models.CategoryUnknown,
				fmt.Sprintf("%s %d is %d majors behind current", browser, version, delta)))
	}
	return res, nil
}

func (d *VersionAgeDetector) currentVersion(browser string) int {
	return int(d.Manifest().ParamFloat("current_"+strings.ToLower(browser), 0))
}
