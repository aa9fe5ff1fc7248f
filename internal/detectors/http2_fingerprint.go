package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// h2Profile is a known client implementation's connection-preface shape:
// SETTINGS IDs in arrival order plus pseudo-header order.
type h2Profile struct {
	name         string
	browserGrade bool
	settingsIDs  []uint16
	pseudoOrder  []string
}

var h2Profiles = []h2Profile{
	{"chrome", true,
		[]uint16{1, 2, 4, 6},
		[]string{":method", ":authority", ":scheme", ":path"}},
	{"firefox", true,
		[]uint16{1, 4, 5},
		[]string{":method", ":path", ":authority", ":scheme"}},
	{"safari", true,
		[]uint16{2, 4, 3},
		[]string{":method", ":scheme", ":path", ":authority"}},
	{"go-net-http2", false,
		[]uint16{2, 4, 6},
		[]string{":authority", ":method", ":path", ":scheme"}},
	{"python-httpx", false,
		[]uint16{1, 2, 4, 5, 6},
		[]string{":method", ":authority", ":scheme", ":path"}},
}

// HTTP2Detector matches the connection preface against known client
// profiles. A non-browser profile under a browser UA is the interesting
// case. Gated on request.has_http2.
type HTTP2Detector struct {
	Base
}

func NewHTTP2Detector(m *models.Manifest) *HTTP2Detector {
	return &HTTP2Detector{Base: NewBase(m)}
}

func (d *HTTP2Detector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}
	h2 := dc.Fingerprint.HTTP2
	if h2 == nil || len(h2.Settings) == 0 {
		return res, nil
	}

	ids := make([]uint16, len(h2.Settings))
	for i, s := range h2.Settings {
		ids[i] = s.ID
	}

	profile := matchProfile(ids, h2.PseudoHeaderOrder)
	if profile == nil {
		res.Signals = append(res.Signals,
			Emit{"detection.http2.profile", models.StringSignal("unknown")},
			Emit{"detection.http2.browser_grade", models.BoolSignal(false)},
		)
		return res, nil
	}

	res.Signals = append(res.Signals,
		Emit{"detection.http2.profile", models.StringSignal(profile.name)},
		Emit{"detection.http2.browser_grade", models.BoolSignal(profile.browserGrade)},
	)

	if !profile.browserGrade && dc.Str("detection.useragent.browser") != "" {
		res.Contributions = append(res.Contributions,
			d.Bot(0.8, "non_browser_profile", models.CategoryUnknown,
				fmt.Sprintf("browser UA but %s connection preface", profile.name)))
	}
	return res, nil
}

func matchProfile(ids []uint16, pseudo []string) *h2Profile {
	for i := range h2Profiles {
		p := &h2Profiles[i]
		if !settingsEqual(ids, p.settingsIDs) {
			continue
		}
		// pseudo order is confirmatory when present, not required
		if len(pseudo) > 0 && !pseudoEqual(pseudo, p.pseudoOrder) {
			continue
		}
		return p
	}
	return nil
}

func settingsEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func pseudoEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
