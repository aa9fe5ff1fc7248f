package detectors

import (
	"context"
	"fmt"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// ja3Entry classifies one known client-hello digest.
type ja3Entry struct {
	label    string
	category models.BotCategory
	score    float64
}

// Known tool digests. Browser digests churn with every release, so the
// table only pins tools whose TLS stacks move slowly.
var ja3Table = map[string]ja3Entry{
	// curl (OpenSSL default build)
	"e7d705a3286e19ea42f587b344ee6865": {"curl", models.CategoryScriptingLibrary, 0.9},
	// python-requests / urllib3
	"b32309a26951912be7dba376398abc3b": {"python-requests", models.CategoryScriptingLibrary, 0.9},
	// Go crypto/tls default
	"473cd7cb9faa642487833865d516e578": {"Go http client", models.CategoryScriptingLibrary, 0.9},
	// sqlmap
	"1be8360b66649edee1de25f81d98ec27": {"sqlmap", models.CategorySecurityScanner, 1.0},
	// Headless Chrome with disabled GREASE
	"66918128f1b9b03303d77c6f2eefd128": {"HeadlessChrome", models.CategoryAutomation, 0.85},
}

var ja4Table = map[string]ja3Entry{
	// curl over TLS1.3 h1
	"t13d1516h1_8daaf6152771_02713d6af862": {"curl", models.CategoryScriptingLibrary, 0.9},
	// python-httpx
	"t13d1715h2_5b57614c22b0_3d5424432f57": {"python-httpx", models.CategoryScriptingLibrary, 0.85},
}

const tls12 = 0x0303

// TLSDetector looks up the handshake digest against the tool tables and
// flags pre-1.2 protocol versions. Gated on request.has_tls.
type TLSDetector struct {
	Base
}

func NewTLSDetector(m *models.Manifest) *TLSDetector {
	return &TLSDetector{Base: NewBase(m)}
}

func (d *TLSDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}
	tls := dc.Fingerprint.TLS
	if tls == nil {
		return res, nil
	}

	entry, matched := ja3Table[tls.JA3]
	if !matched {
		entry, matched = ja4Table[tls.JA4]
	}

	legacy := tls.Version != 0 && tls.Version < tls12

	res.Signals = append(res.Signals,
		Emit{"detection.tls.matched", models.BoolSignal(matched)},
		Emit{"detection.tls.legacy_version", models.BoolSignal(legacy)},
	)

	if matched {
		res.Signals = append(res.Signals,
			Emit{"detection.tls.category", models.StringSignal(string(entry.category))})
		res.Contributions = append(res.Contributions,
			d.Bot(entry.score, "known_tool", entry.category,
				fmt.Sprintf("TLS fingerprint matches %s", entry.label)))
	}
	if legacy {
		res.Contributions = append(res.Contributions,
			d.Bot(0.6, "legacy_version", models.CategoryUnknown,
				fmt.Sprintf("negotiated TLS version 0x%04x predates 1.2", tls.Version)))
	}
	return res, nil
}
