package detectors

import (
	"context"
	"testing"
	"time"

	"github.com/perimeterlab/botshield-engine/internal/registry"
	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/internal/state"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

func loadManifest(t *testing.T, name string) *models.Manifest {
	t.Helper()
	reg, err := registry.Load(nil)
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}
	m, ok := reg.Get(name)
	if !ok {
		t.Fatalf("manifest %s not found", name)
	}
	return m
}

func newDC(fp *models.Fingerprint) *signals.Context {
	if fp.Method == "" {
		fp.Method = "GET"
	}
	if fp.Path == "" {
		fp.Path = "/"
	}
	if fp.RemoteIP == "" {
		fp.RemoteIP = "198.51.100.7"
	}
	return signals.NewContext("t-1", fp, "sig-t")
}

func browserHeaderSet() []models.HeaderField {
	return []models.HeaderField{
		{Name: "Accept", Value: "text/html"},
		{Name: "Accept-Language", Value: "en-US"},
		{Name: "Accept-Encoding", Value: "gzip, br"},
		{Name: "Connection", Value: "keep-alive"},
		{Name: "Sec-CH-UA", Value: `"Chromium";v="131"`},
		{Name: "Sec-Fetch-Mode", Value: "navigate"},
	}
}

func signalValue(t *testing.T, res *Result, key string) models.SignalValue {
	t.Helper()
	for _, s := range res.Signals {
		if s.Key == key {
			return s.Value
		}
	}
	t.Fatalf("signal %s not emitted", key)
	return models.SignalValue{}
}

func hasSignal(res *Result, key string) bool {
	for _, s := range res.Signals {
		if s.Key == key {
			return true
		}
	}
	return false
}

func TestUserAgent_Classification(t *testing.T) {
	d := NewUserAgentDetector(loadManifest(t, "UserAgent"))

	tests := []struct {
		name     string
		ua       string
		category models.BotCategory
		botward  bool
	}{
		{"Empty UA", "", models.CategoryUnknown, true},
		{"curl", "curl/8.5.0", models.CategoryScriptingLibrary, true},
		{"Googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", models.CategorySearchEngine, true},
		{"GPTBot", "Mozilla/5.0 AppleWebKit/537.36 (compatible; GPTBot/1.0)", models.CategoryAICrawler, true},
		{"sqlmap", "sqlmap/1.7.2#stable (https://sqlmap.org)", models.CategorySecurityScanner, true},
		{"python-requests", "python-requests/2.31.0", models.CategoryScriptingLibrary, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Run(context.Background(), newDC(&models.Fingerprint{UserAgent: tt.ua}))
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(res.Contributions) == 0 {
				t.Fatal("Expected a contribution")
			}
			c := res.Contributions[0]
			if c.Category != tt.category {
				t.Errorf("Category = %s, want %s", c.Category, tt.category)
			}
			if tt.botward && c.RawScore <= 0 {
				t.Errorf("Expected bot-leaning score, got %g", c.RawScore)
			}
			if got := signalValue(t, res, "detection.useragent.category").AsString(); got != string(tt.category) {
				t.Errorf("Category signal = %s, want %s", got, tt.category)
			}
		})
	}
}

func TestUserAgent_EmptyIsHighConfidence(t *testing.T) {
	d := NewUserAgentDetector(loadManifest(t, "UserAgent"))
	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{UserAgent: "  "}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	c := res.Contributions[0]
	if c.Weight < 1.5 || c.Confidence < 0.9 {
		t.Errorf("Empty UA should be heavy and confident: weight=%g confidence=%g", c.Weight, c.Confidence)
	}
	if !signalValue(t, res, "detection.useragent.empty").AsBool() {
		t.Error("Empty signal not set")
	}
}

func TestUserAgent_BrowserParse(t *testing.T) {
	d := NewUserAgentDetector(loadManifest(t, "UserAgent"))
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{UserAgent: ua}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Contributions[0].RawScore >= 0 {
		t.Errorf("Plausible browser should lean human, got %g", res.Contributions[0].RawScore)
	}
	if got := signalValue(t, res, "detection.useragent.browser").AsString(); got != "Chrome" {
		t.Errorf("Browser = %s, want Chrome", got)
	}
	if got := signalValue(t, res, "detection.useragent.browser_version").AsInt(); got != 131 {
		t.Errorf("Version = %d, want 131", got)
	}
	if got := signalValue(t, res, "detection.useragent.os").AsString(); got != "windows" {
		t.Errorf("OS = %s, want windows", got)
	}
}

func TestUserAgent_HeadlessLikelihood(t *testing.T) {
	d := NewUserAgentDetector(loadManifest(t, "UserAgent"))
	ua := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36"

	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{UserAgent: ua}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if hl := signalValue(t, res, "detection.useragent.headless_likelihood").AsReal(); hl < 0.9 {
		t.Errorf("Headless likelihood = %g, want >= 0.9", hl)
	}
}

func TestHeaders_MissingAndInconsistent(t *testing.T) {
	d := NewHeaderDetector(loadManifest(t, "HeaderAnalysis"))

	// modern Chrome claim, no browser headers at all
	dc := newDC(&models.Fingerprint{
		UserAgent: "Mozilla/5.0 Chrome/131.0.0.0 Safari/537.36",
		Headers:   []models.HeaderField{{Name: "Host", Value: "x"}},
	})
	res, err := d.Run(context.Background(), dc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := signalValue(t, res, "detection.header.missing_count").AsInt(); got != 3 {
		t.Errorf("Missing count = %d, want 3", got)
	}
	if !signalValue(t, res, "detection.header.inconsistent").AsBool() {
		t.Error("Chrome claim without Sec-CH-UA should flag inconsistent")
	}
	if len(res.Contributions) != 2 {
		t.Errorf("Expected missing + inconsistent contributions, got %d", len(res.Contributions))
	}
}

func TestHeaders_FullBrowserSetLeansHuman(t *testing.T) {
	d := NewHeaderDetector(loadManifest(t, "HeaderAnalysis"))
	dc := newDC(&models.Fingerprint{
		UserAgent: "Mozilla/5.0 Chrome/131.0.0.0 Safari/537.36",
		Headers:   browserHeaderSet(),
	})
	res, err := d.Run(context.Background(), dc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Contributions) != 1 || res.Contributions[0].RawScore >= 0 {
		t.Errorf("Complete consistent header set should lean human, got %+v", res.Contributions)
	}
}

func TestHeaders_HintsWithoutEncodingStillLeanHuman(t *testing.T) {
	// Proxies routinely strip Accept-Encoding; one absent header plus
	// client hints must not read as scripted.
	d := NewHeaderDetector(loadManifest(t, "HeaderAnalysis"))
	dc := newDC(&models.Fingerprint{
		UserAgent: "Mozilla/5.0 Chrome/120.0.0.0 Safari/537.36",
		Headers: []models.HeaderField{
			{Name: "Accept", Value: "text/html,application/xhtml+xml"},
			{Name: "Accept-Language", Value: "en-US,en;q=0.9"},
			{Name: "sec-ch-ua", Value: `"Chromium";v="120"`},
		},
	})
	res, err := d.Run(context.Background(), dc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := signalValue(t, res, "detection.header.missing_count").AsInt(); got != 1 {
		t.Errorf("Missing count = %d, want 1", got)
	}
	if len(res.Contributions) != 1 || res.Contributions[0].RawScore >= 0 {
		t.Errorf("Expected a single human-leaning contribution, got %+v", res.Contributions)
	}
}

func TestIP_Classification(t *testing.T) {
	d := NewIPDetector(loadManifest(t, "IPAnalysis"))

	tests := []struct {
		name       string
		ip         string
		datacenter bool
		private    bool
	}{
		{"AWS", "3.15.1.1", true, false},
		{"Hetzner", "95.216.8.8", true, false},
		{"Residential-ish", "198.51.100.7", false, false},
		{"RFC1918", "192.168.1.50", false, true},
		{"Loopback", "127.0.0.1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Run(context.Background(), newDC(&models.Fingerprint{RemoteIP: tt.ip}))
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := signalValue(t, res, "request.ip.is_datacenter").AsBool(); got != tt.datacenter {
				t.Errorf("is_datacenter = %t, want %t", got, tt.datacenter)
			}
			if got := signalValue(t, res, "request.ip.is_private").AsBool(); got != tt.private {
				t.Errorf("is_private = %t, want %t", got, tt.private)
			}
			if tt.datacenter && len(res.Contributions) == 0 {
				t.Error("Datacenter address should contribute bot-ward")
			}
		})
	}
}

func TestIP_UnparseableAddressStaysQuiet(t *testing.T) {
	d := NewIPDetector(loadManifest(t, "IPAnalysis"))
	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{RemoteIP: "not-an-ip"}))
	if err != nil {
		t.Fatalf("Unparseable address must not error: %v", err)
	}
	if len(res.Signals) != 0 || len(res.Contributions) != 0 {
		t.Errorf("Expected silence, got %+v", res)
	}
}

func TestSecurityTool_Matches(t *testing.T) {
	d := NewSecurityToolDetector(loadManifest(t, "SecurityTool"))

	tests := []struct {
		name string
		fp   models.Fingerprint
		kind string
	}{
		{"Nikto UA", models.Fingerprint{UserAgent: "Mozilla/5.00 (Nikto/2.1.6)"}, "scanner_ua"},
		{"Env probe", models.Fingerprint{UserAgent: "Mozilla/5.0", Path: "/.env"}, "probe_path"},
		{"wp-login probe", models.Fingerprint{UserAgent: "Mozilla/5.0", Path: "/blog/wp-login.php"}, "probe_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Run(context.Background(), newDC(&tt.fp))
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(res.Contributions) != 1 {
				t.Fatalf("Expected one contribution, got %d", len(res.Contributions))
			}
			c := res.Contributions[0]
			if c.Category != models.CategorySecurityScanner {
				t.Errorf("Category = %s, want SecurityScanner", c.Category)
			}
			if c.Weight < 1.5 {
				t.Errorf("Scanner weight should be heavy, got %g", c.Weight)
			}
			if got := signalValue(t, res, "detection.sectool.kind").AsString(); got != tt.kind {
				t.Errorf("Kind = %s, want %s", got, tt.kind)
			}
		})
	}

	clean, err := d.Run(context.Background(), newDC(&models.Fingerprint{UserAgent: "Mozilla/5.0", Path: "/products"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if signalValue(t, clean, "detection.sectool.matched").AsBool() {
		t.Error("Clean request should not match")
	}
}

func TestInconsistency_DatacenterBrowser(t *testing.T) {
	d := NewInconsistencyDetector(loadManifest(t, "Inconsistency"))

	dc := newDC(&models.Fingerprint{})
	dc.SeedSignal("detection.useragent.category", models.StringSignal("Browser"))
	dc.SeedSignal("request.ip.is_datacenter", models.BoolSignal(true))
	dc.SeedSignal("detection.header.inconsistent", models.BoolSignal(true))

	res, err := d.Run(context.Background(), dc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Contributions) != 2 {
		t.Errorf("Expected both cross-check contributions, got %d", len(res.Contributions))
	}
	if score := signalValue(t, res, "detection.inconsistency.score").AsReal(); score != 1.0 {
		t.Errorf("Combined score should clamp to 1.0, got %g", score)
	}
}

func TestInconsistency_NonBrowserIsQuiet(t *testing.T) {
	d := NewInconsistencyDetector(loadManifest(t, "Inconsistency"))

	dc := newDC(&models.Fingerprint{})
	dc.SeedSignal("detection.useragent.category", models.StringSignal("ScriptingLibrary"))
	dc.SeedSignal("request.ip.is_datacenter", models.BoolSignal(true))

	res, err := d.Run(context.Background(), dc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Contributions) != 0 {
		t.Error("curl from a datacenter is consistent, not suspicious")
	}
	if score := signalValue(t, res, "detection.inconsistency.score").AsReal(); score != 0 {
		t.Errorf("Score should be zero, got %g", score)
	}
}

func TestVersionAge(t *testing.T) {
	d := NewVersionAgeDetector(loadManifest(t, "VersionAge"))

	tests := []struct {
		name          string
		browser       string
		version       int64
		contributions int
		stale         bool
	}{
		{"Current Chrome", "Chrome", 131, 0, false},
		{"Year-old Chrome", "Chrome", 120, 0, false},
		{"Stale Chrome", "Chrome", 112, 1, true},
		{"Ancient Chrome", "Chrome", 70, 1, true},
		{"Current Firefox", "Firefox", 133, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := newDC(&models.Fingerprint{})
			dc.SeedSignal("detection.useragent.browser", models.StringSignal(tt.browser))
			dc.SeedSignal("detection.useragent.browser_version", models.IntSignal(tt.version))

			res, err := d.Run(context.Background(), dc)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(res.Contributions) != tt.contributions {
				t.Errorf("Contributions = %d, want %d", len(res.Contributions), tt.contributions)
			}
			if got := signalValue(t, res, "detection.versionage.stale").AsBool(); got != tt.stale {
				t.Errorf("Stale = %t, want %t", got, tt.stale)
			}
		})
	}
}

func TestReputation_RepeatOffender(t *testing.T) {
	window := state.NewMemoryWindow(5*time.Minute, 100)
	now := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		window.Record("sig-t", state.Visit{UnixMs: now - int64(i)*1000, Path: "/", IsBot: true, BotProbability: 0.9})
	}

	d := NewReputationDetector(loadManifest(t, "Reputation"), window)
	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := signalValue(t, res, "detection.reputation.hits").AsInt(); got != 5 {
		t.Errorf("Hits = %d, want 5", got)
	}
	if len(res.Contributions) != 1 || res.Contributions[0].RawScore <= 0 {
		t.Errorf("Repeat offender should contribute bot-ward: %+v", res.Contributions)
	}
}

func TestReputation_FirstContactIsSilent(t *testing.T) {
	window := state.NewMemoryWindow(5*time.Minute, 100)
	d := NewReputationDetector(loadManifest(t, "Reputation"), window)

	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Contributions) != 0 {
		t.Error("No history should mean no contribution")
	}
	if got := signalValue(t, res, "detection.reputation.hits").AsInt(); got != 0 {
		t.Errorf("Hits = %d, want 0", got)
	}
}

func TestTLS_KnownToolAndLegacy(t *testing.T) {
	d := NewTLSDetector(loadManifest(t, "TLSFingerprint"))

	dc := newDC(&models.Fingerprint{TLS: &models.TLSMetadata{
		Version: 0x0301, // TLS 1.0
		JA3:     "e7d705a3286e19ea42f587b344ee6865",
	}})
	res, err := d.Run(context.Background(), dc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !signalValue(t, res, "detection.tls.matched").AsBool() {
		t.Error("curl JA3 should match")
	}
	if !signalValue(t, res, "detection.tls.legacy_version").AsBool() {
		t.Error("TLS 1.0 should flag legacy")
	}
	if len(res.Contributions) != 2 {
		t.Errorf("Expected tool + legacy contributions, got %d", len(res.Contributions))
	}
}

func TestTCP_OSGuess(t *testing.T) {
	d := NewTCPDetector(loadManifest(t, "TCPFingerprint"))

	tests := []struct {
		name   string
		bundle map[string]string
		want   string
	}{
		{"Windows TTL", map[string]string{"tcp_ttl": "117", "tcp_window": "8192"}, "windows"},
		{"Linux TTL+window", map[string]string{"tcp_ttl": "57", "tcp_window": "64240"}, "linux"},
		{"macOS window", map[string]string{"tcp_ttl": "60", "tcp_window": "65535"}, "macos"},
		{"Generic unix", map[string]string{"tcp_ttl": "55", "tcp_window": "1024"}, "unix-like"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Run(context.Background(), newDC(&models.Fingerprint{ClientBundle: tt.bundle}))
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := signalValue(t, res, "detection.tcp.os_guess").AsString(); got != tt.want {
				t.Errorf("OS guess = %s, want %s", got, tt.want)
			}
		})
	}

	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{ClientBundle: map[string]string{"canvas": "abc"}}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if hasSignal(res, "detection.tcp.os_guess") {
		t.Error("Bundle without SYN properties should publish nothing")
	}
}

func TestCorrelation_OSMismatch(t *testing.T) {
	d := NewCorrelationDetector(loadManifest(t, "MultiLayerCorrelation"))

	tests := []struct {
		name     string
		guess    string
		claim    string
		mismatch bool
	}{
		{"Windows stack, windows claim", "windows", "windows", false},
		{"Unix stack, linux claim", "unix-like", "linux", false},
		{"Unix stack, macos claim", "unix-like", "macos", false},
		{"Windows stack, macos claim", "windows", "macos", true},
		{"Unix stack, windows claim", "unix-like", "windows", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := newDC(&models.Fingerprint{})
			dc.SeedSignal("detection.tcp.os_guess", models.StringSignal(tt.guess))
			dc.SeedSignal("detection.useragent.os", models.StringSignal(tt.claim))

			res, err := d.Run(context.Background(), dc)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := signalValue(t, res, "detection.correlation.os_mismatch").AsBool(); got != tt.mismatch {
				t.Errorf("Mismatch = %t, want %t", got, tt.mismatch)
			}
			if tt.mismatch && len(res.Contributions) == 0 {
				t.Error("Mismatch should contribute bot-ward")
			}
		})
	}
}

func TestWaveform_MachineRegular(t *testing.T) {
	window := state.NewMemoryWindow(5*time.Minute, 100)
	now := time.Now().UnixMilli()
	// 10 visits exactly 2s apart: CV 0
	for i := 0; i < 10; i++ {
		window.Record("sig-t", state.Visit{UnixMs: now - int64(10-i)*2000, Path: "/scrape"})
	}

	d := NewWaveformDetector(loadManifest(t, "BehavioralWaveform"), window)
	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if cv := signalValue(t, res, "detection.waveform.cv").AsReal(); cv > 0.01 {
		t.Errorf("Metronomic visits should have CV ~0, got %g", cv)
	}
	if len(res.Contributions) != 1 || res.Contributions[0].RawScore <= 0.8 {
		t.Errorf("Machine timing should contribute strongly: %+v", res.Contributions)
	}
}

func TestWaveform_BelowMinObservations(t *testing.T) {
	window := state.NewMemoryWindow(5*time.Minute, 100)
	now := time.Now().UnixMilli()
	window.Record("sig-t", state.Visit{UnixMs: now - 2000, Path: "/"})
	window.Record("sig-t", state.Visit{UnixMs: now - 1000, Path: "/"})

	d := NewWaveformDetector(loadManifest(t, "BehavioralWaveform"), window)
	res, err := d.Run(context.Background(), newDC(&models.Fingerprint{}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Signals) != 0 {
		t.Error("Two visits is below min_observations, should publish nothing")
	}
}

func TestHeuristic_EmitsProbabilityAndLearning(t *testing.T) {
	window := state.NewMemoryWindow(5*time.Minute, 100)
	d := NewHeuristicDetector(loadManifest(t, "Heuristic"), window)

	dc := newDC(&models.Fingerprint{Path: "/products"})
	dc.SeedSignal("request.ip.is_datacenter", models.BoolSignal(true))

	res, err := d.Run(context.Background(), dc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	p := signalValue(t, res, "detection.heuristic.probability").AsReal()
	if p <= 0 || p >= 1 {
		t.Errorf("Probability out of range: %g", p)
	}
	if len(res.Contributions) != 1 {
		t.Fatalf("Expected one contribution, got %d", len(res.Contributions))
	}
	if len(res.Learning) != 1 || len(res.Learning[0].Features) != state.FeatureCount {
		t.Errorf("Expected a full feature row: %+v", res.Learning)
	}
}

func TestBuildCatalog_CoversRegistry(t *testing.T) {
	reg, err := registry.Load(nil)
	if err != nil {
		t.Fatalf("registry.Load failed: %v", err)
	}
	weighter := state.NewAdaptiveWeighter(0.05)
	catalog, err := BuildCatalog(reg, Deps{
		Window:   state.NewMemoryWindow(5*time.Minute, 100),
		Clusters: state.NewClusterStore(weighter),
	})
	if err != nil {
		t.Fatalf("BuildCatalog failed: %v", err)
	}
	for _, m := range reg.All() {
		if _, ok := catalog[m.Name]; !ok {
			t.Errorf("Manifest %s has no detector", m.Name)
		}
	}
}
