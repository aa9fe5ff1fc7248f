package detectors

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// uaEntry is one row of the curated bot table. Patterns are lowercase
// substrings; the first match wins, so narrow patterns sit above broad ones.
type uaEntry struct {
	pattern  string
	category models.BotCategory
	label    string
	score    float64 // raw bot score on match
}

var uaTable = []uaEntry{
	// search engines
	{"googlebot", models.CategorySearchEngine, "Googlebot", 1.0},
	{"bingbot", models.CategorySearchEngine, "Bingbot", 1.0},
	{"duckduckbot", models.CategorySearchEngine, "DuckDuckBot", 1.0},
	{"baiduspider", models.CategorySearchEngine, "Baiduspider", 1.0},
	{"yandexbot", models.CategorySearchEngine, "YandexBot", 1.0},
	{"applebot", models.CategorySearchEngine, "Applebot", 1.0},

	// social crawlers
	{"facebookexternalhit", models.CategorySocialCrawler, "FacebookCrawler", 1.0},
	{"twitterbot", models.CategorySocialCrawler, "Twitterbot", 1.0},
	{"linkedinbot", models.CategorySocialCrawler, "LinkedInBot", 1.0},
	{"slackbot", models.CategorySocialCrawler, "Slackbot", 1.0},
	{"discordbot", models.CategorySocialCrawler, "Discordbot", 1.0},

	// AI crawlers
	{"gptbot", models.CategoryAICrawler, "GPTBot", 1.0},
	{"claudebot", models.CategoryAICrawler, "ClaudeBot", 1.0},
	{"ccbot", models.CategoryAICrawler, "CCBot", 1.0},
	{"perplexitybot", models.CategoryAICrawler, "PerplexityBot", 1.0},
	{"bytespider", models.CategoryAICrawler, "Bytespider", 1.0},

	// security scanners (the SecurityTool detector scores these harder;
	// the table still classifies them)
	{"sqlmap", models.CategorySecurityScanner, "sqlmap", 1.0},
	{"nikto", models.CategorySecurityScanner, "Nikto", 1.0},
	{"nmap scripting engine", models.CategorySecurityScanner, "Nmap NSE", 1.0},
	{"masscan", models.CategorySecurityScanner, "masscan", 1.0},
	{"nuclei", models.CategorySecurityScanner, "Nuclei", 1.0},
	{"zgrab", models.CategorySecurityScanner, "ZGrab", 1.0},

	// automation frameworks
	{"headlesschrome", models.CategoryAutomation, "HeadlessChrome", 0.9},
	{"phantomjs", models.CategoryAutomation, "PhantomJS", 1.0},
	{"selenium", models.CategoryAutomation, "Selenium", 1.0},
	{"playwright", models.CategoryAutomation, "Playwright", 1.0},
	{"puppeteer", models.CategoryAutomation, "Puppeteer", 1.0},
	{"electron", models.CategoryAutomation, "Electron", 0.6},

	// scripting libraries
	{"curl/", models.CategoryScriptingLibrary, "curl", 1.0},
	{"wget/", models.CategoryScriptingLibrary, "wget", 1.0},
	{"python-requests", models.CategoryScriptingLibrary, "python-requests", 1.0},
	{"python-urllib", models.CategoryScriptingLibrary, "python-urllib", 1.0},
	{"aiohttp/", models.CategoryScriptingLibrary, "aiohttp", 1.0},
	{"scrapy/", models.CategoryScriptingLibrary, "Scrapy", 1.0},
	{"go-http-client", models.CategoryScriptingLibrary, "Go http client", 1.0},
	{"axios/", models.CategoryScriptingLibrary, "axios", 1.0},
	{"node-fetch", models.CategoryScriptingLibrary, "node-fetch", 1.0},
	{"okhttp/", models.CategoryScriptingLibrary, "OkHttp", 0.9},
	{"libwww-perl", models.CategoryScriptingLibrary, "libwww-perl", 1.0},
	{"java/", models.CategoryScriptingLibrary, "Java HttpClient", 0.9},
	{"httpclient", models.CategoryScriptingLibrary, "HttpClient", 0.8},

	// monitors
	{"uptimerobot", models.CategoryMonitor, "UptimeRobot", 1.0},
	{"pingdom", models.CategoryMonitor, "Pingdom", 1.0},
	{"statuscake", models.CategoryMonitor, "StatusCake", 1.0},
	{"site24x7", models.CategoryMonitor, "Site24x7", 1.0},
	{"datadog", models.CategoryMonitor, "Datadog Synthetics", 0.9},
}

// UserAgentDetector classifies the raw UA string: curated table first,
// browser structure parse second. Always runs in wave 0.
type UserAgentDetector struct {
	Base
}

func NewUserAgentDetector(m *models.Manifest) *UserAgentDetector {
	return &UserAgentDetector{Base: NewBase(m)}
}

func (d *UserAgentDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	ua := strings.TrimSpace(dc.Fingerprint.UserAgent)
	res := &Result{}

	if ua == "" {
		res.Contributions = append(res.Contributions,
			d.Bot(1.0, "empty_ua", models.CategoryUnknown, "empty user agent"))
		res.Signals = append(res.Signals,
			Emit{"detection.useragent.empty", models.BoolSignal(true)},
			Emit{"detection.useragent.category", models.StringSignal(string(models.CategoryUnknown))},
			Emit{"detection.useragent.confidence", models.RealSignal(d.Confidence("empty_ua", 0.95))},
			Emit{"detection.useragent.headless_likelihood", models.RealSignal(0.5)},
		)
		return res, nil
	}

	lower := strings.ToLower(ua)
	if entry := matchUATable(lower); entry != nil {
		res.Contributions = append(res.Contributions,
			d.Bot(entry.score, "table_match", entry.category,
				fmt.Sprintf("user agent matches %s", entry.label)))
		res.Signals = append(res.Signals,
			Emit{"detection.useragent.empty", models.BoolSignal(false)},
			Emit{"detection.useragent.category", models.StringSignal(string(entry.category))},
			Emit{"detection.useragent.confidence", models.RealSignal(d.Confidence("table_match", 0.85))},
			Emit{"detection.useragent.label", models.StringSignal(entry.label)},
			Emit{"detection.useragent.headless_likelihood", models.RealSignal(headlessLikelihood(lower, entry))},
		)
		return res, nil
	}

	browser, version := parseBrowser(ua)
	osName := parseOS(lower)

	res.Signals = append(res.Signals,
		Emit{"detection.useragent.empty", models.BoolSignal(false)},
		Emit{"detection.useragent.headless_likelihood", models.RealSignal(headlessLikelihood(lower, nil))},
	)

	if browser != "" {
		// plausible browser: mildly human-leaning, wave 1 cross-checks it
		res.Contributions = append(res.Contributions,
			d.Human(0.5, "browser_like", fmt.Sprintf("parses as %s %d on %s", browser, version, osName)))
		res.Signals = append(res.Signals,
			Emit{"detection.useragent.category", models.StringSignal("Browser")},
			Emit{"detection.useragent.confidence", models.RealSignal(d.Confidence("browser_like", 0.45))},
			Emit{"detection.useragent.browser", models.StringSignal(browser)},
			Emit{"detection.useragent.browser_version", models.IntSignal(int64(version))},
			Emit{"detection.useragent.os", models.StringSignal(osName)},
		)
		return res, nil
	}

	// unrecognised: neither table bot nor browser shaped
	res.Contributions = append(res.Contributions,
		d.Bot(0.4, "table_match", models.CategoryUnknown, "unrecognised user agent shape"))
	res.Signals = append(res.Signals,
		Emit{"detection.useragent.category", models.StringSignal(string(models.CategoryUnknown))},
		Emit{"detection.useragent.confidence", models.RealSignal(0.4)},
	)
	if osName != "" {
		res.Signals = append(res.Signals,
			Emit{"detection.useragent.os", models.StringSignal(osName)})
	}
	return res, nil
}

func matchUATable(lower string) *uaEntry {
	for i := range uaTable {
		if strings.Contains(lower, uaTable[i].pattern) {
			return &uaTable[i]
		}
	}
	return nil
}

// headlessLikelihood estimates automation-browser probability from UA
// structure alone. Wave-2 fingerprints refine this; the UA token is just
// the cheap first read.
func headlessLikelihood(lower string, entry *uaEntry) float64 {
	if strings.Contains(lower, "headless") {
		return 0.95
	}
	if entry != nil && entry.category == models.CategoryAutomation {
		return 0.9
	}
	return 0.0
}

// parseBrowser extracts the browser family and major version. Order
// matters: Edge and Opera carry a Chrome token, Chrome carries Safari.
func parseBrowser(ua string) (string, int) {
	checks := []struct {
		token   string
		browser string
	}{
		{"Edg/", "Edge"},
		{"OPR/", "Opera"},
		{"Firefox/", "Firefox"},
		{"Chrome/", "Chrome"},
		{"Version/", "Safari"}, // Safari versions via the Version token
	}
	for _, c := range checks {
		idx := strings.Index(ua, c.token)
		if idx < 0 {
			continue
		}
		if c.browser == "Safari" && !strings.Contains(ua, "Safari/") {
			continue
		}
		if v := parseMajor(ua[idx+len(c.token):]); v > 0 {
			return c.browser, v
		}
	}
	return "", 0
}

func parseMajor(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return v
}

func parseOS(lower string) string {
	switch {
	case strings.Contains(lower, "windows nt"):
		return "windows"
	case strings.Contains(lower, "android"):
		return "android"
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"):
		return "ios"
	case strings.Contains(lower, "mac os x"), strings.Contains(lower, "macintosh"):
		return "macos"
	case strings.Contains(lower, "linux"):
		return "linux"
	}
	return ""
}
