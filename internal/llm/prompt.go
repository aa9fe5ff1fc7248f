package llm

import (
	"fmt"
	"strings"

	"github.com/perimeterlab/botshield-engine/internal/signals"
)

// BuildPrompt renders the redacted fingerprint the classifier sees. Raw
// PII never appears verbatim: the address is represented by the primary
// signature, the user agent by its parsed structure, and the path by a
// skeleton with identifiers collapsed.
func BuildPrompt(dc *signals.Context) string {
	fp := dc.Fingerprint

	var b strings.Builder
	b.WriteString("Classify this HTTP client.\n\n")
	fmt.Fprintf(&b, "signature: %s\n", dc.PrimarySignature)
	fmt.Fprintf(&b, "method: %s\n", fp.Method)
	fmt.Fprintf(&b, "path_skeleton: %s\n", PathSkeleton(fp.Path))
	fmt.Fprintf(&b, "ua_structure: %s\n", uaStructure(dc))
	fmt.Fprintf(&b, "header_count: %d\n", len(fp.Headers))
	fmt.Fprintf(&b, "missing_browser_headers: %g\n", dc.Real("detection.header.missing_count"))
	fmt.Fprintf(&b, "header_inconsistency: %t\n", dc.Bool("detection.header.inconsistent"))
	fmt.Fprintf(&b, "datacenter_ip: %t\n", dc.Bool("request.ip.is_datacenter"))
	fmt.Fprintf(&b, "vpn_ip: %t\n", dc.Bool("request.ip.is_vpn"))
	if asn := dc.Real("request.ip.asn"); asn > 0 {
		fmt.Fprintf(&b, "asn: %d\n", int64(asn))
	}
	if tls := dc.Str("detection.tls.category"); tls != "" {
		fmt.Fprintf(&b, "tls_match: %s\n", tls)
	}
	if os := dc.Str("detection.tcp.os_guess"); os != "" {
		fmt.Fprintf(&b, "transport_os: %s\n", os)
	}
	if cv := dc.Real("detection.waveform.cv"); cv > 0 {
		fmt.Fprintf(&b, "timing_cv: %.3f\n", cv)
	}
	if hits := dc.Real("detection.reputation.hits"); hits > 0 {
		fmt.Fprintf(&b, "window_hits: %d (bot_ratio %.2f)\n",
			int64(hits), dc.Real("detection.reputation.bot_ratio"))
	}
	return b.String()
}

// uaStructure summarises the user agent from its parsed signals rather
// than quoting it.
func uaStructure(dc *signals.Context) string {
	if dc.Bool("detection.useragent.empty") {
		return "empty"
	}
	browser := dc.Str("detection.useragent.browser")
	if browser == "" {
		return fmt.Sprintf("unrecognised/%s", dc.Str("detection.useragent.category"))
	}
	return fmt.Sprintf("%s/%d on %s (category %s)",
		browser,
		int64(dc.Real("detection.useragent.browser_version")),
		dc.Str("detection.useragent.os"),
		dc.Str("detection.useragent.category"))
}

// PathSkeleton collapses identifier-looking path segments so two requests
// to /users/1041/orders and /users/77/orders share a skeleton.
func PathSkeleton(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if looksLikeID(seg) {
			segments[i] = ":id"
		}
	}
	skeleton := strings.Join(segments, "/")
	if len(skeleton) > 120 {
		skeleton = skeleton[:120] + "..."
	}
	return skeleton
}

func looksLikeID(seg string) bool {
	if len(seg) == 0 {
		return false
	}
	digits, hexish := 0, 0
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
			hexish++
		case c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' || c == '-':
			hexish++
		}
	}
	if digits == len(seg) {
		return true
	}
	// uuid-ish or long hex tokens
	return len(seg) >= 16 && hexish == len(seg) && digits > 0
}
