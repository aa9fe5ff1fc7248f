package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// scannerTokens are UA substrings that only security tooling emits.
var scannerTokens = []string{
	"sqlmap", "nikto", "nmap", "masscan", "nuclei", "zgrab",
	"wpscan", "dirbuster", "gobuster", "acunetix", "nessus",
	"openvas", "metasploit", "hydra", "ffuf", "feroxbuster",
}

// probePaths are exploit-probe request paths. Substring match against the
// lowercased path; anchored prefixes would miss the usual /api/../ tricks.
var probePaths = []string{
	"/.env",
	"/.git/",
	"/wp-login.php",
	"/wp-admin",
	"/xmlrpc.php",
	"/phpmyadmin",
	"/admin/config.php",
	"/cgi-bin/",
	"/etc/passwd",
	"/actuator/env",
	"/.aws/credentials",
	"/server-status",
	"/config.json.bak",
	"/backup.sql",
	"/shell.php",
	"/vendor/phpunit",
}

// SecurityToolDetector flags scanner user agents and exploit probe paths.
// Matches here carry the catalog's heaviest weights.
type SecurityToolDetector struct {
	Base
}

func NewSecurityToolDetector(m *models.Manifest) *SecurityToolDetector {
	return &SecurityToolDetector{Base: NewBase(m)}
}

func (d *SecurityToolDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	fp := dc.Fingerprint
	res := &Result{}

	lowerUA := strings.ToLower(fp.UserAgent)
	for _, tok := range scannerTokens {
		if strings.Contains(lowerUA, tok) {
			res.Contributions = append(res.Contributions,
				d.Bot(1.0, "scanner_ua", models.CategorySecurityScanner,
					fmt.Sprintf("scanner token %q in user agent", tok)))
			res.Signals = append(res.Signals,
				Emit{"detection.sectool.matched", models.BoolSignal(true)},
				Emit{"detection.sectool.kind", models.StringSignal("scanner_ua")},
			)
			return res, nil
		}
	}

	lowerPath := strings.ToLower(fp.Path)
	for _, probe := range probePaths {
		if strings.Contains(lowerPath, probe) {
			res.Contributions = append(res.Contributions,
				d.Bot(1.0, "probe_path", models.CategorySecurityScanner,
					fmt.Sprintf("exploit probe path %q", probe)))
			res.Signals = append(res.Signals,
				Emit{"detection.sectool.matched", models.BoolSignal(true)},
				Emit{"detection.sectool.kind", models.StringSignal("probe_path")},
			)
			return res, nil
		}
	}

	res.Signals = append(res.Signals,
		Emit{"detection.sectool.matched", models.BoolSignal(false)})
	return res, nil
}
