package detectors

import (
	"context"
	"strconv"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// TCPDetector derives an OS guess from host-captured SYN properties posted
// in the client bundle (initial TTL, window size). The guess itself carries
// almost no weight; its value is the wave-3 cross-check against the UA's
// OS claim. Gated on request.has_client_bundle.
type TCPDetector struct {
	Base
}

func NewTCPDetector(m *models.Manifest) *TCPDetector {
	return &TCPDetector{Base: NewBase(m)}
}

func (d *TCPDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}
	bundle := dc.Fingerprint.ClientBundle
	if bundle == nil {
		return res, nil
	}

	ttl := bundleInt(bundle, "tcp_ttl")
	window := bundleInt(bundle, "tcp_window")
	if ttl <= 0 {
		return res, nil
	}

	guess := guessOS(ttl, window)
	if guess == "" {
		return res, nil
	}

	res.Signals = append(res.Signals,
		Emit{"detection.tcp.os_guess", models.StringSignal(guess)})
	return res, nil
}

// guessOS applies the classic initial-TTL heuristic: observed TTL rounds up
// to the nearest power-of-two-ish initial (64 unix, 128 windows, 255
// network gear), refined by window size where it disambiguates.
func guessOS(ttl, window int) string {
	switch {
	case ttl > 128:
		return "network-device"
	case ttl > 64:
		return "windows"
	case ttl > 32:
		// 64-initial family: linux, macos, ios, android
		switch window {
		case 65535:
			return "macos"
		case 64240, 29200, 5840:
			return "linux"
		}
		return "unix-like"
	}
	return ""
}

func bundleInt(bundle map[string]string, key string) int {
	v, err := strconv.Atoi(bundle[key])
	if err != nil {
		return 0
	}
	return v
}
