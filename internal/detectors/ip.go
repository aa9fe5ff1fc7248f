package detectors

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// ipRange is one classified CIDR block. The tables below are a compact
// built-in seed; production deployments extend them via feeds.
type ipRange struct {
	prefix   netip.Prefix
	asn      int64
	provider string
}

func mustPrefix(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(fmt.Sprintf("bad built-in CIDR %q: %v", s, err))
	}
	return p
}

var datacenterRanges = []ipRange{
	{mustPrefix("3.0.0.0/9"), 16509, "AWS"},
	{mustPrefix("13.32.0.0/12"), 16509, "AWS CloudFront"},
	{mustPrefix("18.128.0.0/9"), 16509, "AWS"},
	{mustPrefix("34.64.0.0/10"), 15169, "Google Cloud"},
	{mustPrefix("35.184.0.0/13"), 15169, "Google Cloud"},
	{mustPrefix("104.196.0.0/14"), 15169, "Google Cloud"},
	{mustPrefix("13.64.0.0/11"), 8075, "Azure"},
	{mustPrefix("20.33.0.0/16"), 8075, "Azure"},
	{mustPrefix("40.64.0.0/10"), 8075, "Azure"},
	{mustPrefix("104.16.0.0/13"), 13335, "Cloudflare"},
	{mustPrefix("172.64.0.0/13"), 13335, "Cloudflare"},
	{mustPrefix("159.65.0.0/16"), 14061, "DigitalOcean"},
	{mustPrefix("165.227.0.0/16"), 14061, "DigitalOcean"},
	{mustPrefix("167.99.0.0/16"), 14061, "DigitalOcean"},
	{mustPrefix("5.9.0.0/16"), 24940, "Hetzner"},
	{mustPrefix("78.46.0.0/15"), 24940, "Hetzner"},
	{mustPrefix("95.216.0.0/15"), 24940, "Hetzner"},
	{mustPrefix("51.15.0.0/16"), 12876, "Scaleway"},
	{mustPrefix("151.115.0.0/16"), 12876, "Scaleway"},
	{mustPrefix("45.76.0.0/16"), 20473, "Vultr"},
	{mustPrefix("149.28.0.0/16"), 20473, "Vultr"},
	{mustPrefix("172.104.0.0/15"), 63949, "Linode"},
	{mustPrefix("139.162.0.0/16"), 63949, "Linode"},
	{mustPrefix("51.38.0.0/16"), 16276, "OVH"},
	{mustPrefix("51.68.0.0/16"), 16276, "OVH"},
	{mustPrefix("146.59.0.0/16"), 16276, "OVH"},
}

var vpnRanges = []ipRange{
	{mustPrefix("185.159.156.0/22"), 9009, "M247 VPN"},
	{mustPrefix("37.120.128.0/17"), 9009, "M247 VPN"},
	{mustPrefix("89.187.160.0/19"), 60068, "Datacamp VPN"},
	{mustPrefix("212.102.32.0/19"), 60068, "Datacamp VPN"},
	{mustPrefix("143.244.32.0/19"), 212238, "Datacamp VPN"},
}

var privateRanges = []netip.Prefix{
	mustPrefix("10.0.0.0/8"),
	mustPrefix("172.16.0.0/12"),
	mustPrefix("192.168.0.0/16"),
	mustPrefix("127.0.0.0/8"),
	mustPrefix("169.254.0.0/16"),
	mustPrefix("fc00::/7"),
	mustPrefix("::1/128"),
}

// IPDetector classifies the remote address against the CIDR tables and
// publishes infrastructure signals for the wave-1 cross-checks.
type IPDetector struct {
	Base
}

func NewIPDetector(m *models.Manifest) *IPDetector {
	return &IPDetector{Base: NewBase(m)}
}

func (d *IPDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}

	addr, err := netip.ParseAddr(dc.Fingerprint.RemoteIP)
	if err != nil {
		// unparseable address: publish nothing, consumers stay dormant
		return res, nil
	}

	for _, p := range privateRanges {
		if p.Contains(addr) {
			res.Signals = append(res.Signals,
				Emit{"request.ip.is_private", models.BoolSignal(true)},
				Emit{"request.ip.is_datacenter", models.BoolSignal(false)},
				Emit{"request.ip.is_vpn", models.BoolSignal(false)},
			)
			return res, nil
		}
	}

	dcRange := lookupRange(datacenterRanges, addr)
	vpnRange := lookupRange(vpnRanges, addr)

	res.Signals = append(res.Signals,
		Emit{"request.ip.is_private", models.BoolSignal(false)},
		Emit{"request.ip.is_datacenter", models.BoolSignal(dcRange != nil)},
		Emit{"request.ip.is_vpn", models.BoolSignal(vpnRange != nil)},
	)

	switch {
	case dcRange != nil:
		res.Signals = append(res.Signals,
			Emit{"request.ip.asn", models.IntSignal(dcRange.asn)},
			Emit{"request.ip.provider", models.StringSignal(dcRange.provider)},
		)
		res.Contributions = append(res.Contributions,
			d.Bot(0.6, "datacenter", models.CategoryUnknown,
				fmt.Sprintf("address in %s range (AS%d)", dcRange.provider, dcRange.asn)))
	case vpnRange != nil:
		res.Signals = append(res.Signals,
			Emit{"request.ip.asn", models.IntSignal(vpnRange.asn)},
			Emit{"request.ip.provider", models.StringSignal(vpnRange.provider)},
		)
		res.Contributions = append(res.Contributions,
			d.Bot(0.4, "vpn", models.CategoryUnknown,
				fmt.Sprintf("address in %s range", vpnRange.provider)))
	}
	return res, nil
}

func lookupRange(table []ipRange, addr netip.Addr) *ipRange {
	for i := range table {
		if table[i].prefix.Contains(addr) {
			return &table[i]
		}
	}
	return nil
}
