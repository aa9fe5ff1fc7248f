package models

// HeaderField is a single HTTP header in wire order. Header ordering is a
// fingerprinting signal in its own right (browsers emit a stable order,
// scripted clients usually do not), so the fingerprint preserves it instead
// of collapsing into a map.
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TLSMetadata captures handshake properties surfaced by the TLS terminator.
// All fields are optional; plaintext or pre-terminated traffic leaves it nil.
type TLSMetadata struct {
	Version     uint16 `json:"version"`     // e.g. 0x0304 = TLS 1.3
	CipherSuite uint16 `json:"cipherSuite"` // negotiated suite
	JA3         string `json:"ja3,omitempty"`
	JA4         string `json:"ja4,omitempty"`
	ALPN        string `json:"alpn,omitempty"` // negotiated protocol ("h2", "http/1.1")
}

// HTTP2Setting is one SETTINGS frame entry in arrival order.
type HTTP2Setting struct {
	ID    uint16 `json:"id"`
	Value uint32 `json:"value"`
}

// HTTP2Metadata captures connection-preface properties when the host
// exposes them. The SETTINGS ordering and pseudo-header ordering are stable
// per client implementation.
type HTTP2Metadata struct {
	Settings          []HTTP2Setting `json:"settings,omitempty"`
	PseudoHeaderOrder []string       `json:"pseudoHeaderOrder,omitempty"`
	WindowUpdate      uint32         `json:"windowUpdate,omitempty"`
	PriorityFrames    int            `json:"priorityFrames,omitempty"`
}

// Fingerprint is the per-request input to the detection pipeline. It is
// derived from the HTTP request at middleware entry and never retained
// beyond the request lifetime.
type Fingerprint struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	UserAgent string `json:"userAgent"`
	RemoteIP  string `json:"remoteIp"` // bare IP, port already stripped

	Headers []HeaderField `json:"headers"`

	TLS   *TLSMetadata   `json:"tls,omitempty"`
	HTTP2 *HTTP2Metadata `json:"http2,omitempty"`

	// ClientBundle holds client-side features posted on a prior visit
	// (canvas hash, timezone, plugin list digest). Empty for first contact.
	ClientBundle map[string]string `json:"clientBundle,omitempty"`
}

// Header returns the first value for a header name, case-insensitively.
// Returns "" when the header is absent.
func (f *Fingerprint) Header(name string) string {
	for _, h := range f.Headers {
		if equalFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HasHeader reports whether the header is present at all, even with an
// empty value.
func (f *Fingerprint) HasHeader(name string) bool {
	for _, h := range f.Headers {
		if equalFold(h.Name, name) {
			return true
		}
	}
	return false
}

// equalFold is an ASCII-only case-insensitive compare. Header names are
// ASCII by RFC 9110, so Unicode folding rules never apply here.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
