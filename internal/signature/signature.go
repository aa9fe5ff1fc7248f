// Package signature derives the primary request signature: a stable,
// non-reversible identifier used to correlate repeat visitors without
// retaining the user agent or address that produced it.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Signer computes HMAC-SHA256 over the length-prefixed (UA, IP, path)
// triple, truncated to 128 bits and hex-lowercased. The secret is injected
// once at startup and read-only.
type Signer struct {
	secret []byte
}

// NewSigner wraps the server secret. The caller validates secret strength;
// the signer itself accepts anything non-empty.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Primary returns the primary signature for a (UA, IP, path) triple.
// Fixed inputs yield a byte-identical signature across runs and platforms;
// changing any one input changes it.
func (s *Signer) Primary(userAgent, remoteIP, path string) string {
	mac := hmac.New(sha256.New, s.secret)
	writeField(mac, userAgent)
	writeField(mac, remoteIP)
	writeField(mac, path)
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// writeField length-prefixes one input so field boundaries survive inside
// the MAC: ("a|b","c") and ("a","b|c") feed different byte streams even
// though the concatenations match.
func writeField(mac hash.Hash, field string) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(field)))
	mac.Write(prefix[:])
	mac.Write([]byte(field))
}
