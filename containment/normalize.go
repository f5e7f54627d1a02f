package containment

import (
	"net"
	"strings"
)

// Normalize maps a source identifier to its canonical form so containment
// state keyed by one spelling is found under every other spelling of the
// same source. IPv6-mapped IPv4 addresses collapse to plain IPv4
// ("::ffff:192.0.2.1" -> "192.0.2.1"), every loopback alias ("localhost",
// "::1", any 127.x.y.z) collapses to "127.0.0.1", IPv6 zone suffixes are
// stripped, and non-IP identifiers are lowercased and trimmed.
//
// Normalize is a pure function; both the raw and normalized forms are kept
// on containment entries so either can be queried later.
func Normalize(source string) string {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		return s
	}

	if s == "localhost" {
		return "127.0.0.1"
	}

	// Zone identifiers (fe80::1%eth0) never matter for containment identity.
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if ip.IsLoopback() {
		return "127.0.0.1"
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
