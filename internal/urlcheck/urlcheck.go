// Package urlcheck validates outbound target URLs before any network call is
// made on them. It rejects plaintext schemes and loopback, private, and
// link-local destinations so user-supplied health-check targets cannot be
// pointed at internal infrastructure.
package urlcheck

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// UnsafeTargetError describes why a URL was rejected.
type UnsafeTargetError struct {
	URL    string
	Reason string
}

func (e *UnsafeTargetError) Error() string {
	return fmt.Sprintf("unsafe target %q: %s", e.URL, e.Reason)
}

// Options controls validation behavior.
type Options struct {
	// AllowLocal permits loopback targets (127.0.0.0/8, localhost).
	// Private and link-local ranges stay rejected regardless.
	AllowLocal bool
	// AllowedDomains, when non-empty, is an exact-match hostname allow-list
	// applied after the range checks.
	AllowedDomains []string
}

// blockedRanges are never reachable targets, with or without AllowLocal.
var blockedRanges = []struct {
	cidr   string
	reason string
}{
	{"10.0.0.0/8", "private address range"},
	{"172.16.0.0/12", "private address range"},
	{"192.168.0.0/16", "private address range"},
	{"169.254.0.0/16", "link-local/metadata address range"},
	{"fc00::/7", "private address range"},
	{"fe80::/10", "link-local/metadata address range"},
}

// Validate checks that raw is a safe https target. It never performs DNS
// resolution or any other network call; classification is purely syntactic
// (scheme, hostname, and IP-literal range membership).
func Validate(raw string, opts Options) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &UnsafeTargetError{URL: raw, Reason: fmt.Sprintf("unparseable URL: %v", err)}
	}

	if u.Scheme != "https" {
		return &UnsafeTargetError{URL: raw, Reason: fmt.Sprintf("scheme %q not allowed, only https", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		return &UnsafeTargetError{URL: raw, Reason: "missing hostname"}
	}

	if isLoopback(host) {
		if !opts.AllowLocal {
			return &UnsafeTargetError{URL: raw, Reason: "loopback address not allowed"}
		}
	} else if ip := net.ParseIP(host); ip != nil {
		for _, blocked := range blockedRanges {
			_, cidr, _ := net.ParseCIDR(blocked.cidr)
			if cidr.Contains(ip) {
				return &UnsafeTargetError{URL: raw, Reason: blocked.reason}
			}
		}
	}

	if len(opts.AllowedDomains) > 0 && !domainAllowed(host, opts.AllowedDomains) {
		return &UnsafeTargetError{URL: raw, Reason: fmt.Sprintf("hostname %q not in allow-list", host)}
	}

	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func domainAllowed(host string, allowed []string) bool {
	for _, d := range allowed {
		if strings.EqualFold(host, d) {
			return true
		}
	}
	return false
}
