// Package hostutil normalizes and checks the base URLs of connected
// service accounts.
package hostutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Normalize turns a bare host or URL into a base URL without a trailing
// slash. Bare loopback hosts get http://, every other bare host https://.
// Empty input stays empty.
func Normalize(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	switch {
	case host == "":
		return ""
	case strings.HasPrefix(host, "http://"), strings.HasPrefix(host, "https://"):
		return host
	}

	hostPart, _, _ := strings.Cut(host, "/")
	if IsLocalhost(hostPart) {
		return "http://" + host
	}
	return "https://" + host
}

// RequireSecureURL rejects plain http:// URLs unless they point at a
// loopback host. Empty input is allowed.
func RequireSecureURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme == "http" && !IsLocalhost(u.Host) {
		return fmt.Errorf("refusing insecure http:// URL %q; use https://", raw)
	}
	return nil
}

// IsLocalhost reports whether host (with optional port) names the local
// machine: localhost, a *.localhost name, 127.0.0.1 or a bracketed [::1].
func IsLocalhost(host string) bool {
	name := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		name = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		name = host[1 : len(host)-1]
	} else if strings.Contains(host, ":") {
		// Unbracketed IPv6 is not a valid URL host.
		return false
	}

	name = strings.ToLower(name)
	if name == "localhost" || strings.HasSuffix(name, ".localhost") {
		return true
	}
	return name == "127.0.0.1" || name == "::1"
}
