package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL for seen-set membership.
// It lowercases the scheme and host, removes default ports, the fragment, and
// trailing slashes. Query strings are dropped unless keepQuery is set, in which
// case parameters are sorted.
func NormalizeURL(rawURL string, keepQuery bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	if keepQuery {
		u.RawQuery = u.Query().Encode()
	} else {
		u.RawQuery = ""
	}
	u.ForceQuery = false

	return u.String(), nil
}

// SameOrigin reports whether two absolute URLs share scheme, host and port.
// Hosts compare case-insensitively and default ports are implied.
func SameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return origin(ua) == origin(ub)
}

func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + strings.ToLower(u.Hostname()) + ":" + port
}

// HostAllowed reports whether rawURL's host appears in hosts.
func HostAllowed(rawURL string, hosts []string) bool {
	if len(hosts) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := hostKey(u.Hostname())
	for _, h := range hosts {
		if hostKey(h) == host {
			return true
		}
	}
	return false
}

func hostKey(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
