// Package urlvalidation guards outbound callback URLs against server-side
// request forgery.
package urlvalidation

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrPrivateAddress is returned when a callback host resolves into a
// private or reserved range.
var ErrPrivateAddress = errors.New("urlvalidation: private or reserved address")

// Option configures URL validation behavior.
type Option func(*validationConfig)

type validationConfig struct {
	allowPrivate bool
	allowHTTP    bool
	lookup       func(host string) ([]string, error)
}

// AllowPrivateIPs disables the private IP check. Use only in tests.
func AllowPrivateIPs() Option {
	return func(c *validationConfig) { c.allowPrivate = true }
}

// AllowHTTP accepts plain http callbacks in addition to https.
func AllowHTTP() Option {
	return func(c *validationConfig) { c.allowHTTP = true }
}

// WithLookup replaces DNS resolution.
func WithLookup(fn func(host string) ([]string, error)) Option {
	return func(c *validationConfig) { c.lookup = fn }
}

var reserved = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10", // carrier-grade NAT
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// ValidateWebhookURL checks that a completion callback URL uses an allowed
// scheme and that every address its host resolves to is publicly routable.
func ValidateWebhookURL(rawURL string, opts ...Option) error {
	cfg := validationConfig{lookup: net.LookupHost}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !cfg.allowHTTP {
			return fmt.Errorf("URL scheme %q not allowed; use https", u.Scheme)
		}
	default:
		return fmt.Errorf("URL scheme %q not allowed; use https", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("URL must not carry credentials")
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	if cfg.allowPrivate {
		return nil
	}

	addrs, err := cfg.lookup(host)
	if err != nil {
		return fmt.Errorf("cannot resolve hostname %q: %w", host, err)
	}
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, a)
		}
	}
	return nil
}

func isPrivateIP(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip == netip.IPv4Unspecified() || ip == netip.MustParseAddr("255.255.255.255") {
		return true
	}
	for _, p := range reserved {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
