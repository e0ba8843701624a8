// Package tenant derives the tenant identifier from a request host.
//
// A tenant is the single leading label in front of the configured base
// domain: acme.example.com names the tenant "acme" when the base domain is
// example.com. Loopback hosts follow the same rule against a loopback base,
// so app.localhost:3000 names "app" when the base is localhost, while IP
// literals never name a tenant.
package tenant

import (
	"net"
	"net/http"
	"slices"
	"strings"
)

var defaultReservedLabels = []string{"www"}

type Resolver struct {
	base     string
	reserved []string
}

type ResolverOption func(*Resolver)

// WithReservedLabels replaces the labels that never name a tenant.
func WithReservedLabels(labels ...string) ResolverOption {
	return func(r *Resolver) {
		r.reserved = make([]string, 0, len(labels))
		for _, l := range labels {
			r.reserved = append(r.reserved, strings.ToLower(l))
		}
	}
}

// NewResolver returns a resolver for the given base domain. The base may
// carry a port, which is ignored.
func NewResolver(baseDomain string, opts ...ResolverOption) Resolver {
	r := Resolver{
		base:     Hostname(baseDomain),
		reserved: defaultReservedLabels,
	}
	for _, opt := range opts {
		opt(&r)
	}

	return r
}

// BaseDomain returns the normalised base domain.
func (r Resolver) BaseDomain() string {
	return r.base
}

// Resolve returns the tenant named by host or an empty string if the host
// does not name one. It never fails.
func (r Resolver) Resolve(host string) string {
	hostname := Hostname(host)
	if hostname == "" || r.base == "" {
		return ""
	}

	if net.ParseIP(hostname) != nil {
		return ""
	}

	label, ok := strings.CutSuffix(hostname, "."+r.base)
	if !ok || label == "" || strings.Contains(label, ".") {
		return ""
	}

	if !validLabel(label) || slices.Contains(r.reserved, label) {
		return ""
	}

	return label
}

// ResolveRequest resolves the tenant of the host the client addressed.
func (r Resolver) ResolveRequest(req *http.Request) string {
	return r.Resolve(HostFromRequest(req))
}

// IsBase reports whether host is the base domain itself.
func (r Resolver) IsBase(host string) bool {
	return r.base != "" && Hostname(host) == r.base
}

// Contains reports whether host is the base domain or any of its subdomains.
func (r Resolver) Contains(host string) bool {
	h := Hostname(host)

	return r.base != "" && (h == r.base || strings.HasSuffix(h, "."+r.base))
}

// IsLoopback reports whether hostname addresses the local machine.
func IsLoopback(host string) bool {
	h := Hostname(host)
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}

	ip := net.ParseIP(h)

	return ip != nil && ip.IsLoopback()
}

// Hostname lower-cases host and strips the port, IPv6 brackets and a
// trailing dot.
func Hostname(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return ""
	}

	if strings.HasPrefix(h, "[") {
		if end := strings.Index(h, "]"); end != -1 {
			return h[1:end]
		}
	}

	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}

	return strings.TrimSuffix(h, ".")
}

// HostFromRequest returns the host the client addressed, preferring the
// first X-Forwarded-Host value set by a terminating proxy.
func HostFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	return r.Host
}

func validLabel(label string) bool {
	if len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}

	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}

	return true
}
