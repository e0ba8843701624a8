// Package cookiepolicy decides the attributes of the session cookies for the
// origin a request was addressed to.
package cookiepolicy

import (
	"net/http"
	"strings"
	"time"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/tenant"
)

const (
	DefaultAccessTokenName  = "access_token"
	DefaultRefreshTokenName = "refresh_token"
	DefaultTenantHintName   = "tenant_hint"

	defaultRefreshTokenMaxAge = 7 * 24 * time.Hour
)

// Attributes are the origin dependent cookie attributes.
type Attributes struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

type Names struct {
	AccessToken  string
	RefreshToken string
	TenantHint   string
}

type Policy struct {
	sharedDomain  string
	refreshMaxAge time.Duration

	access  config.CookieTemplate
	refresh config.CookieTemplate
	hint    config.CookieTemplate
}

func New(cfg config.Cookies) *Policy {
	p := &Policy{
		sharedDomain:  strings.ToLower(cfg.SharedDomain),
		refreshMaxAge: cfg.RefreshTokenMaxAge,
		access:        cfg.AccessToken.WithDefaults(DefaultAccessTokenName, "/"),
		refresh:       cfg.RefreshToken.WithDefaults(DefaultRefreshTokenName, "/"),
		hint:          cfg.TenantHint.WithDefaults(DefaultTenantHintName, "/"),
	}
	if p.refreshMaxAge <= 0 {
		p.refreshMaxAge = defaultRefreshTokenMaxAge
	}

	return p
}

func (p *Policy) Names() Names {
	return Names{
		AccessToken:  p.access.Name,
		RefreshToken: p.refresh.Name,
		TenantHint:   p.hint.Name,
	}
}

// Resolve computes the attributes for a request that reached host over
// proto. Secure follows the scheme, SameSite is None for secure origins and
// Lax otherwise. Loopback hosts and hosts outside the shared domain get no
// Domain attribute so the browser scopes the cookie to the exact host.
func (p *Policy) Resolve(proto, host string) Attributes {
	secure := strings.EqualFold(proto, "https")

	attrs := Attributes{
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		attrs.SameSite = http.SameSiteNoneMode
	}

	if p.sharedDomain != "" && !tenant.IsLoopback(host) && p.covers(host) {
		attrs.Domain = p.sharedDomain
	}

	return attrs
}

func (p *Policy) ResolveRequest(r *http.Request) Attributes {
	return p.Resolve(Scheme(r), tenant.HostFromRequest(r))
}

func (p *Policy) covers(host string) bool {
	h := tenant.Hostname(host)
	d := strings.TrimPrefix(p.sharedDomain, ".")

	return h == d || strings.HasSuffix(h, "."+d)
}

// Scheme returns the scheme the client used. The first X-Forwarded-Proto
// value wins over the local connection state.
func Scheme(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.ToLower(strings.TrimSpace(first))
	}

	if r.TLS != nil {
		return "https"
	}

	return "http"
}

// SessionCookies returns the access and refresh token cookies. The access
// cookie lives as long as the credential, the refresh cookie for the
// configured refresh lifetime.
func (p *Policy) SessionCookies(r *http.Request, accessToken, refreshToken string, ttlSeconds int) []*http.Cookie {
	attrs := p.ResolveRequest(r)

	return []*http.Cookie{
		p.build(p.access, attrs, accessToken, ttlSeconds, true),
		p.build(p.refresh, attrs, refreshToken, int(p.refreshMaxAge.Seconds()), true),
	}
}

// TenantHintCookie remembers the last tenant on the base origin.
func (p *Policy) TenantHintCookie(r *http.Request, tenantID string) *http.Cookie {
	return p.build(p.hint, p.ResolveRequest(r), tenantID, int(p.refreshMaxAge.Seconds()), true)
}

// ClearCookies expires every cookie the relay sets.
func (p *Policy) ClearCookies(r *http.Request) []*http.Cookie {
	attrs := p.ResolveRequest(r)

	return []*http.Cookie{
		p.build(p.access, attrs, "", -1, true),
		p.build(p.refresh, attrs, "", -1, true),
		p.build(p.hint, attrs, "", -1, true),
	}
}

func (p *Policy) build(tmpl config.CookieTemplate, attrs Attributes, value string, maxAge int, httpOnly bool) *http.Cookie {
	c := tmpl.ToCookie(value)
	c.MaxAge = maxAge
	c.Secure = attrs.Secure
	c.SameSite = attrs.SameSite
	c.Domain = attrs.Domain
	c.HttpOnly = httpOnly || tmpl.HTTPOnly

	return c
}
