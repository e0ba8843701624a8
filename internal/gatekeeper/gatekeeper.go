// Package gatekeeper guards the application routes. Every request that is
// not on the public allow-list must carry a session the identity backend
// accepts, possibly after one inline refresh; otherwise the browser is sent
// to the login page. Any doubt results in a redirect.
package gatekeeper

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/cookiepolicy"
	"github.com/openkcm/auth-relay/internal/identity"
	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
	"github.com/openkcm/auth-relay/internal/tenant"
)

// DefaultPublicPaths are reachable without a session.
var DefaultPublicPaths = []string{
	"/login",
	"/register",
	"/reset-password",
	"/forgot-password",
	"/pricing",
	"/auth/",
	"/_next/",
	"/static/",
	"/assets/",
	"/favicon.ico",
	"/robots.txt",
}

type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionRefreshed Decision = "refreshed"
	DecisionRedirect  Decision = "redirect"
	DecisionPublic    Decision = "public"
)

type DecisionHook func(ctx context.Context, decision Decision)

// Identity checks a session against the identity backend.
type Identity interface {
	WhoAmI(ctx context.Context, cookies []*http.Cookie, tenant string) error
}

// TenantChecker reports whether a tenant may be served. It returns
// serviceerr.ErrTenantBlocked or serviceerr.ErrUnknownTenant for tenants
// that must not.
type TenantChecker interface {
	Check(ctx context.Context, tenantID string) error
}

type Gatekeeper struct {
	identity  Identity
	refresher session.Refresher
	policy    *cookiepolicy.Policy
	resolver  tenant.Resolver
	tenants   TenantChecker
	hook      DecisionHook

	baseURL     *url.URL
	loginPath   string
	publicPaths []string
}

type Option func(*Gatekeeper)

// WithPublicPaths adds path prefixes to the allow-list.
func WithPublicPaths(paths ...string) Option {
	return func(g *Gatekeeper) {
		g.publicPaths = append(g.publicPaths, paths...)
	}
}

func WithLoginPath(path string) Option {
	return func(g *Gatekeeper) {
		if path != "" {
			g.loginPath = path
		}
	}
}

func WithTenantChecker(checker TenantChecker) Option {
	return func(g *Gatekeeper) {
		g.tenants = checker
	}
}

func WithDecisionHook(hook DecisionHook) Option {
	return func(g *Gatekeeper) {
		g.hook = hook
	}
}

func New(
	id Identity,
	refresher session.Refresher,
	policy *cookiepolicy.Policy,
	resolver tenant.Resolver,
	baseURL string,
	opts ...Option,
) (*Gatekeeper, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("base URL must be absolute")
	}

	g := &Gatekeeper{
		identity:    id,
		refresher:   refresher,
		policy:      policy,
		resolver:    resolver,
		hook:        func(context.Context, Decision) {},
		baseURL:     &url.URL{Scheme: u.Scheme, Host: u.Host},
		loginPath:   "/login",
		publicPaths: append([]string{}, DefaultPublicPaths...),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if g.isPublic(r.URL.Path) {
			g.hook(ctx, DecisionPublic)
			next.ServeHTTP(w, r)
			return
		}

		tenantID := g.resolver.ResolveRequest(r)
		if tenantID == "" {
			// Without a tenant the request is served from the base origin,
			// where the login page lives, so the callback stays relative.
			// Tenant branches below return the full URL of the tenant origin.
			g.redirect(w, r, r.URL.RequestURI(), "")
			return
		}
		ctx = slogctx.With(ctx, "tenant", tenantID)

		if g.tenants != nil {
			if err := g.tenants.Check(ctx, tenantID); err != nil {
				slogctx.Warn(ctx, "Tenant rejected", "error", err)
				g.redirect(w, r, originalURL(r), loginHint(err))
				return
			}
		}

		err := g.identity.WhoAmI(ctx, r.Cookies(), tenantID)
		if err == nil {
			g.hook(ctx, DecisionAllow)
			next.ServeHTTP(w, r)
			return
		}

		if !errors.Is(err, serviceerr.ErrUnauthenticated) {
			slogctx.Warn(ctx, "Checking the session failed", "error", err)
			g.redirect(w, r, originalURL(r), "")
			return
		}

		rotated, err := g.refresh(ctx, r, tenantID)
		if err != nil {
			slogctx.Info(ctx, "Session could not be refreshed", "error", err)
			g.redirect(w, r, originalURL(r), "")
			return
		}

		for _, c := range rotated {
			http.SetCookie(w, c)
		}

		g.hook(ctx, DecisionRefreshed)
		next.ServeHTTP(w, r)
	})
}

// refresh exchanges the refresh token, rewrites the Cookie header of r and
// re-checks the session. It returns the cookies to hand back to the browser.
func (g *Gatekeeper) refresh(ctx context.Context, r *http.Request, tenantID string) ([]*http.Cookie, error) {
	names := g.policy.Names()

	rt, err := r.Cookie(names.RefreshToken)
	if err != nil || rt.Value == "" {
		return nil, serviceerr.ErrUnauthenticated
	}

	tokens, err := g.refresher.Refresh(ctx, identity.RefreshRequest{
		RefreshToken: rt.Value,
		Cookies:      r.Cookies(),
		Tenant:       tenantID,
	})
	if err != nil {
		return nil, err
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = rt.Value
	}

	replaceCookies(r, map[string]string{
		names.AccessToken:  tokens.AccessToken,
		names.RefreshToken: refreshToken,
	})

	if err := g.identity.WhoAmI(ctx, r.Cookies(), tenantID); err != nil {
		return nil, err
	}

	return g.policy.SessionCookies(r, tokens.AccessToken, refreshToken, tokens.ExpiresIn), nil
}

func (g *Gatekeeper) isPublic(path string) bool {
	for _, p := range g.publicPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}

func (g *Gatekeeper) redirect(w http.ResponseWriter, r *http.Request, callbackURL, hint string) {
	g.hook(r.Context(), DecisionRedirect)

	u := g.baseURL.JoinPath(g.loginPath)
	q := url.Values{}
	q.Set("callbackUrl", callbackURL)
	if hint != "" {
		q.Set("error", hint)
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusFound)
}

// replaceCookies rewrites the Cookie header of r with the given values,
// keeping all other cookies.
func replaceCookies(r *http.Request, values map[string]string) {
	cookies := r.Cookies()
	seen := make(map[string]bool, len(values))

	parts := make([]string, 0, len(cookies)+len(values))
	for _, c := range cookies {
		if v, ok := values[c.Name]; ok {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			c.Value = v
		}
		parts = append(parts, c.String())
	}
	for name, v := range values {
		if !seen[name] {
			parts = append(parts, (&http.Cookie{Name: name, Value: v}).String())
		}
	}

	r.Header.Set("Cookie", strings.Join(parts, "; "))
}

func originalURL(r *http.Request) string {
	u := url.URL{
		Scheme: cookiepolicy.Scheme(r),
		Host:   tenant.HostFromRequest(r),
	}

	return u.String() + r.URL.RequestURI()
}

func loginHint(err error) string {
	serr := serviceerr.From(err)
	if serr == serviceerr.ErrUnknown {
		return serviceerr.ErrBackendUnreachable.LoginHint()
	}

	return serr.LoginHint()
}
