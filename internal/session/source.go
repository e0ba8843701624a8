package session

import (
	"net/http"

	"github.com/openkcm/auth-relay/internal/tenant"
)

// CredentialSource yields the current credential of the browser session
// behind a request. The returned flag reports whether the credential was
// refreshed while resolving it, in which case the caller must hand the new
// tokens back to the browser.
type CredentialSource interface {
	Credential(r *http.Request) (Token, bool, error)
}

// CookieSource reads the session from the request cookies and resolves it
// through a Lifecycle.
type CookieSource struct {
	lifecycle *Lifecycle
	names     CookieNames
	resolver  tenant.Resolver
}

var _ CredentialSource = (*CookieSource)(nil)

func NewCookieSource(lifecycle *Lifecycle, names CookieNames, resolver tenant.Resolver) *CookieSource {
	return &CookieSource{
		lifecycle: lifecycle,
		names:     names,
		resolver:  resolver,
	}
}

func (s *CookieSource) Credential(r *http.Request) (Token, bool, error) {
	tok := FromCookies(r, s.names, s.resolver.ResolveRequest(r), s.lifecycle.Now())

	resolved, err := s.lifecycle.Resolve(r.Context(), tok)
	if err != nil {
		return resolved, false, err
	}

	return resolved, resolved.AccessToken != tok.AccessToken, nil
}
