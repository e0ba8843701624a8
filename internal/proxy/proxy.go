// Package proxy forwards requests to the upstream services behind the relay.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/cookiepolicy"
	"github.com/openkcm/auth-relay/internal/identity"
	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
)

type credentialKey struct{}

// Session is a reverse proxy that authenticates every forwarded request
// with the bearer credential of the browser session.
type Session struct {
	source session.CredentialSource
	policy *cookiepolicy.Policy
	proxy  *httputil.ReverseProxy
}

func NewSession(upstream string, source session.CredentialSource, policy *cookiepolicy.Policy, transport http.RoundTripper) (*Session, error) {
	target, err := parseUpstream(upstream)
	if err != nil {
		return nil, err
	}

	s := &Session{
		source: source,
		policy: policy,
	}
	s.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Header.Del("Cookie")
			if tok, ok := pr.In.Context().Value(credentialKey{}).(session.Token); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+tok.AccessToken)
				if tok.Tenant != "" {
					pr.Out.Header.Set(identity.TenantHeader, tok.Tenant)
				}
			}
		},
		Transport:    transport,
		ErrorHandler: upstreamError,
	}

	return s, nil
}

func (s *Session) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok, rotated, err := s.source.Credential(r)
	if err != nil {
		serr := serviceerr.From(err)
		if serr == serviceerr.ErrUnknown {
			slogctx.Error(r.Context(), "Resolving the session credential failed", "error", err)
			serr = serviceerr.ErrBackendUnreachable
		}
		if serr.HTTPStatus() == http.StatusUnauthorized {
			for _, c := range s.policy.ClearCookies(r) {
				http.SetCookie(w, c)
			}
		}
		WriteError(w, serr)
		return
	}

	if rotated {
		for _, c := range s.policy.SessionCookies(r, tok.AccessToken, tok.RefreshToken, tok.TTLSeconds) {
			http.SetCookie(w, c)
		}
	}

	ctx := context.WithValue(r.Context(), credentialKey{}, tok)
	s.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// NewPassthrough forwards requests as they are, keeping the Host the browser
// addressed so the upstream can tell tenants apart.
func NewPassthrough(upstream string, transport http.RoundTripper) (*httputil.ReverseProxy, error) {
	target, err := parseUpstream(upstream)
	if err != nil {
		return nil, err
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport:    transport,
		ErrorHandler: upstreamError,
	}, nil
}

func parseUpstream(upstream string) (*url.URL, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream URL must be absolute")
	}

	return target, nil
}

func upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	slogctx.Warn(r.Context(), "Upstream request failed", "error", err)
	WriteError(w, serviceerr.ErrBackendUnreachable)
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
}

// WriteError renders err as a JSON error response.
func WriteError(w http.ResponseWriter, err *serviceerr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:       string(err.Err),
		Description: err.Description,
	})
}
