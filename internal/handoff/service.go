// Package handoff moves a freshly issued credential set from the origin that
// performed the login to the origin that needs it. Three flows share one
// implementation:
//
//   - login at the base origin: the browser is sent to the tenant's
//     callback, which consumes the relay token;
//   - callback at the tenant origin: the relay token is redeemed and the
//     session cookies are written for that origin;
//   - login at a tenant origin: the browser first visits the base origin's
//     set-base-session endpoint, which peeks the relay token and writes the
//     base session, and then continues to the tenant callback.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/cookiepolicy"
	"github.com/openkcm/auth-relay/internal/identity"
	"github.com/openkcm/auth-relay/internal/relay"
	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/tenant"
	"github.com/openkcm/auth-relay/pkg/fingerprint"
)

const (
	CallbackPath       = "/auth/callback"
	SetBaseSessionPath = "/auth/set-base-session"
)

// Authenticator performs the primary login against the identity backend.
type Authenticator interface {
	Login(ctx context.Context, req identity.LoginRequest) (identity.Tokens, error)
}

// TokenSource mints relay tokens.
type TokenSource interface {
	RelayToken() string
}

type originKind int

const (
	baseOrigin originKind = iota
	tenantOrigin
)

type Service struct {
	auth     Authenticator
	store    relay.Store
	tokens   TokenSource
	policy   *cookiepolicy.Policy
	resolver tenant.Resolver

	baseURL         *url.URL
	loginPath       string
	bindFingerprint bool
	resolverOpts    []tenant.ResolverOption
}

type Option func(*Service)

// WithFingerprintBinding binds relay entries to the browser that logged in.
func WithFingerprintBinding(enabled bool) Option {
	return func(s *Service) {
		s.bindFingerprint = enabled
	}
}

func WithLoginPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.loginPath = path
		}
	}
}

// WithResolverOptions configures the resolver derived from the base URL.
func WithResolverOptions(opts ...tenant.ResolverOption) Option {
	return func(s *Service) {
		s.resolverOpts = append(s.resolverOpts, opts...)
	}
}

func NewService(
	auth Authenticator,
	store relay.Store,
	tokens TokenSource,
	policy *cookiepolicy.Policy,
	baseURL string,
	opts ...Option,
) (*Service, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}

	s := &Service{
		auth:      auth,
		store:     store,
		tokens:    tokens,
		policy:    policy,
		baseURL:   &url.URL{Scheme: u.Scheme, Host: u.Host},
		loginPath: "/login",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = tenant.NewResolver(u.Host, s.resolverOpts...)

	return s, nil
}

// Resolver returns the tenant resolver derived from the base URL.
func (s *Service) Resolver() tenant.Resolver {
	return s.resolver
}

type LoginInput struct {
	Email      string
	Password   string
	RedirectTo string
}

type LoginResult struct {
	ExpiresIn  int
	Tenant     string
	RelayToken string
	// CallbackURL redeems the relay token at the tenant origin.
	CallbackURL string
	// BaseSessionURL is set when the login happened at a tenant origin; the
	// browser visits it first and is sent on to CallbackURL.
	BaseSessionURL string
	// Cookies are set directly when the request already reached the origin
	// the credentials belong to.
	Cookies []*http.Cookie
}

// Login authenticates against the identity backend and parks the issued
// credentials under a fresh relay token.
func (s *Service) Login(ctx context.Context, r *http.Request, in LoginInput) (LoginResult, error) {
	hostTenant := s.resolver.ResolveRequest(r)

	tokens, err := s.auth.Login(ctx, identity.LoginRequest{
		Email:    in.Email,
		Password: in.Password,
		Tenant:   hostTenant,
	})
	if err != nil {
		if errors.Is(err, serviceerr.ErrMissingCredentialFields) {
			slogctx.Error(ctx, "Identity backend issued an incomplete credential set", "error", err)
		} else {
			slogctx.Info(ctx, "Login rejected", "error", err)
		}
		return LoginResult{}, err
	}

	credTenant := tokens.Tenant
	if credTenant == "" {
		credTenant = hostTenant
	}
	ctx = slogctx.With(ctx, "tenant", credTenant)

	result := LoginResult{
		ExpiresIn: tokens.ExpiresIn,
		Tenant:    credTenant,
	}

	if credTenant == "" || credTenant == hostTenant {
		result.Cookies = s.policy.SessionCookies(r, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn)
	}

	if credTenant == "" {
		slogctx.Info(ctx, "Login succeeded without a tenant")
		return result, nil
	}

	relayToken := s.tokens.RelayToken()
	err = s.store.Save(ctx, relayToken, relay.Credentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TTLSeconds:   tokens.ExpiresIn,
		Tenant:       credTenant,
		Fingerprint:  s.fingerprint(r),
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("saving relay entry: %w", err)
	}

	result.RelayToken = relayToken
	result.CallbackURL = s.callbackURL(credTenant, relayToken, safeRelative(in.RedirectTo))

	if hostTenant != "" {
		result.BaseSessionURL = s.baseSessionURL(relayToken, credTenant, result.CallbackURL)
	}

	slogctx.Info(ctx, "Login succeeded", "crossOrigin", credTenant != hostTenant)

	return result, nil
}

// Redirect is the outcome of a handoff endpoint.
type Redirect struct {
	Location string
	Cookies  []*http.Cookie
	// Err is set when the handoff failed and Location points to the login
	// page.
	Err error
}

// Callback redeems relayToken at the origin r was sent to.
func (s *Service) Callback(ctx context.Context, r *http.Request, relayToken, redirectTo string) Redirect {
	if relayToken == "" {
		return Redirect{Location: s.loginPath, Err: serviceerr.ErrMissingRelayToken}
	}

	hostTenant := s.resolver.ResolveRequest(r)

	// A token minted for one tenant is never redeemable at another tenant's
	// origin; it is consumed either way.
	creds, err := s.store.Consume(ctx, relayToken)
	if err == nil && (!s.sameBrowser(r, creds) || (hostTenant != "" && creds.Tenant != "" && hostTenant != creds.Tenant)) {
		err = serviceerr.ErrRelayTokenNotFound
	}
	if err != nil {
		return s.failed(ctx, s.loginPath, err)
	}

	kind := baseOrigin
	if hostTenant != "" {
		kind = tenantOrigin
	}

	slogctx.Info(ctx, "Relay token redeemed", "tenant", creds.Tenant)

	return Redirect{
		Location: safeRelative(redirectTo),
		Cookies:  s.issue(r, creds, kind),
	}
}

// SetBaseSession writes the base origin session for a login that happened at
// a tenant origin. The relay token stays redeemable for the tenant callback.
func (s *Service) SetBaseSession(ctx context.Context, r *http.Request, relayToken, tenantID, returnTo string) Redirect {
	if relayToken == "" {
		return Redirect{Location: s.loginPath, Err: serviceerr.ErrMissingRelayToken}
	}

	creds, err := s.store.Peek(ctx, relayToken)
	if err == nil && (!s.sameBrowser(r, creds) || (tenantID != "" && tenantID != creds.Tenant)) {
		err = serviceerr.ErrRelayTokenNotFound
	}
	if err != nil {
		return s.failed(ctx, s.baseURL.JoinPath(s.loginPath).String(), err)
	}

	slogctx.Info(ctx, "Base session established", "tenant", creds.Tenant)

	return Redirect{
		Location: s.safeReturnTo(returnTo),
		Cookies:  s.issue(r, creds, baseOrigin),
	}
}

// issue renders the cookies an origin of the given kind keeps for creds.
func (s *Service) issue(r *http.Request, creds relay.Credentials, kind originKind) []*http.Cookie {
	cookies := s.policy.SessionCookies(r, creds.AccessToken, creds.RefreshToken, creds.TTLSeconds)
	if kind == baseOrigin && creds.Tenant != "" {
		cookies = append(cookies, s.policy.TenantHintCookie(r, creds.Tenant))
	}

	return cookies
}

func (s *Service) failed(ctx context.Context, loginURL string, err error) Redirect {
	serr := serviceerr.From(err)
	if serr == serviceerr.ErrUnknown {
		slogctx.Error(ctx, "Reading relay store failed", "error", err)
		serr = serviceerr.ErrBackendUnreachable
	} else {
		slogctx.Info(ctx, "Relay token rejected", "error", err)
	}

	return Redirect{
		Location: withQuery(loginURL, "error", serr.LoginHint()),
		Err:      err,
	}
}

func (s *Service) fingerprint(r *http.Request) string {
	if !s.bindFingerprint {
		return ""
	}

	return fingerprint.Of(r)
}

func (s *Service) sameBrowser(r *http.Request, creds relay.Credentials) bool {
	if creds.Fingerprint == "" {
		return true
	}

	return fingerprint.Of(r) == creds.Fingerprint
}

func (s *Service) tenantURL(tenantID string) *url.URL {
	u := *s.baseURL
	u.Host = tenantID + "." + s.baseURL.Host

	return &u
}

func (s *Service) callbackURL(tenantID, relayToken, redirectTo string) string {
	u := s.tenantURL(tenantID).JoinPath(CallbackPath)
	q := url.Values{}
	q.Set("relayToken", relayToken)
	q.Set("redirectTo", redirectTo)
	u.RawQuery = q.Encode()

	return u.String()
}

func (s *Service) baseSessionURL(relayToken, tenantID, returnTo string) string {
	u := s.baseURL.JoinPath(SetBaseSessionPath)
	q := url.Values{}
	q.Set("relayToken", relayToken)
	q.Set("tenant", tenantID)
	q.Set("returnTo", returnTo)
	u.RawQuery = q.Encode()

	return u.String()
}

// safeReturnTo accepts relative paths and absolute http(s) URLs on the base
// domain or one of its subdomains.
func (s *Service) safeReturnTo(returnTo string) string {
	u, err := url.Parse(returnTo)
	if err != nil || returnTo == "" {
		return "/"
	}

	if !u.IsAbs() {
		return safeRelative(returnTo)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.User != nil || !s.resolver.Contains(u.Host) {
		return "/"
	}

	return u.String()
}

// safeRelative only lets same origin paths through.
func safeRelative(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}

	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}

	return u.RequestURI()
}

func withQuery(location, key, value string) string {
	if value == "" {
		return location
	}

	u, err := url.Parse(location)
	if err != nil {
		return location
	}

	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()

	return u.String()
}
