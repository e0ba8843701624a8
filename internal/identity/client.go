// Package identity talks to the identity backend that owns users and
// credentials. Every failure leaves this package as a serviceerr value; no
// raw transport error reaches the handlers.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/serviceerr"
)

const (
	// TenantHeader carries the tenant on every backend call.
	TenantHeader = "X-Tenant"

	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
)

// Tokens is a credential set issued by the backend.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Tenant       string `json:"tenant,omitempty"`
}

type LoginRequest struct {
	Email    string
	Password string
	Tenant   string
}

type RefreshRequest struct {
	RefreshToken string
	// Cookies are forwarded verbatim.
	Cookies []*http.Cookie
	Tenant  string
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
	paths   config.IdentityPaths
	timeout time.Duration

	accessCookie  string
	refreshCookie string
}

type Option func(*Client)

// WithCookieNames names the cookies a backend may use to hand out tokens
// instead of the JSON body.
func WithCookieNames(access, refresh string) Option {
	return func(c *Client) {
		c.accessCookie = access
		c.refreshCookie = refresh
	}
}

func NewClient(cfg config.Identity, httpClient *http.Client, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("identity backend base URL is not configured")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing identity backend base URL: %w", err)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		http:          httpClient,
		baseURL:       baseURL,
		paths:         withDefaultPaths(cfg.Paths),
		timeout:       cfg.Timeout,
		accessCookie:  "access_token",
		refreshCookie: "refresh_token",
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func withDefaultPaths(p config.IdentityPaths) config.IdentityPaths {
	if p.Login == "" {
		p.Login = "/auth/login"
	}
	if p.Refresh == "" {
		p.Refresh = "/auth/refresh"
	}
	if p.WhoAmI == "" {
		p.WhoAmI = "/auth/me"
	}
	if p.Logout == "" {
		p.Logout = "/auth/logout"
	}

	return p
}

// Login performs the primary authentication. The backend must return an
// access token, a refresh token and a positive lifetime.
func (c *Client) Login(ctx context.Context, req LoginRequest) (Tokens, error) {
	body, err := json.Marshal(map[string]string{
		"email":    req.Email,
		"password": req.Password,
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("marshaling login body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.paths.Login, bytes.NewReader(body), nil, req.Tenant)
	if err != nil {
		return Tokens{}, err
	}
	defer resp.Body.Close()

	switch {
	case isSuccess(resp.StatusCode):
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Tokens{}, serviceerr.ErrInvalidCredentials
	case resp.StatusCode < http.StatusInternalServerError:
		return Tokens{}, serviceerr.ErrInvalidRequest.With(fmt.Sprintf("login rejected with status %d", resp.StatusCode))
	default:
		return Tokens{}, unexpectedStatus("login", resp.StatusCode)
	}

	tokens, err := c.decodeTokens(resp)
	if err != nil {
		return Tokens{}, err
	}

	if tokens.AccessToken == "" || tokens.RefreshToken == "" || tokens.ExpiresIn <= 0 {
		return Tokens{}, serviceerr.ErrMissingCredentialFields
	}

	return tokens, nil
}

// Refresh exchanges a refresh token. A response without a new refresh token
// leaves RefreshToken empty; callers keep the one they have.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (Tokens, error) {
	var payload io.Reader = http.NoBody
	if req.RefreshToken != "" {
		body, err := json.Marshal(map[string]string{"refresh_token": req.RefreshToken})
		if err != nil {
			return Tokens{}, fmt.Errorf("marshaling refresh body: %w", err)
		}
		payload = bytes.NewReader(body)
	}

	resp, err := c.do(ctx, http.MethodPost, c.paths.Refresh, payload, req.Cookies, req.Tenant)
	if err != nil {
		return Tokens{}, err
	}
	defer resp.Body.Close()

	switch {
	case isSuccess(resp.StatusCode):
	case resp.StatusCode < http.StatusInternalServerError:
		return Tokens{}, serviceerr.ErrRefreshFailed.With(fmt.Sprintf("refresh rejected with status %d", resp.StatusCode))
	default:
		return Tokens{}, unexpectedStatus("refresh", resp.StatusCode)
	}

	tokens, err := c.decodeTokens(resp)
	if err != nil {
		return Tokens{}, err
	}

	if tokens.AccessToken == "" || tokens.ExpiresIn <= 0 {
		return Tokens{}, serviceerr.ErrMissingCredentialFields
	}

	return tokens, nil
}

// WhoAmI asks the backend whether the cookies identify a valid session.
// 401 and 403 yield ErrUnauthenticated; anything else that is not a success
// yields ErrBackendUnreachable.
func (c *Client) WhoAmI(ctx context.Context, cookies []*http.Cookie, tenant string) error {
	resp, err := c.do(ctx, http.MethodGet, c.paths.WhoAmI, nil, cookies, tenant)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case isSuccess(resp.StatusCode):
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return serviceerr.ErrUnauthenticated
	default:
		return unexpectedStatus("who-am-i", resp.StatusCode)
	}
}

// Logout tells the backend to revoke the session held in cookies.
func (c *Client) Logout(ctx context.Context, cookies []*http.Cookie, tenant string) error {
	resp, err := c.do(ctx, http.MethodPost, c.paths.Logout, http.NoBody, cookies, tenant)
	if err != nil {
		return err
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return unexpectedStatus("logout", resp.StatusCode)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, cookies []*http.Cookie, tenant string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	endpoint := c.baseURL.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil && body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		slogctx.Warn(ctx, "Identity backend call failed", "path", path, "error", err)
		return nil, serviceerr.ErrBackendUnreachable.With(err.Error())
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	return resp, nil
}

func (c *Client) decodeTokens(resp *http.Response) (Tokens, error) {
	var tokens Tokens

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Tokens{}, serviceerr.ErrBackendUnreachable.With(err.Error())
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &tokens); err != nil {
			return Tokens{}, serviceerr.ErrMissingCredentialFields.With("decoding token response: " + err.Error())
		}
	}

	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case c.accessCookie:
			if tokens.AccessToken == "" {
				tokens.AccessToken = ck.Value
				if tokens.ExpiresIn <= 0 && ck.MaxAge > 0 {
					tokens.ExpiresIn = ck.MaxAge
				}
			}
		case c.refreshCookie:
			if tokens.RefreshToken == "" {
				tokens.RefreshToken = ck.Value
			}
		}
	}

	return tokens, nil
}

func unexpectedStatus(call string, status int) error {
	return serviceerr.ErrBackendUnreachable.With(fmt.Sprintf("%s returned status %d", call, status))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	_ = resp.Body.Close()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
