package proxy_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/cookiepolicy"
	"github.com/openkcm/auth-relay/internal/proxy"
	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
)

type sourceFunc func(r *http.Request) (session.Token, bool, error)

func (f sourceFunc) Credential(r *http.Request) (session.Token, bool, error) {
	return f(r)
}

type seen struct {
	host          string
	path          string
	authorization string
	tenant        string
	cookie        string
	body          string
}

func upstream(t *testing.T) (*httptest.Server, *seen) {
	t.Helper()

	var s seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s = seen{
			host:          r.Host,
			path:          r.URL.RequestURI(),
			authorization: r.Header.Get("Authorization"),
			tenant:        r.Header.Get("X-Tenant"),
			cookie:        r.Header.Get("Cookie"),
			body:          string(body),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)

	return srv, &s
}

func TestSession_ForwardsWithBearer(t *testing.T) {
	srv, got := upstream(t)
	policy := cookiepolicy.New(config.Cookies{})

	p, err := proxy.NewSession(srv.URL, sourceFunc(func(*http.Request) (session.Token, bool, error) {
		return session.Token{AccessToken: "at", RefreshToken: "rt", Tenant: "acme", ExpiresAt: time.Now().Add(time.Hour)}, false, nil
	}), policy, nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "http://acme.example.com/api/items?page=2", strings.NewReader(`{"name":"x"}`))
	r.AddCookie(&http.Cookie{Name: "access_token", Value: "at"})
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())

	u, _ := url.Parse(srv.URL)
	assert.Equal(t, u.Host, got.host)
	assert.Equal(t, "/api/items?page=2", got.path)
	assert.Equal(t, "Bearer at", got.authorization)
	assert.Equal(t, "acme", got.tenant)
	assert.Empty(t, got.cookie)
	assert.Equal(t, `{"name":"x"}`, got.body)
}

func TestSession_WritesRotatedCookies(t *testing.T) {
	srv, got := upstream(t)

	p, err := proxy.NewSession(srv.URL, sourceFunc(func(*http.Request) (session.Token, bool, error) {
		return session.Token{AccessToken: "at2", RefreshToken: "rt2", ExpiresAt: time.Now().Add(10 * time.Minute), TTLSeconds: 600}, true, nil
	}), cookiepolicy.New(config.Cookies{}), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://localhost:3000/api/items", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer at2", got.authorization)

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, "access_token")
	assert.Equal(t, "at2", cookies["access_token"].Value)
	assert.Equal(t, 600, cookies["access_token"].MaxAge)
	assert.Equal(t, "rt2", cookies["refresh_token"].Value)
}

func TestSession_CredentialErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantCleared bool
	}{
		{name: "failed session", err: serviceerr.ErrRefreshFailed, wantStatus: http.StatusUnauthorized, wantCode: "refresh_failed", wantCleared: true},
		{name: "anonymous", err: serviceerr.ErrUnauthenticated, wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated", wantCleared: true},
		{name: "backend down", err: serviceerr.ErrBackendUnreachable, wantStatus: http.StatusBadGateway, wantCode: "backend_unreachable"},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusBadGateway, wantCode: "backend_unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := upstream(t)

			p, err := proxy.NewSession(srv.URL, sourceFunc(func(*http.Request) (session.Token, bool, error) {
				return session.Token{}, false, tt.err
			}), cookiepolicy.New(config.Cookies{}), nil)
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://acme.example.com/api/items", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Empty(t, got.path, "upstream must not be called")

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["error"])
			assert.Equal(t, tt.wantCleared, len(rec.Result().Cookies()) > 0)
		})
	}
}

func TestSession_UpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p, err := proxy.NewSession(addr, sourceFunc(func(*http.Request) (session.Token, bool, error) {
		return session.Token{AccessToken: "at"}, false, nil
	}), cookiepolicy.New(config.Cookies{}), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://acme.example.com/api/items", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestNewPassthrough(t *testing.T) {
	srv, got := upstream(t)

	p, err := proxy.NewPassthrough(srv.URL, nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "http://acme.example.com/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme.example.com", got.host)
	assert.Equal(t, "theme=dark", got.cookie)
	assert.Empty(t, got.authorization)
}

func TestNewSession_InvalidUpstream(t *testing.T) {
	_, err := proxy.NewSession("not a url", nil, nil, nil)
	assert.Error(t, err)

	_, err = proxy.NewPassthrough("/relative", nil)
	assert.Error(t, err)
}
