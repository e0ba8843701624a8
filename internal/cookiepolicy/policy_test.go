package cookiepolicy_test

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/cookiepolicy"
)

func TestPolicy_Resolve(t *testing.T) {
	p := cookiepolicy.New(config.Cookies{SharedDomain: ".example.com"})

	tests := []struct {
		name  string
		proto string
		host  string
		want  cookiepolicy.Attributes
	}{
		{
			name:  "secure tenant host",
			proto: "https",
			host:  "acme.example.com",
			want:  cookiepolicy.Attributes{Secure: true, SameSite: http.SameSiteNoneMode, Domain: ".example.com"},
		},
		{
			name:  "secure base host",
			proto: "https",
			host:  "example.com:443",
			want:  cookiepolicy.Attributes{Secure: true, SameSite: http.SameSiteNoneMode, Domain: ".example.com"},
		},
		{
			name:  "plain http",
			proto: "http",
			host:  "acme.example.com",
			want:  cookiepolicy.Attributes{Secure: false, SameSite: http.SameSiteLaxMode, Domain: ".example.com"},
		},
		{
			name:  "loopback",
			proto: "http",
			host:  "app.localhost:3000",
			want:  cookiepolicy.Attributes{Secure: false, SameSite: http.SameSiteLaxMode},
		},
		{
			name:  "loopback ip",
			proto: "http",
			host:  "127.0.0.1:3000",
			want:  cookiepolicy.Attributes{Secure: false, SameSite: http.SameSiteLaxMode},
		},
		{
			name:  "host outside shared domain",
			proto: "https",
			host:  "acme.example.org",
			want:  cookiepolicy.Attributes{Secure: true, SameSite: http.SameSiteNoneMode},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Resolve(tt.proto, tt.host))
		})
	}
}

func TestScheme(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://acme.example.com/", nil)
	assert.Equal(t, "http", cookiepolicy.Scheme(r))

	r.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https", cookiepolicy.Scheme(r))

	r.Header.Set("X-Forwarded-Proto", "http")
	assert.Equal(t, "http", cookiepolicy.Scheme(r))

	r.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	assert.Equal(t, "https", cookiepolicy.Scheme(r))
}

func TestPolicy_SessionCookies(t *testing.T) {
	p := cookiepolicy.New(config.Cookies{SharedDomain: ".example.com"})

	r := httptest.NewRequest(http.MethodGet, "http://internal/auth/callback", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "acme.example.com")

	cookies := p.SessionCookies(r, "at", "rt", 900)
	require.Len(t, cookies, 2)

	access, refresh := cookies[0], cookies[1]
	assert.Equal(t, cookiepolicy.DefaultAccessTokenName, access.Name)
	assert.Equal(t, "at", access.Value)
	assert.Equal(t, 900, access.MaxAge)
	assert.Equal(t, "/", access.Path)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteNoneMode, access.SameSite)
	assert.Equal(t, ".example.com", access.Domain)

	assert.Equal(t, cookiepolicy.DefaultRefreshTokenName, refresh.Name)
	assert.Equal(t, "rt", refresh.Value)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), refresh.MaxAge)
	assert.True(t, refresh.HttpOnly)
}

func TestPolicy_LoopbackCookiesHaveNoDomain(t *testing.T) {
	p := cookiepolicy.New(config.Cookies{SharedDomain: ".example.com"})
	r := httptest.NewRequest(http.MethodGet, "http://app.localhost:3000/auth/callback", nil)

	for _, c := range p.SessionCookies(r, "at", "rt", 60) {
		assert.Empty(t, c.Domain)
		assert.False(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	}
}

func TestPolicy_TenantHintAndClear(t *testing.T) {
	p := cookiepolicy.New(config.Cookies{
		TenantHint: config.CookieTemplate{Name: "last_tenant"},
	})
	r := httptest.NewRequest(http.MethodGet, "http://localhost:3000/", nil)

	hint := p.TenantHintCookie(r, "acme")
	assert.Equal(t, "last_tenant", hint.Name)
	assert.Equal(t, "acme", hint.Value)
	assert.True(t, hint.HttpOnly)
	assert.Equal(t, "/", hint.Path)

	cleared := p.ClearCookies(r)
	require.Len(t, cleared, 3)
	for _, c := range cleared {
		assert.Equal(t, -1, c.MaxAge)
		assert.Empty(t, c.Value)
		assert.True(t, c.HttpOnly, c.Name)
	}

	assert.Equal(t, cookiepolicy.Names{
		AccessToken:  cookiepolicy.DefaultAccessTokenName,
		RefreshToken: cookiepolicy.DefaultRefreshTokenName,
		TenantHint:   "last_tenant",
	}, p.Names())
}
