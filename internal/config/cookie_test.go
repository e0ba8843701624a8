package config

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToCookie(t *testing.T) {
	tests := []struct {
		name     string
		template CookieTemplate
		value    string
		want     *http.Cookie
	}{
		{
			name:     "defaults",
			template: CookieTemplate{Name: "foo"},
			want:     &http.Cookie{Name: "foo"},
		}, {
			name: "access token",
			template: CookieTemplate{
				Name:     "access_token",
				Path:     "/",
				MaxAge:   900,
				Secure:   true,
				SameSite: CookieSameSiteNone,
				HTTPOnly: true,
			},
			value: "jwt",
			want: &http.Cookie{
				Name:     "access_token",
				Value:    "jwt",
				MaxAge:   900,
				Path:     "/",
				Secure:   true,
				SameSite: http.SameSiteNoneMode,
				HttpOnly: true,
			},
		}, {
			name: "tenant hint",
			template: CookieTemplate{
				Name:     "tenant_hint",
				Path:     "/",
				Domain:   ".example.com",
				SameSite: CookieSameSiteLax,
			},
			value: "acme",
			want: &http.Cookie{
				Name:     "tenant_hint",
				Value:    "acme",
				Path:     "/",
				Domain:   ".example.com",
				SameSite: http.SameSiteLaxMode,
			},
		}, {
			name:     "strict",
			template: CookieTemplate{Name: "x", SameSite: CookieSameSiteStrict},
			want:     &http.Cookie{Name: "x", SameSite: http.SameSiteStrictMode},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.template.ToCookie(tt.value)
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestCookieTemplate_WithDefaults(t *testing.T) {
	got := CookieTemplate{}.WithDefaults("access_token", "/")
	assert.Equal(t, "access_token", got.Name)
	assert.Equal(t, "/", got.Path)

	got = CookieTemplate{Name: "at", Path: "/app"}.WithDefaults("access_token", "/")
	assert.Equal(t, "at", got.Name)
	assert.Equal(t, "/app", got.Path)
}
