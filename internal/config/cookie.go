package config

import "net/http"

// ToCookie renders the template into a cookie carrying value.
func (ct *CookieTemplate) ToCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   ct.MaxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: ct.SameSite.Mode(),
	}
}

// WithDefaults returns a copy of the template with an empty name or path
// replaced.
func (ct CookieTemplate) WithDefaults(name, path string) CookieTemplate {
	if ct.Name == "" {
		ct.Name = name
	}

	if ct.Path == "" {
		ct.Path = path
	}

	return ct
}

func (s CookieSameSite) Mode() http.SameSite {
	switch s {
	case CookieSameSiteNone:
		return http.SameSiteNoneMode
	case CookieSameSiteLax:
		return http.SameSiteLaxMode
	case CookieSameSiteStrict:
		return http.SameSiteStrictMode
	default:
		return http.SameSiteDefaultMode
	}
}
