// Package session implements the lifecycle of the server side session token:
// a token is fresh until its access token expires, is then refreshed with
// its refresh token and, if that fails, stays failed until the user logs in
// again.
package session

import (
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

type State int

const (
	StateFresh State = iota
	StateExpired
	StateRefreshing
	StateRefreshed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	case StateRefreshed:
		return "refreshed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorMarker is kept on a failed token in place of its credentials.
type ErrorMarker string

const ErrRefreshAccessToken ErrorMarker = "RefreshAccessTokenError"

type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Tenant       string
	Error        ErrorMarker
	// TTLSeconds is the lifetime the backend granted at the last refresh.
	// Tokens read from cookies leave it zero.
	TTLSeconds int
}

// State classifies the token at now. A token is fresh strictly before its
// expiry.
func (t Token) State(now time.Time) State {
	if t.Error != "" {
		return StateFailed
	}

	if now.Before(t.ExpiresAt) {
		return StateFresh
	}

	return StateExpired
}

// failed drops the credentials and keeps only the marker and the tenant.
func (t Token) failed() Token {
	return Token{
		Tenant: t.Tenant,
		Error:  ErrRefreshAccessToken,
	}
}

// CookieNames names the cookies FromCookies reads.
type CookieNames struct {
	AccessToken  string
	RefreshToken string
}

// cookieBoundLifetime is granted to opaque access tokens. Their cookie
// carries the credential lifetime as Max-Age, so a present cookie has not
// expired yet.
const cookieBoundLifetime = time.Minute

var accessTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
	jose.HS256, jose.HS384, jose.HS512,
}

// FromCookies builds the token carried by r. The expiry is read from the
// exp claim of a JWT access token without verifying its signature; the
// backend verifies the token on every use.
func FromCookies(r *http.Request, names CookieNames, tenant string, now time.Time) Token {
	tok := Token{Tenant: tenant}

	if ck, err := r.Cookie(names.RefreshToken); err == nil {
		tok.RefreshToken = ck.Value
	}

	ck, err := r.Cookie(names.AccessToken)
	if err != nil || ck.Value == "" {
		return tok
	}

	tok.AccessToken = ck.Value
	tok.ExpiresAt = accessTokenExpiry(ck.Value, now)

	return tok
}

func accessTokenExpiry(raw string, now time.Time) time.Time {
	parsed, err := jwt.ParseSigned(raw, accessTokenAlgorithms)
	if err != nil {
		return now.Add(cookieBoundLifetime)
	}

	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil || claims.Expiry == nil {
		return now.Add(cookieBoundLifetime)
	}

	return claims.Expiry.Time()
}
