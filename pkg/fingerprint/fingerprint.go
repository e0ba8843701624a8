// Package fingerprint derives a coarse browser fingerprint from request
// headers. Relay tokens are bound to it so a leaked token cannot be redeemed
// from a different browser.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// Only headers a browser sends identically on fetch and navigation requests
// take part; Accept differs between the two.
var headerKeys = []string{"User-Agent", "Accept-Language"}

type ctxKey struct{}

// FromHeaders hashes the fingerprinting headers of h into a hex string.
func FromHeaders(h http.Header) string {
	sum := sha256.New()

	for _, key := range headerKeys {
		sum.Write([]byte(h.Get(key)))
		sum.Write([]byte{0})
	}

	return hex.EncodeToString(sum.Sum(nil))
}

// Middleware computes the fingerprint once per request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxKey{}, FromHeaders(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the fingerprint stored by Middleware.
func FromContext(ctx context.Context) (string, bool) {
	fp, ok := ctx.Value(ctxKey{}).(string)
	return fp, ok
}

// Of returns the fingerprint of r, preferring the one stored by Middleware.
func Of(r *http.Request) string {
	if fp, ok := FromContext(r.Context()); ok {
		return fp
	}

	return FromHeaders(r.Header)
}
