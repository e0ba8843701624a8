// Package nonce generates the unguessable one-time values handed to browsers.
package nonce

import (
	"crypto/rand"
	"encoding/base64"
)

// relayTokenBytes gives relay tokens 256 bits of entropy.
const relayTokenBytes = 32

type Source struct{}

func (s Source) randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return b
}

// RelayToken returns a fresh URL safe relay token.
func (s Source) RelayToken() string {
	return base64.RawURLEncoding.EncodeToString(s.randBytes(relayTokenBytes))
}
