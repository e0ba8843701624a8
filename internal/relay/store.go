// Package relay holds freshly issued credentials for a few seconds under a
// one-time relay token, so that they can cross from one origin to another
// without travelling in a URL.
package relay

import (
	"context"
	"time"
)

// DefaultTTL is the lifetime of a relay entry.
const DefaultTTL = 30 * time.Second

// Credentials are the values parked under a relay token.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TTLSeconds   int    `json:"ttlSeconds"`
	Tenant       string `json:"tenant"`
	// Fingerprint binds the entry to the browser that logged in. Empty
	// disables the check.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Entry is a stored relay value with its fixed lifetime.
type Entry struct {
	Credentials

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newEntry(creds Credentials, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Credentials: creds,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Live reports whether the entry may still be read at now.
func (e Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store is a short lived key value store for relay entries.
//
// Unknown, expired and already consumed tokens all yield
// serviceerr.ErrRelayTokenNotFound. Two concurrent Consume calls for the
// same token succeed at most once.
type Store interface {
	// Save stores creds under token for the store's TTL.
	Save(ctx context.Context, token string, creds Credentials) error
	// Consume returns the entry and deletes it. The entry is deleted even
	// if it has already expired.
	Consume(ctx context.Context, token string) (Credentials, error)
	// Peek returns the entry without deleting it.
	Peek(ctx context.Context, token string) (Credentials, error)
}
