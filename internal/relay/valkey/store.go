// Package relayvalkey stores relay entries in Valkey so that every replica
// of the relay can redeem a token issued by any other.
package relayvalkey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-relay/internal/relay"
	"github.com/openkcm/auth-relay/internal/serviceerr"
)

const objectType = "relay"

type Store struct {
	valkey valkey.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ relay.Store = (*Store)(nil)

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(valkeyClient valkey.Client, prefix string, opts ...Option) *Store {
	s := &Store{
		valkey: valkeyClient,
		prefix: strings.TrimSuffix(prefix, ":"),
		ttl:    relay.DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Save(ctx context.Context, token string, creds relay.Credentials) error {
	entry := relay.Entry{
		Credentials: creds,
		CreatedAt:   s.now(),
		ExpiresAt:   s.now().Add(s.ttl),
	}

	bytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	cmd := s.valkey.B().Set().
		Key(s.key(token)).
		Value(valkey.BinaryString(bytes)).
		Nx().
		PxMilliseconds(s.ttl.Milliseconds()).
		Build()

	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		if valkeyErr, ok := valkey.IsValkeyErr(err); ok && valkeyErr.IsNil() {
			return serviceerr.ErrConflict
		}

		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

// Consume reads and deletes the entry with a single GETDEL, which keeps
// concurrent redemptions of one token down to one winner.
func (s *Store) Consume(ctx context.Context, token string) (relay.Credentials, error) {
	return s.read(ctx, "getdel", s.valkey.B().Getdel().Key(s.key(token)).Build())
}

func (s *Store) Peek(ctx context.Context, token string) (relay.Credentials, error) {
	return s.read(ctx, "get", s.valkey.B().Get().Key(s.key(token)).Build())
}

func (s *Store) read(ctx context.Context, name string, cmd valkey.Completed) (relay.Credentials, error) {
	bytes, err := s.valkey.Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeyErr, ok := valkey.IsValkeyErr(err); ok && valkeyErr.IsNil() {
			return relay.Credentials{}, serviceerr.ErrRelayTokenNotFound
		}

		return relay.Credentials{}, fmt.Errorf("executing %s command: %w", name, err)
	}

	var entry relay.Entry
	if err := json.Unmarshal(bytes, &entry); err != nil {
		return relay.Credentials{}, fmt.Errorf("unmarshaling json: %w", err)
	}

	if !entry.Live(s.now()) {
		return relay.Credentials{}, serviceerr.ErrRelayTokenNotFound
	}

	return entry.Credentials, nil
}

// key hashes the token so that the keyspace never holds a redeemable value.
func (s *Store) key(token string) string {
	sum := sha256.Sum256([]byte(token))

	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, hex.EncodeToString(sum[:]))
}
