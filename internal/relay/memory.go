package relay

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/serviceerr"
)

// MemoryStore keeps relay entries in process memory. It serves single
// instance deployments and tests; replicas behind a load balancer need a
// shared store.
type MemoryStore struct {
	mu      sync.Mutex
	entries *cache.Cache
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

type MemoryOption func(*MemoryStore)

func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the time source used for expiry decisions.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// The janitor is disabled; Save and the housekeeper prune explicitly.
	s.entries = cache.New(s.ttl, 0)

	return s
}

func (s *MemoryStore) Save(ctx context.Context, token string, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(ctx)

	if _, found := s.entries.Get(token); found {
		return serviceerr.ErrConflict
	}

	s.entries.Set(token, newEntry(creds, s.now(), s.ttl), s.ttl)

	return nil
}

func (s *MemoryStore) Consume(_ context.Context, token string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookupLocked(token)
	s.entries.Delete(token)

	if !ok {
		return Credentials{}, serviceerr.ErrRelayTokenNotFound
	}

	return entry.Credentials, nil
}

func (s *MemoryStore) Peek(_ context.Context, token string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookupLocked(token)
	if !ok {
		return Credentials{}, serviceerr.ErrRelayTokenNotFound
	}

	return entry.Credentials, nil
}

// Prune drops every expired entry.
func (s *MemoryStore) Prune(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(ctx)

	return nil
}

// Len returns the number of entries held, expired ones included.
func (s *MemoryStore) Len() int {
	return s.entries.ItemCount()
}

func (s *MemoryStore) lookupLocked(token string) (Entry, bool) {
	v, found := s.entries.Get(token)
	if !found {
		return Entry{}, false
	}

	entry, ok := v.(Entry)
	if !ok || !entry.Live(s.now()) {
		return Entry{}, false
	}

	return entry, true
}

func (s *MemoryStore) pruneLocked(ctx context.Context) {
	now := s.now()
	s.entries.DeleteExpired()

	pruned := 0
	for token, item := range s.entries.Items() {
		entry, ok := item.Object.(Entry)
		if !ok || !entry.Live(now) {
			s.entries.Delete(token)
			pruned++
		}
	}

	if pruned > 0 {
		slogctx.Debug(ctx, "Pruned expired relay entries", "count", pruned)
	}
}
