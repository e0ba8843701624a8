package relayvalkey

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-relay/internal/relay"
	"github.com/openkcm/auth-relay/internal/serviceerr"
)

var creds = relay.Credentials{
	AccessToken:  "access",
	RefreshToken: "refresh",
	TTLSeconds:   900,
	Tenant:       "acme",
	Fingerprint:  "fp",
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{srv.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return NewStore(client, "relay-test:", opts...), srv
}

func TestNewStore(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Equal(t, "relay-test", store.prefix)
	assert.Equal(t, relay.DefaultTTL, store.ttl)
}

func TestStore_Key(t *testing.T) {
	store, _ := newTestStore(t)

	key := store.key("token-123")
	assert.Regexp(t, `^relay-test:relay:[0-9a-f]{64}$`, key)
	assert.NotContains(t, key, "token-123")
	assert.Equal(t, key, store.key("token-123"))
}

func TestStore_SaveSetsTTL(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, "tok", creds))

	assert.Equal(t, relay.DefaultTTL, srv.TTL(store.key("tok")))
}

func TestStore_ConsumeOnce(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, "tok", creds))

	got, err := store.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, creds, got)
	assert.False(t, srv.Exists(store.key("tok")))

	_, err = store.Consume(ctx, "tok")
	assert.ErrorIs(t, err, serviceerr.ErrRelayTokenNotFound)
}

func TestStore_PeekThenConsume(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, "tok", creds))

	got, err := store.Peek(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	got, err = store.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	_, err = store.Peek(ctx, "tok")
	assert.ErrorIs(t, err, serviceerr.ErrRelayTokenNotFound)
}

func TestStore_Unknown(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Peek(t.Context(), "missing")
	assert.ErrorIs(t, err, serviceerr.ErrRelayTokenNotFound)

	_, err = store.Consume(t.Context(), "missing")
	assert.ErrorIs(t, err, serviceerr.ErrRelayTokenNotFound)
}

func TestStore_Expiry(t *testing.T) {
	t.Run("server side expiry", func(t *testing.T) {
		store, srv := newTestStore(t, WithTTL(5*time.Second))
		ctx := t.Context()

		require.NoError(t, store.Save(ctx, "tok", creds))
		srv.FastForward(6 * time.Second)

		_, err := store.Consume(ctx, "tok")
		assert.ErrorIs(t, err, serviceerr.ErrRelayTokenNotFound)
	})

	t.Run("expiry recorded in the entry", func(t *testing.T) {
		now := time.Now()
		store, _ := newTestStore(t, WithClock(func() time.Time { return now }))
		ctx := t.Context()

		require.NoError(t, store.Save(ctx, "tok", creds))
		now = now.Add(relay.DefaultTTL)

		_, err := store.Peek(ctx, "tok")
		assert.ErrorIs(t, err, serviceerr.ErrRelayTokenNotFound)
	})
}

func TestStore_SaveConflict(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, "tok", creds))
	assert.ErrorIs(t, store.Save(ctx, "tok", creds), serviceerr.ErrConflict)
}

func TestStore_ConcurrentConsume(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, "tok", creds))

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for range 16 {
		wg.Go(func() {
			if _, err := store.Consume(ctx, "tok"); err == nil {
				successes.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestStore_CorruptEntry(t *testing.T) {
	store, srv := newTestStore(t)

	require.NoError(t, srv.Set(store.key("tok"), "not-json"))

	_, err := store.Peek(t.Context(), "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, serviceerr.ErrRelayTokenNotFound)
}
