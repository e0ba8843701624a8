//go:build integration

package relayvalkey

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-relay/internal/dbtest/valkeytest"
	"github.com/openkcm/auth-relay/internal/serviceerr"
)

var client valkey.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	valkeyClient, _, terminate := valkeytest.Start(ctx)
	client = valkeyClient

	code := m.Run()
	terminate(ctx)

	os.Exit(code)
}

func TestValkey_RelayHandoff(t *testing.T) {
	store := NewStore(client, t.Name())
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, "tok", creds))

	ttl, err := client.Do(ctx, client.B().Ttl().Key(store.key("tok")).Build()).AsInt64()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	got, err := store.Peek(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	got, err = store.Consume(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	_, err = store.Consume(ctx, "tok")
	assert.ErrorIs(t, err, serviceerr.ErrRelayTokenNotFound)
}

func TestValkey_ConcurrentConsume(t *testing.T) {
	store := NewStore(client, t.Name())
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, "tok", creds))

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for range 32 {
		wg.Go(func() {
			if _, err := store.Consume(ctx, "tok"); err == nil {
				successes.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}
