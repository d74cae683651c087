package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus/gateway/cooldown"
)

func setupTestStore(t *testing.T) (*miniredis.Miniredis, *CooldownStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewCooldownStore(client, "")
}

func TestCooldownStoreUpsertThenLoadAll(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	entry := cooldown.Entry{
		Key:                 "openai-main",
		ExpiresAt:           time.Now().Add(time.Minute).Truncate(time.Nanosecond),
		Reason:              string(cooldown.ReasonRateLimit),
		ConsecutiveFailures: 3,
	}
	require.NoError(t, store.Upsert(ctx, entry))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, entry.Key, loaded[0].Key)
	assert.Equal(t, entry.Reason, loaded[0].Reason)
	assert.Equal(t, entry.ConsecutiveFailures, loaded[0].ConsecutiveFailures)
	assert.WithinDuration(t, entry.ExpiresAt, loaded[0].ExpiresAt, time.Microsecond)
}

func TestCooldownStoreUpsertOverwritesExisting(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	key := "openai-main"
	require.NoError(t, store.Upsert(ctx, cooldown.Entry{Key: key, ConsecutiveFailures: 1, Reason: "429"}))
	require.NoError(t, store.Upsert(ctx, cooldown.Entry{Key: key, ConsecutiveFailures: 2, Reason: "5xx"}))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 2, loaded[0].ConsecutiveFailures)
	assert.Equal(t, "5xx", loaded[0].Reason)
}

func TestCooldownStoreDeleteRemovesEntryAndIndex(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	key := "anthropic-main"
	require.NoError(t, store.Upsert(ctx, cooldown.Entry{Key: key, ConsecutiveFailures: 1}))
	require.NoError(t, store.Delete(ctx, key))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestCooldownStoreLoadAllEmpty(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()

	loaded, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestCooldownStoreKeyPrefixNamespaces(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := NewCooldownStore(client, "gateway-a:")
	b := NewCooldownStore(client, "gateway-b:")
	ctx := context.Background()

	require.NoError(t, a.Upsert(ctx, cooldown.Entry{Key: "shared-key", ConsecutiveFailures: 1}))

	loadedA, err := a.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loadedA, 1)

	loadedB, err := b.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loadedB, "a different key prefix must not see another namespace's entries")
}
