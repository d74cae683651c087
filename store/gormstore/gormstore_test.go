package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus/gateway/cooldown"
	"github.com/plexus/gateway/usage"
)

func TestCooldownStoreRoundTrip(t *testing.T) {
	db, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)

	store := NewCooldownStore(db)
	ctx := context.Background()

	entry := cooldown.Entry{Key: "openai-main", ExpiresAt: time.Now().Add(time.Minute).Truncate(time.Second), Reason: "429", ConsecutiveFailures: 2}
	require.NoError(t, store.Upsert(ctx, entry))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, entry.Key, loaded[0].Key)
	assert.Equal(t, entry.ConsecutiveFailures, loaded[0].ConsecutiveFailures)
	assert.True(t, entry.ExpiresAt.Equal(loaded[0].ExpiresAt))

	require.NoError(t, store.Delete(ctx, entry.Key))
	loaded, err = store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestUsageStoreAppend(t *testing.T) {
	db, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)

	store := NewUsageStore(db)
	rec := usage.Record{
		RequestID: "req-1", Timestamp: time.Now(), SelectedProvider: "openai-main",
		SelectedModelSlug: "gpt-4o", InputTokens: 10, OutputTokens: 5, TotalTokens: 15,
		ResponseStatus: "ok",
	}
	require.NoError(t, store.Append(context.Background(), rec))

	var count int64
	require.NoError(t, db.Model(&usageRecordModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
