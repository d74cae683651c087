package cooldown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func newMemStore() *memStore { return &memStore{entries: make(map[string]Entry)} }

func (s *memStore) LoadAll(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) Upsert(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func testParams() Params {
	return Params{
		BaseFor429:  30 * time.Second,
		BaseFor5XX:  30 * time.Second,
		BaseForAuth: 30 * time.Second,
		MaxCap:      15 * time.Minute,
	}
}

func TestHealthyWithNoEntry(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, testParams(), newMemStore())
	require.NoError(t, err)

	assert.True(t, m.Healthy("provider-a"))
}

func TestMarkFailureExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m, err := New(ctx, testParams(), store)
	require.NoError(t, err)

	m.MarkFailure(ctx, "provider-a", ReasonUpstream5xx)
	assert.False(t, m.Healthy("provider-a"))

	first := store.entries["provider-a"]
	assert.Equal(t, 1, first.ConsecutiveFailures)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), first.ExpiresAt, 2*time.Second)

	m.MarkFailure(ctx, "provider-a", ReasonUpstream5xx)
	second := store.entries["provider-a"]
	assert.Equal(t, 2, second.ConsecutiveFailures)
	assert.WithinDuration(t, time.Now().Add(60*time.Second), second.ExpiresAt, 2*time.Second)
}

func TestMarkFailureCapsAtMaxCap(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m, err := New(ctx, testParams(), store)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		m.MarkFailure(ctx, "provider-a", ReasonUpstream5xx)
	}

	entry := store.entries["provider-a"]
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), entry.ExpiresAt, 2*time.Second)
}

func TestMarkSuccessClearsCooldown(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m, err := New(ctx, testParams(), store)
	require.NoError(t, err)

	m.MarkFailure(ctx, "provider-a", ReasonAuth)
	require.False(t, m.Healthy("provider-a"))

	m.MarkSuccess(ctx, "provider-a")
	assert.True(t, m.Healthy("provider-a"))
	_, stillPersisted := store.entries["provider-a"]
	assert.False(t, stillPersisted)
}

func TestNewPrunesExpiredEntriesOnBoot(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.entries["stale"] = Entry{Key: "stale", ExpiresAt: time.Now().Add(-time.Minute), ConsecutiveFailures: 3}
	store.entries["fresh"] = Entry{Key: "fresh", ExpiresAt: time.Now().Add(time.Minute), ConsecutiveFailures: 1}

	m, err := New(ctx, testParams(), store)
	require.NoError(t, err)

	assert.True(t, m.Healthy("stale"))
	assert.False(t, m.Healthy("fresh"))
	_, stalePersisted := store.entries["stale"]
	assert.False(t, stalePersisted)
}

func TestAccountScopedKey(t *testing.T) {
	assert.Equal(t, "openai-main", Key("openai-main"))
	assert.Equal(t, "openai-main#user@example.com", AccountKey("openai-main", "user@example.com"))
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m, err := New(ctx, testParams(), store)
	require.NoError(t, err)

	m.MarkFailure(ctx, "a", ReasonRateLimit)
	m.MarkFailure(ctx, "b", ReasonRateLimit)

	m.ClearAll(ctx)

	assert.True(t, m.Healthy("a"))
	assert.True(t, m.Healthy("b"))
	assert.Empty(t, store.entries)
}
