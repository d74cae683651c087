// Package cooldown tracks which providers (or provider+account pairs) are
// temporarily unhealthy after upstream failures, backing off exponentially
// per key and persisting the active set across restarts.
package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/plexus/gateway/common/logger"
)

// Key builds the provider-level cooldown key used when a provider has no
// per-account credential pool (api_key auth).
func Key(providerID string) string { return providerID }

// AccountKey builds the per-account cooldown key for an OAuth-pooled
// credential, so one bad account doesn't cool down its siblings.
func AccountKey(providerID, userIdentifier string) string { return providerID + "#" + userIdentifier }

// Entry is one cooldown record, keyed by provider_id or
// "provider_id#account_email".
type Entry struct {
	Key                 string
	ExpiresAt           time.Time
	Reason              string
	ConsecutiveFailures int
}

func (e Entry) expired(now time.Time) bool { return !e.ExpiresAt.After(now) }

// Store is the narrow persistence contract the CooldownManager depends
// on; a gormstore or redisstore implementation satisfies it.
type Store interface {
	LoadAll(ctx context.Context) ([]Entry, error)
	Upsert(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
}

// Params parametrizes the exponential backoff formula: duration after the
// n-th consecutive failure is min(base * 2^(n-1), maxCap). Which base
// applies is chosen by the caller of MarkFailure based on failure reason.
type Params struct {
	BaseFor429  time.Duration
	BaseFor5XX  time.Duration
	BaseForAuth time.Duration
	MaxCap      time.Duration
}

// Manager is the in-memory cooldown map plus its persistence sidecar. One
// mutex guards the map; persistence happens after the lock is released so
// readers (Healthy) never block on the store.
type Manager struct {
	params Params
	store  Store

	mu      sync.Mutex
	entries map[string]Entry
}

// New loads the active cooldown set from store and starts a Manager.
// Expired entries are discarded on boot and the pruned remainder is
// re-persisted.
func New(ctx context.Context, params Params, store Store) (*Manager, error) {
	m := &Manager{params: params, store: store, entries: make(map[string]Entry)}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load cooldown entries")
	}

	now := time.Now()
	for _, e := range loaded {
		if e.expired(now) {
			if err := store.Delete(ctx, e.Key); err != nil {
				logger.L().Warn("prune expired cooldown entry", zap.String("key", e.Key), zap.Error(err))
			}
			continue
		}
		m.entries[e.Key] = e
	}

	return m, nil
}

// Reason tags why a failure occurred, selecting which base backoff
// duration applies.
type Reason string

const (
	ReasonRateLimit Reason = "429"
	ReasonUpstream5xx Reason = "5xx"
	ReasonAuth      Reason = "auth"
)

func (m *Manager) baseFor(reason Reason) time.Duration {
	switch reason {
	case ReasonRateLimit:
		return m.params.BaseFor429
	case ReasonAuth:
		return m.params.BaseForAuth
	default:
		return m.params.BaseFor5XX
	}
}

// MarkFailure records a failure for key, extending its cooldown window by
// the exponential backoff formula. Persistence is best-effort: failures to
// persist are logged, never returned, since the in-memory state is already
// authoritative for this process.
func (m *Manager) MarkFailure(ctx context.Context, key string, reason Reason) {
	m.mu.Lock()
	existing := m.entries[key]
	n := existing.ConsecutiveFailures + 1

	backoff := m.baseFor(reason) * time.Duration(1<<uint(n-1))
	if m.params.MaxCap > 0 && backoff > m.params.MaxCap {
		backoff = m.params.MaxCap
	}

	entry := Entry{
		Key:                 key,
		ExpiresAt:           time.Now().Add(backoff),
		Reason:              string(reason),
		ConsecutiveFailures: n,
	}
	m.entries[key] = entry
	m.mu.Unlock()

	if err := m.store.Upsert(ctx, entry); err != nil {
		logger.L().Warn("persist cooldown entry", zap.String("key", key), zap.Error(err))
	}
}

// MarkSuccess clears any cooldown and failure streak for key.
func (m *Manager) MarkSuccess(ctx context.Context, key string) {
	m.mu.Lock()
	_, had := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()

	if !had {
		return
	}
	if err := m.store.Delete(ctx, key); err != nil {
		logger.L().Warn("delete cooldown entry", zap.String("key", key), zap.Error(err))
	}
}

// Healthy reports whether key currently has no active cooldown.
func (m *Manager) Healthy(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return true
	}
	return e.expired(time.Now())
}

// ActiveEntries returns a snapshot of every currently tracked entry,
// expired or not, for admin introspection.
func (m *Manager) ActiveEntries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// ClearAll removes every cooldown entry, in-memory and persisted.
func (m *Manager) ClearAll(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.entries = make(map[string]Entry)
	m.mu.Unlock()

	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil {
			logger.L().Warn("clear cooldown entry", zap.String("key", k), zap.Error(err))
		}
	}
}
