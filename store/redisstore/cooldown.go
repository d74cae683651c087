// Package redisstore is the Redis-backed cooldown.Store, an alternative to
// gormstore for deployments that already run Redis for session/rate-limit
// state and would rather not add a SQL table for cooldown bookkeeping.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/redis/go-redis/v9"

	"github.com/plexus/gateway/cooldown"
)

// field names within each entry's Redis hash.
const (
	fieldExpiresAt = "expires_at_unix_nano"
	fieldReason    = "reason"
	fieldFailures  = "consecutive_failures"
)

// CooldownStore satisfies cooldown.Store against a Redis connection. Each
// entry is a hash at keyPrefix+"entry:"+key; keyPrefix+"keys" is a set of
// every entry key currently written, so LoadAll can enumerate the hashes
// without a Redis-side KEYS/SCAN over the whole keyspace.
type CooldownStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewCooldownStore wraps an already-connected client. keyPrefix namespaces
// this gateway's cooldown state within a shared Redis instance; pass ""
// unless the deployment multiplexes several gateways over one database.
func NewCooldownStore(client *redis.Client, keyPrefix string) *CooldownStore {
	return &CooldownStore{client: client, keyPrefix: keyPrefix + "cooldown:"}
}

func (s *CooldownStore) entryKey(key string) string { return s.keyPrefix + "entry:" + key }
func (s *CooldownStore) indexKey() string            { return s.keyPrefix + "keys" }

func (s *CooldownStore) LoadAll(ctx context.Context) ([]cooldown.Entry, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list cooldown entry keys")
	}

	entries := make([]cooldown.Entry, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, s.entryKey(key)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "load cooldown entry %q", key)
		}
		if len(fields) == 0 {
			// the index set drifted from the hash (e.g. a hash TTL'd out);
			// drop the stray member instead of surfacing a phantom entry.
			s.client.SRem(ctx, s.indexKey(), key)
			continue
		}

		nanos, _ := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
		failures, _ := strconv.Atoi(fields[fieldFailures])
		entries = append(entries, cooldown.Entry{
			Key:                 key,
			ExpiresAt:           time.Unix(0, nanos),
			Reason:              fields[fieldReason],
			ConsecutiveFailures: failures,
		})
	}
	return entries, nil
}

func (s *CooldownStore) Upsert(ctx context.Context, e cooldown.Entry) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.entryKey(e.Key), map[string]any{
		fieldExpiresAt: e.ExpiresAt.UnixNano(),
		fieldReason:    e.Reason,
		fieldFailures:  e.ConsecutiveFailures,
	})
	pipe.SAdd(ctx, s.indexKey(), e.Key)
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "upsert cooldown entry %q", e.Key)
}

func (s *CooldownStore) Delete(ctx context.Context, key string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.entryKey(key))
	pipe.SRem(ctx, s.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "delete cooldown entry %q", key)
}
