package credential

import (
	"context"
	"time"

	"github.com/Laisky/zap"
	"golang.org/x/sync/errgroup"

	"github.com/plexus/gateway/common/logger"
)

// refreshInterval is how often the background sweep wakes up to look for
// soon-to-expire credentials across every pool.
const refreshInterval = 5 * time.Minute

// maxConcurrentRefreshes bounds how many accounts the sweep refreshes at
// once, across all pools combined.
const maxConcurrentRefreshes = 4

// BackgroundRefresher periodically scans every registered Pool for
// credentials nearing expiry and refreshes them ahead of use. A failed
// refresh is logged but never cools down the account — only a 401 seen at
// dispatch time does that, since a refresh failure alone doesn't mean the
// account itself is bad (the user may simply need to re-authenticate).
type BackgroundRefresher struct {
	pools []*Pool
}

// NewBackgroundRefresher builds a refresher over the given pools. Pools
// backed only by api_key credentials are harmless to include: they have
// no Refresher configured and RefreshIfNeeded is a no-op for them.
func NewBackgroundRefresher(pools ...*Pool) *BackgroundRefresher {
	return &BackgroundRefresher{pools: pools}
}

// Run blocks, sweeping every refreshInterval until ctx is cancelled.
func (r *BackgroundRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *BackgroundRefresher) sweepOnce(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRefreshes)

	for _, pool := range r.pools {
		pool := pool
		if pool.refresher == nil {
			continue
		}
		for _, cred := range pool.Snapshot() {
			cred := cred
			if cred.Kind != KindOAuth || cred.ExpiresAt.IsZero() {
				continue
			}
			if time.Until(cred.ExpiresAt) >= pool.refresher.RefreshThreshold() {
				continue
			}
			g.Go(func() error {
				if _, err := pool.RefreshIfNeeded(ctx, cred); err != nil {
					logger.L().Warn("background credential refresh failed",
						zap.String("provider_kind", pool.providerKind),
						zap.String("user_identifier", cred.UserIdentifier),
						zap.Error(err))
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}
