package usage

import (
	"context"
	"sync"

	"github.com/Laisky/zap"

	"github.com/plexus/gateway/common/logger"
	"github.com/plexus/gateway/config"
	"github.com/plexus/gateway/unified"
)

// rollingWindow is how many of the most recent records per (provider,
// slug) the rolling statistics are computed over.
const rollingWindow = 100

// sample is the sliver of a Record the rolling stats need, kept separate
// from the full Record so the in-memory ring buffers stay small.
type sample struct {
	durationMS      float64
	tokensPerSecond float64
	successAt       int64 // UnixNano
	success         bool
}

type ring struct {
	buf  [rollingWindow]sample
	next int
	size int
}

func (r *ring) push(s sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % rollingWindow
	if r.size < rollingWindow {
		r.size++
	}
}

func (r *ring) avgDurationMS() (float64, bool) {
	var sum float64
	var n int
	for i := 0; i < r.size; i++ {
		if r.buf[i].success {
			sum += r.buf[i].durationMS
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (r *ring) avgTokensPerSecond() (float64, bool) {
	var sum float64
	var n int
	for i := 0; i < r.size; i++ {
		if r.buf[i].success && r.buf[i].tokensPerSecond > 0 {
			sum += r.buf[i].tokensPerSecond
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (r *ring) lastSuccessUnixNano() (int64, bool) {
	var best int64
	var found bool
	for i := 0; i < r.size; i++ {
		if r.buf[i].success && r.buf[i].successAt > best {
			best = r.buf[i].successAt
			found = true
		}
	}
	return best, found
}

// Tracker records Usage Records to a Store and keeps the rolling
// per-(provider, slug) statistics the router's selectors read. Writes to
// the Store happen synchronously from Record so a usage row is durable by
// the time the dispatcher considers a request finished; a store failure
// is logged, not returned, since an unwritten usage row must not fail the
// client's already-completed response.
type Tracker struct {
	store   Store
	configs *config.Store
	lookup  OpenRouterLookup

	mu    sync.Mutex
	rings map[string]*ring
}

// NewTracker builds a Tracker. configs supplies the live pricing snapshot
// ProjectedCostPer1kOutput reads from; lookup resolves openrouter-priced
// models (may be nil).
func NewTracker(store Store, configs *config.Store, lookup OpenRouterLookup) *Tracker {
	return &Tracker{store: store, configs: configs, lookup: lookup, rings: make(map[string]*ring)}
}

func key(providerID, slug string) string { return providerID + "/" + slug }

// Record appends rec to the Store as given (it does no pricing of its
// own) and folds it into the rolling statistics for its (provider, slug).
func (t *Tracker) Record(ctx context.Context, rec Record) {
	if err := t.store.Append(ctx, rec); err != nil {
		logger.L().Warn("append usage record", zap.String("request_id", rec.RequestID), zap.Error(err))
	}

	k := key(rec.SelectedProvider, rec.SelectedModelSlug)
	s := sample{success: rec.ResponseStatus == "ok"}
	if s.success {
		s.durationMS = float64(rec.DurationMs)
		s.successAt = rec.Timestamp.UnixNano()
		if rec.DurationMs > 0 {
			s.tokensPerSecond = float64(rec.OutputTokens) / (float64(rec.DurationMs) / 1000)
		}
	}

	t.mu.Lock()
	r, ok := t.rings[k]
	if !ok {
		r = &ring{}
		t.rings[k] = r
	}
	r.push(s)
	t.mu.Unlock()
}

func (t *Tracker) AvgDurationMS(providerID, slug string) (float64, bool) {
	t.mu.Lock()
	r, ok := t.rings[key(providerID, slug)]
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	return r.avgDurationMS()
}

func (t *Tracker) AvgTokensPerSecond(providerID, slug string) (float64, bool) {
	t.mu.Lock()
	r, ok := t.rings[key(providerID, slug)]
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	return r.avgTokensPerSecond()
}

func (t *Tracker) LastSuccessUnixNano(providerID, slug string) (int64, bool) {
	t.mu.Lock()
	r, ok := t.rings[key(providerID, slug)]
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	return r.lastSuccessUnixNano()
}

// ProjectedCostPer1kOutput estimates $ per 1000 output tokens for
// (provider, slug) under the live pricing snapshot, assuming an
// all-output-tokens request (no input/cache component) for a stable
// cross-provider comparison basis.
func (t *Tracker) ProjectedCostPer1kOutput(providerID, slug string) float64 {
	snap := t.configs.Get()
	pricing, ok := snap.Pricing[slug]
	if !ok {
		return 0
	}
	result := Price(pricing, unified.Usage{OutputTokens: 1000}, t.lookup)
	return result.CostUSD
}
