package router

import (
	"math/rand"
)

// Stats is the read-only, provider-keyed rolling statistics snapshot the
// latency/usage/performance selectors consult. The usage package's
// Tracker satisfies this; router depends only on the interface to avoid a
// import cycle between router and usage.
type Stats interface {
	// AvgDurationMS returns the rolling average latency for (provider,
	// slug), and false if no record has been seen yet.
	AvgDurationMS(providerID, slug string) (float64, bool)
	// LastSuccessUnixNano returns the timestamp of the most recent
	// successful record for (provider, slug), and false if none yet.
	LastSuccessUnixNano(providerID, slug string) (int64, bool)
	// AvgTokensPerSecond returns the rolling average throughput for
	// (provider, slug), and false if no record has been seen yet.
	AvgTokensPerSecond(providerID, slug string) (float64, bool)
	// ProjectedCostPer1kOutput returns the estimated $ per 1000 output
	// tokens for (provider, slug) under current pricing.
	ProjectedCostPer1kOutput(providerID, slug string) float64
}

// RandomSelector picks uniformly among healthy targets.
type RandomSelector struct{}

func (RandomSelector) Select(targets []Target) Target {
	return targets[rand.Intn(len(targets))]
}

// InOrderSelector picks the first healthy target in config order.
type InOrderSelector struct{}

func (InOrderSelector) Select(targets []Target) Target {
	return targets[0]
}

// CostSelector picks the target with the lowest projected cost per 1000
// output tokens, tie-broken by config order.
type CostSelector struct{ Stats Stats }

func (s CostSelector) Select(targets []Target) Target {
	best := targets[0]
	bestCost := s.Stats.ProjectedCostPer1kOutput(best.ProviderID, best.ModelSlug)
	for _, t := range targets[1:] {
		cost := s.Stats.ProjectedCostPer1kOutput(t.ProviderID, t.ModelSlug)
		if cost < bestCost {
			best, bestCost = t, cost
		}
	}
	return best
}

// LatencySelector picks the target with the lowest rolling-average
// duration; an unseen target is treated as -∞ (highest priority).
type LatencySelector struct{ Stats Stats }

func (s LatencySelector) Select(targets []Target) Target {
	best := targets[0]
	bestMS, bestSeen := s.Stats.AvgDurationMS(best.ProviderID, best.ModelSlug)
	for _, t := range targets[1:] {
		ms, seen := s.Stats.AvgDurationMS(t.ProviderID, t.ModelSlug)
		if !seen {
			return t // unseen targets are -∞, first one found wins immediately
		}
		if bestSeen && ms < bestMS {
			best, bestMS = t, ms
		}
	}
	return best
}

// UsageSelector picks the least-recently-used target (oldest last success
// timestamp); unseen targets get priority.
type UsageSelector struct{ Stats Stats }

func (s UsageSelector) Select(targets []Target) Target {
	best := targets[0]
	bestTS, bestSeen := s.Stats.LastSuccessUnixNano(best.ProviderID, best.ModelSlug)
	for _, t := range targets[1:] {
		ts, seen := s.Stats.LastSuccessUnixNano(t.ProviderID, t.ModelSlug)
		if !seen {
			return t
		}
		if bestSeen && ts < bestTS {
			best, bestTS = t, ts
		}
	}
	return best
}

// PerformanceSelector picks the target with the highest rolling-average
// tokens-per-second; unseen targets get priority.
type PerformanceSelector struct{ Stats Stats }

func (s PerformanceSelector) Select(targets []Target) Target {
	best := targets[0]
	bestTPS, bestSeen := s.Stats.AvgTokensPerSecond(best.ProviderID, best.ModelSlug)
	for _, t := range targets[1:] {
		tps, seen := s.Stats.AvgTokensPerSecond(t.ProviderID, t.ModelSlug)
		if !seen {
			return t
		}
		if bestSeen && tps > bestTPS {
			best, bestTPS = t, tps
		}
	}
	return best
}

// Registry builds the name-keyed selector map Router.New expects.
func Registry(stats Stats) map[string]Selector {
	return map[string]Selector{
		"random":      RandomSelector{},
		"in_order":    InOrderSelector{},
		"cost":        CostSelector{Stats: stats},
		"latency":     LatencySelector{Stats: stats},
		"usage":       UsageSelector{Stats: stats},
		"performance": PerformanceSelector{Stats: stats},
	}
}
