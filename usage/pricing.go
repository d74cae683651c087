// Package usage computes per-request cost from a provider's configured
// pricing, records append-only Usage Records, and keeps the rolling
// per-target statistics the router's cost/latency/usage/performance
// selectors read from.
package usage

import (
	"github.com/plexus/gateway/config"
	"github.com/plexus/gateway/unified"
)

// CostResult is the outcome of pricing one request's token counts:
// cost_usd plus whether the pricing source could not be resolved
// (openrouter miss), in which case cost is reported as zero but flagged.
type CostResult struct {
	CostUSD       float64
	PricingUnknown bool
}

// OpenRouterLookup resolves a slug to its current per-1M-token rates. A
// provider wires its own implementation (e.g. backed by a periodically
// refreshed HTTP fetch of openrouter's model list); a nil lookup makes
// every openrouter-priced model report PricingUnknown.
type OpenRouterLookup interface {
	Rates(slug string) (inputPerM, outputPerM, cachedPerM float64, ok bool)
}

// Price computes the cost in USD for one request's usage, given the
// model's configured pricing and the provider's discount.
//
//   - simple: base rates applied directly.
//   - ranges (config.ModelPricing.Tiers): the tier whose UpToTokens is the
//     first one above usage.InputTokens is selected; UpToTokens==0
//     on the last tier means unbounded (∞), matching the spec's
//     half-open [lower, upper) convention with upper=0 meaning infinity.
//   - openrouter (config.ModelPricing.OpenRouterSlug set): looked up via
//     lookup; a miss yields cost=0, PricingUnknown=true.
func Price(p config.ModelPricing, u unified.Usage, lookup OpenRouterLookup) CostResult {
	var inPerM, outPerM, cachedPerM float64

	switch {
	case p.OpenRouterSlug != "":
		if lookup == nil {
			return CostResult{PricingUnknown: true}
		}
		var ok bool
		inPerM, outPerM, cachedPerM, ok = lookup.Rates(p.OpenRouterSlug)
		if !ok {
			return CostResult{PricingUnknown: true}
		}

	case len(p.Tiers) > 0:
		inPerM, outPerM, cachedPerM = tierRates(p, u.InputTokens)

	default:
		inPerM, outPerM, cachedPerM = baseRates(p)
	}

	cost := (float64(u.InputTokens)/1e6)*inPerM +
		(float64(u.OutputTokens)/1e6)*outPerM +
		(float64(u.CacheReadTokens)/1e6)*cachedPerM

	if p.CacheCreationRatio > 0 && u.CacheCreationTokens > 0 {
		cost += (float64(u.CacheCreationTokens) / 1e6) * p.CacheCreationRatio
	}

	if p.DiscountMultiplier > 0 {
		cost *= 1 - p.DiscountMultiplier
	}

	return CostResult{CostUSD: cost}
}

func baseRates(p config.ModelPricing) (inPerM, outPerM, cachedPerM float64) {
	inPerM = p.Ratio
	outPerM = p.Ratio * completionMultiplier(p.CompletionRatio)
	cachedPerM = p.CacheReadRatio
	return
}

// tierRates picks the tier applying at inputTokens. Tiers must be sorted
// ascending by UpToTokens with a trailing UpToTokens==0 entry meaning
// unbounded; the base fields on ModelPricing apply only when inputTokens
// is at or past every bounded tier and no unbounded tier exists.
func tierRates(p config.ModelPricing, inputTokens int) (inPerM, outPerM, cachedPerM float64) {
	inPerM, outPerM, cachedPerM = baseRates(p)
	for _, t := range p.Tiers {
		if t.UpToTokens != 0 && inputTokens >= t.UpToTokens {
			continue
		}
		inPerM = t.Ratio
		outPerM = t.Ratio * completionMultiplier(p.CompletionRatio)
		cachedPerM = p.CacheReadRatio
		return
	}
	if last := p.Tiers[len(p.Tiers)-1]; last.UpToTokens == 0 {
		inPerM = last.Ratio
		outPerM = last.Ratio * completionMultiplier(p.CompletionRatio)
	}
	return
}

func completionMultiplier(ratio float64) float64 {
	if ratio == 0 {
		return 1
	}
	return ratio
}
