// Package router resolves a client-facing model name to a concrete
// (provider, upstream model) target, filtering out targets currently on
// cooldown and choosing among the rest with a pluggable Selector.
package router

import (
	"github.com/Laisky/errors/v2"

	"github.com/plexus/gateway/config"
)

// Target is one candidate (provider, model) pair a request could be sent
// to, resolved from either an alias's target list or a direct per-provider
// model match.
type Target struct {
	ProviderID string
	ModelSlug  string
	Provider   config.ProviderConfig
	AccessVia  []string // the matched model's access_via; empty means all of Provider.SupportedDialects
}

// ErrNoHealthyTarget is returned when every candidate target for a model
// is currently on cooldown.
var ErrNoHealthyTarget = errors.New("no healthy target: all on cooldown")

// ErrModelNotFound is returned when model_name matches neither an alias
// nor any provider's direct model list.
var ErrModelNotFound = errors.New("model not found")

// CooldownChecker is the narrow view of cooldown.Manager the router needs.
type CooldownChecker interface {
	Healthy(key string) bool
}

// Selector picks one target from an already cooldown-filtered,
// already-nonempty candidate list.
type Selector interface {
	Select(targets []Target) Target
}

// Router resolves model names against the current config Snapshot.
type Router struct {
	store    *config.Store
	cooldown CooldownChecker
	cooldownKey func(providerID string) string
	selectors   map[string]Selector
}

// New builds a Router. cooldownKey builds the cooldown-map key for a
// given provider id (account-scoped keys are resolved later, at credential
// acquisition time, not here — see spec §4.3 "the router calls healthy
// by resolving the account at dispatch time, not at routing time").
func New(store *config.Store, cooldown CooldownChecker, cooldownKey func(providerID string) string, selectors map[string]Selector) *Router {
	return &Router{store: store, cooldown: cooldown, cooldownKey: cooldownKey, selectors: selectors}
}

// Resolve implements the five-step algorithm: alias lookup (or direct
// provider scan), cooldown filtering, an optional api_match reorder pass,
// and selector application.
func (r *Router) Resolve(modelName string, incomingDialect string) (Target, error) {
	snap := r.store.Get()

	candidates, selectorName, priority := r.candidatesFor(snap, modelName)
	if candidates == nil {
		return Target{}, errors.Wrapf(ErrModelNotFound, "model %q", modelName)
	}

	healthy := make([]Target, 0, len(candidates))
	for _, c := range candidates {
		if r.cooldown.Healthy(r.cooldownKey(c.ProviderID)) {
			healthy = append(healthy, c)
		}
	}
	if len(healthy) == 0 {
		return Target{}, errors.Wrapf(ErrNoHealthyTarget, "model %q", modelName)
	}

	if priority == "api_match" && incomingDialect != "" {
		healthy = reorderByDialect(healthy, incomingDialect)
	}

	sel, ok := r.selectors[selectorName]
	if !ok {
		sel = r.selectors["random"]
	}
	return sel.Select(healthy), nil
}

// candidatesFor returns the target list, selector name, and priority mode
// for modelName, or nil if it resolves to nothing at all.
func (r *Router) candidatesFor(snap *config.Snapshot, modelName string) ([]Target, string, string) {
	if alias, ok := snap.Aliases[modelName]; ok {
		targets := make([]Target, 0, len(alias.Targets))
		for _, t := range alias.Targets {
			providerID, slug := splitTarget(t)
			p, ok := snap.Providers[providerID]
			if !ok {
				continue
			}
			targets = append(targets, Target{ProviderID: providerID, ModelSlug: slug, Provider: p, AccessVia: p.Models[slug].AccessVia})
		}
		selector := alias.Selector
		if selector == "" {
			selector = "random"
		}
		return targets, selector, alias.Priority
	}

	for id, p := range snap.Providers {
		if mc, ok := p.Models[modelName]; ok {
			return []Target{{ProviderID: id, ModelSlug: modelName, Provider: p, AccessVia: mc.AccessVia}}, "random", ""
		}
	}

	return nil, "", ""
}

// splitTarget parses a "<provider_id>/<upstream_model>" target string.
func splitTarget(t string) (providerID, slug string) {
	for i := 0; i < len(t); i++ {
		if t[i] == '/' {
			return t[:i], t[i+1:]
		}
	}
	return t, ""
}

// reorderByDialect moves targets whose provider supports dialect natively
// to the front, preserving relative order within each group.
func reorderByDialect(targets []Target, dialect string) []Target {
	preferred := make([]Target, 0, len(targets))
	rest := make([]Target, 0, len(targets))
	for _, t := range targets {
		if contains(t.Provider.SupportedDialects, dialect) {
			preferred = append(preferred, t)
		} else {
			rest = append(rest, t)
		}
	}
	return append(preferred, rest...)
}

// ErrNoDialectAvailable is returned when a target's model access_via and its
// provider's supported_dialects share no common dialect to emit through.
var ErrNoDialectAvailable = errors.New("no outgoing dialect available for target")

// ChooseOutgoingDialect implements spec §4.5 step 6: prefer dialects in the
// model's access_via; within those, prefer the client's incoming dialect if
// it's supported (minimizing transformation); otherwise fall back to the
// provider's configured supported_dialects order.
func ChooseOutgoingDialect(t Target, incomingDialect string) (string, error) {
	allowed := t.Provider.SupportedDialects
	if len(t.AccessVia) > 0 {
		narrowed := make([]string, 0, len(allowed))
		for _, d := range allowed {
			if contains(t.AccessVia, d) {
				narrowed = append(narrowed, d)
			}
		}
		allowed = narrowed
	}
	if len(allowed) == 0 {
		return "", errors.Wrapf(ErrNoDialectAvailable, "provider %q model %q", t.ProviderID, t.ModelSlug)
	}
	if incomingDialect != "" && contains(allowed, incomingDialect) {
		return incomingDialect, nil
	}
	return allowed[0], nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
