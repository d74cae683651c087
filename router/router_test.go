package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus/gateway/config"
)

type fakeCooldown struct {
	unhealthy map[string]bool
}

func (f fakeCooldown) Healthy(key string) bool { return !f.unhealthy[key] }

func sampleSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Providers: map[string]config.ProviderConfig{
			"openai-main": {ID: "openai-main", Dialect: "chat", SupportedDialects: []string{"chat"},
				Models: map[string]config.ModelConfig{"gpt-4o": {}}},
			"openai-backup": {ID: "openai-backup", Dialect: "chat", SupportedDialects: []string{"chat"},
				Models: map[string]config.ModelConfig{"gpt-4o": {}}},
			"anthropic-main": {ID: "anthropic-main", Dialect: "messages", SupportedDialects: []string{"messages"},
				Models: map[string]config.ModelConfig{"claude-3-5-sonnet": {}}},
		},
		Aliases: map[string]config.AliasConfig{
			"gpt-4o": {
				Targets:  []string{"openai-main/gpt-4o", "openai-backup/gpt-4o"},
				Selector: "in_order",
			},
		},
	}
}

func TestResolveViaAlias(t *testing.T) {
	store := config.NewStore(sampleSnapshot())
	r := New(store, fakeCooldown{}, func(id string) string { return id }, Registry(nil))

	target, err := r.Resolve("gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, "openai-main", target.ProviderID)
}

func TestResolveDirectModelMatch(t *testing.T) {
	store := config.NewStore(sampleSnapshot())
	r := New(store, fakeCooldown{}, func(id string) string { return id }, Registry(nil))

	target, err := r.Resolve("claude-3-5-sonnet", "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic-main", target.ProviderID)
}

func TestResolveModelNotFound(t *testing.T) {
	store := config.NewStore(sampleSnapshot())
	r := New(store, fakeCooldown{}, func(id string) string { return id }, Registry(nil))

	_, err := r.Resolve("does-not-exist", "")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestResolveSkipsCooldownTargets(t *testing.T) {
	store := config.NewStore(sampleSnapshot())
	r := New(store, fakeCooldown{unhealthy: map[string]bool{"openai-main": true}},
		func(id string) string { return id }, Registry(nil))

	target, err := r.Resolve("gpt-4o", "")
	require.NoError(t, err)
	assert.Equal(t, "openai-backup", target.ProviderID)
}

func TestResolveNoHealthyTarget(t *testing.T) {
	store := config.NewStore(sampleSnapshot())
	r := New(store, fakeCooldown{unhealthy: map[string]bool{"openai-main": true, "openai-backup": true}},
		func(id string) string { return id }, Registry(nil))

	_, err := r.Resolve("gpt-4o", "")
	assert.ErrorIs(t, err, ErrNoHealthyTarget)
}

func TestResolveAPIMatchPriorityReorders(t *testing.T) {
	snap := sampleSnapshot()
	alias := snap.Aliases["gpt-4o"]
	alias.Targets = []string{"openai-backup/gpt-4o", "openai-main/gpt-4o"}
	alias.Selector = "in_order"
	alias.Priority = "api_match"
	snap.Aliases["gpt-4o"] = alias
	// give openai-backup a different dialect so reorder is observable
	backup := snap.Providers["openai-backup"]
	backup.Dialect = "messages"
	backup.SupportedDialects = []string{"messages"}
	snap.Providers["openai-backup"] = backup

	store := config.NewStore(snap)
	r := New(store, fakeCooldown{}, func(id string) string { return id }, Registry(nil))

	target, err := r.Resolve("gpt-4o", "chat")
	require.NoError(t, err)
	assert.Equal(t, "openai-main", target.ProviderID, "chat-dialect provider should be reordered first")
}

func TestChooseOutgoingDialectPrefersClientDialectWithinAccessVia(t *testing.T) {
	target := Target{
		ProviderID: "p", ModelSlug: "m",
		Provider:  config.ProviderConfig{SupportedDialects: []string{"chat", "responses", "messages"}},
		AccessVia: []string{"responses", "messages"},
	}
	got, err := ChooseOutgoingDialect(target, "messages")
	require.NoError(t, err)
	assert.Equal(t, "messages", got)
}

func TestChooseOutgoingDialectFallsBackToConfigOrder(t *testing.T) {
	target := Target{
		ProviderID: "p", ModelSlug: "m",
		Provider:  config.ProviderConfig{SupportedDialects: []string{"chat", "responses", "messages"}},
		AccessVia: []string{"responses", "messages"},
	}
	got, err := ChooseOutgoingDialect(target, "chat")
	require.NoError(t, err)
	assert.Equal(t, "responses", got, "client dialect not in access_via: fall back to provider's supported_dialects order")
}

func TestChooseOutgoingDialectEmptyAccessViaMeansAllSupported(t *testing.T) {
	target := Target{
		ProviderID: "p", ModelSlug: "m",
		Provider: config.ProviderConfig{SupportedDialects: []string{"chat", "messages"}},
	}
	got, err := ChooseOutgoingDialect(target, "messages")
	require.NoError(t, err)
	assert.Equal(t, "messages", got)
}

func TestChooseOutgoingDialectNoOverlapErrors(t *testing.T) {
	target := Target{
		ProviderID: "p", ModelSlug: "m",
		Provider:  config.ProviderConfig{SupportedDialects: []string{"chat"}},
		AccessVia: []string{"messages"},
	}
	_, err := ChooseOutgoingDialect(target, "chat")
	assert.ErrorIs(t, err, ErrNoDialectAvailable)
}

func TestInOrderSelector(t *testing.T) {
	targets := []Target{{ProviderID: "a"}, {ProviderID: "b"}}
	assert.Equal(t, "a", InOrderSelector{}.Select(targets).ProviderID)
}
