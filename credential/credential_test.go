package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCooldown struct {
	unhealthy map[string]bool
}

func (f fakeCooldown) Healthy(key string) bool { return !f.unhealthy[key] }

type fakeRefresher struct {
	threshold time.Duration
	calls     int
}

func (f *fakeRefresher) RefreshThreshold() time.Duration { return f.threshold }

func (f *fakeRefresher) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	f.calls++
	cred.AccessToken = "refreshed-token"
	cred.ExpiresAt = time.Now().Add(time.Hour)
	return cred, nil
}

func TestPoolTakeRoundRobins(t *testing.T) {
	p := NewPool("openai", []Credential{
		{ProviderKind: "openai", UserIdentifier: "a", Kind: KindAPIKey, APIKey: "key-a"},
		{ProviderKind: "openai", UserIdentifier: "b", Kind: KindAPIKey, APIKey: "key-b"},
	}, nil, nil, func(s string) string { return s })

	first, err := p.Take(context.Background())
	require.NoError(t, err)
	second, err := p.Take(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.UserIdentifier, second.UserIdentifier)
}

func TestPoolTakeSkipsCooldownAccounts(t *testing.T) {
	cd := fakeCooldown{unhealthy: map[string]bool{"a": true}}
	p := NewPool("openai", []Credential{
		{ProviderKind: "openai", UserIdentifier: "a", Kind: KindAPIKey, APIKey: "key-a"},
		{ProviderKind: "openai", UserIdentifier: "b", Kind: KindAPIKey, APIKey: "key-b"},
	}, nil, cd, func(s string) string { return s })

	cred, err := p.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", cred.UserIdentifier)
}

func TestPoolTakeAllExhaustedReturnsError(t *testing.T) {
	cd := fakeCooldown{unhealthy: map[string]bool{"a": true}}
	p := NewPool("openai", []Credential{
		{ProviderKind: "openai", UserIdentifier: "a", Kind: KindAPIKey, APIKey: "key-a"},
	}, nil, cd, func(s string) string { return s })

	_, err := p.Take(context.Background())
	require.ErrorIs(t, err, ErrAllAccountsExhausted)
}

func TestPoolTakeSkipsNearlyExpiredOAuth(t *testing.T) {
	p := NewPool("claude-code", []Credential{
		{ProviderKind: "claude-code", UserIdentifier: "expiring", Kind: KindOAuth, AccessToken: "t1", ExpiresAt: time.Now().Add(10 * time.Second)},
		{ProviderKind: "claude-code", UserIdentifier: "fresh", Kind: KindOAuth, AccessToken: "t2", ExpiresAt: time.Now().Add(time.Hour)},
	}, nil, nil, func(s string) string { return s })

	cred, err := p.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.UserIdentifier)
}

func TestRefreshIfNeededSkipsApiKeyCredentials(t *testing.T) {
	refresher := &fakeRefresher{threshold: time.Hour}
	p := NewPool("openai", nil, refresher, nil, func(s string) string { return s })

	cred := Credential{Kind: KindAPIKey, APIKey: "key-a"}
	out, err := p.RefreshIfNeeded(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, cred, out)
	assert.Zero(t, refresher.calls)
}

func TestRefreshIfNeededRefreshesWhenPastThreshold(t *testing.T) {
	refresher := &fakeRefresher{threshold: time.Hour}
	p := NewPool("claude-code", []Credential{
		{ProviderKind: "claude-code", UserIdentifier: "acct", Kind: KindOAuth, ExpiresAt: time.Now().Add(5 * time.Minute)},
	}, refresher, nil, func(s string) string { return s })

	cred, err := p.Take(context.Background())
	require.NoError(t, err)

	refreshed, err := p.RefreshIfNeeded(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", refreshed.AccessToken)
	assert.Equal(t, 1, refresher.calls)

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "refreshed-token", snap[0].AccessToken)
}

func TestNewPoolFromProviderBuildsApiKeyAndOAuthCreds(t *testing.T) {
	p := NewPoolFromProvider("openai-main", ProviderAccounts{
		APIKey: "sk-test",
		OAuth:  []OAuthAccountRef{{Email: "user@example.com", RefreshToken: "rt"}},
	}, nil, nil, func(s string) string { return s })

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, KindAPIKey, snap[0].Kind)
	assert.Equal(t, KindOAuth, snap[1].Kind)
	assert.Equal(t, "user@example.com", snap[1].UserIdentifier)
}
