// Package credential manages the pool of API keys and OAuth-backed
// accounts a provider can dispatch through: round-robin selection among
// healthy accounts, proactive refresh of soon-to-expire tokens, and a
// background refresher that sweeps the whole pool on an interval.
package credential

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
)

// Kind distinguishes the credential's auth mechanism.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindOAuth  Kind = "oauth"
)

// Credential is one usable account: either a static API key or a live
// OAuth token pair. UserIdentifier is the pool key within a provider_kind
// (an account email for OAuth, or the provider id itself for a bare
// api_key credential).
type Credential struct {
	ProviderKind   string
	UserIdentifier string
	Kind           Kind

	APIKey string

	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Metadata     map[string]string
}

// ErrAllAccountsExhausted is returned when every account in a provider's
// pool is either expiring too soon or on cooldown.
var ErrAllAccountsExhausted = errors.New("all accounts exhausted")

// CooldownChecker is the narrow view of cooldown.Manager the pool needs to
// skip accounts that are currently backing off.
type CooldownChecker interface {
	Healthy(key string) bool
}

// Refresher performs the provider-kind-specific OAuth refresh exchange.
// PKCEFlow in credential/oauth.go implements it; credential/providers.go
// builds one PKCEFlow per provider kind.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (Credential, error)
	// RefreshThreshold is how far ahead of expiry this provider kind
	// proactively refreshes (families differ: 10m for some, 4h for others).
	RefreshThreshold() time.Duration
}

// minTakeSlack is the minimum remaining lifetime take() requires before
// handing out a credential without triggering a refresh first.
const minTakeSlack = 60 * time.Second

// Pool holds every credential for one provider_kind and round-robins
// selection among the ones currently eligible. A singleflight group keyed
// by account (refreshGroup, see singleflight.go) prevents two concurrent
// dispatches on the same near-expiry credential from both refreshing it.
type Pool struct {
	providerKind string
	cooldownKey  func(userIdentifier string) string
	refresher    Refresher
	cooldown     CooldownChecker

	mu      sync.Mutex
	creds   []Credential
	cursor  int

	refreshGroup singleflightGroup
}

// singleflightGroup is the narrow slice of golang.org/x/sync/singleflight
// that Pool depends on, so tests can substitute a fake.
type singleflightGroup interface {
	Do(key string, fn func() (any, error)) (any, error, bool)
}

// NewPool builds a Pool for one provider_kind from its configured
// accounts. refresher may be nil for providers that only ever use
// api_key credentials (no refresh is ever attempted for those).
func NewPool(providerKind string, creds []Credential, refresher Refresher, cooldown CooldownChecker, cooldownKey func(string) string) *Pool {
	return &Pool{
		providerKind: providerKind,
		creds:        append([]Credential(nil), creds...),
		refresher:    refresher,
		cooldown:     cooldown,
		cooldownKey:  cooldownKey,
		refreshGroup: newSingleflightGroup(),
	}
}

// Take picks the next eligible credential round-robin: expires_at more
// than 60s out, and not on cooldown. It does not itself refresh; callers
// needing a fresher token call RefreshIfNeeded on the result.
func (p *Pool) Take(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	if n == 0 {
		return Credential{}, errors.Wrapf(ErrAllAccountsExhausted, "provider_kind %q", p.providerKind)
	}

	now := time.Now()
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.creds[idx]
		if c.Kind == KindOAuth && !c.ExpiresAt.IsZero() && c.ExpiresAt.Sub(now) <= minTakeSlack {
			continue
		}
		if p.cooldown != nil && !p.cooldown.Healthy(p.cooldownKey(c.UserIdentifier)) {
			continue
		}
		p.cursor = (idx + 1) % n
		return c, nil
	}
	return Credential{}, errors.Wrapf(ErrAllAccountsExhausted, "provider_kind %q", p.providerKind)
}

// RefreshIfNeeded refreshes cred if its remaining lifetime has dropped
// under the refresher's threshold, deduplicating concurrent refreshes of
// the same account via singleflight so a token is never exchanged twice
// for the same credential at once.
func (p *Pool) RefreshIfNeeded(ctx context.Context, cred Credential) (Credential, error) {
	if cred.Kind != KindOAuth || p.refresher == nil {
		return cred, nil
	}
	if !cred.ExpiresAt.IsZero() && time.Until(cred.ExpiresAt) >= p.refresher.RefreshThreshold() {
		return cred, nil
	}

	v, err, _ := p.refreshGroup.Do(p.providerKind+"#"+cred.UserIdentifier, func() (any, error) {
		return p.refresher.Refresh(ctx, cred)
	})
	if err != nil {
		return Credential{}, errors.Wrapf(err, "refresh credential %s", cred.UserIdentifier)
	}
	refreshed := v.(Credential)
	p.update(refreshed)
	return refreshed, nil
}

func (p *Pool) update(cred Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.creds {
		if c.UserIdentifier == cred.UserIdentifier {
			p.creds[i] = cred
			return
		}
	}
}

// Snapshot returns a copy of every credential currently in the pool, for
// the background refresher to scan.
func (p *Pool) Snapshot() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Credential(nil), p.creds...)
}

// ProviderKind reports which provider kind this pool serves.
func (p *Pool) ProviderKind() string { return p.providerKind }

// ProviderAccounts is the narrow view of config.ProviderConfig NewPoolFromProvider
// needs, avoiding an import of the config package from credential.
type ProviderAccounts struct {
	APIKey string
	OAuth  []OAuthAccountRef
}

// OAuthAccountRef is one configured OAuth account, as read off
// config.ProviderConfig.OAuthAccounts.
type OAuthAccountRef struct {
	Email        string
	RefreshToken string
}

// NewPoolFromProvider builds a Pool for one provider: a single api_key
// credential if APIKey is set, or one OAuth credential per configured
// account (refreshed lazily on first use, since only refresh_token is
// known until then).
func NewPoolFromProvider(providerID string, accts ProviderAccounts, refresher Refresher, cooldown CooldownChecker, cooldownKey func(string) string) *Pool {
	var creds []Credential
	if accts.APIKey != "" {
		creds = append(creds, Credential{ProviderKind: providerID, UserIdentifier: providerID, Kind: KindAPIKey, APIKey: accts.APIKey})
	}
	for _, a := range accts.OAuth {
		creds = append(creds, Credential{
			ProviderKind: providerID, UserIdentifier: a.Email, Kind: KindOAuth,
			RefreshToken: a.RefreshToken,
		})
	}
	return NewPool(providerID, creds, refresher, cooldown, cooldownKey)
}
