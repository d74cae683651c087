package credential

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"golang.org/x/oauth2"

	"github.com/plexus/gateway/common/random"
)

// PKCEFlow carries out the three legs of an OAuth2 authorization-code +
// PKCE exchange for one provider kind: the redirect URL the user's
// browser is sent to, the code-for-tokens exchange, and the ongoing
// refresh-token exchange. Concrete provider kinds (claude-code, ...)
// supply their own endpoints and client id via NewPKCEFlow.
type PKCEFlow struct {
	providerKind     string
	config           oauth2.Config
	refreshThreshold time.Duration
	// extraAuthParams carries provider-specific authorize_url parameters,
	// e.g. Anthropic's claude-code expects scope and a fixed redirect.
	extraAuthParams []oauth2.AuthCodeOption
}

// NewPKCEFlow builds a PKCEFlow around an oauth2.Config describing the
// provider kind's authorize/token endpoints and public client id.
func NewPKCEFlow(providerKind string, config oauth2.Config, refreshThreshold time.Duration, extraAuthParams ...oauth2.AuthCodeOption) *PKCEFlow {
	return &PKCEFlow{providerKind: providerKind, config: config, refreshThreshold: refreshThreshold, extraAuthParams: extraAuthParams}
}

func (f *PKCEFlow) RefreshThreshold() time.Duration { return f.refreshThreshold }

// AuthorizeURL builds the browser redirect URL for one login attempt.
// codeVerifier is the same secret SessionStore.Begin generated and will
// keep in memory until Redeem; S256ChallengeOption derives the
// code_challenge from it so the verifier itself never crosses the wire.
func (f *PKCEFlow) AuthorizeURL(state, codeVerifier string) string {
	opts := append([]oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(codeVerifier),
	}, f.extraAuthParams...)
	return f.config.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code plus its matching code_verifier
// for a fresh access/refresh token pair.
func (f *PKCEFlow) Exchange(ctx context.Context, userIdentifier, code, codeVerifier string) (Credential, error) {
	tok, err := f.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return Credential{}, errors.Wrap(err, "exchange authorization code")
	}
	return f.toCredential(userIdentifier, tok), nil
}

// Refresh implements credential.Refresher: it exchanges the credential's
// refresh_token for a new access token, preserving the refresh_token when
// the provider doesn't issue a new one.
func (f *PKCEFlow) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	src := f.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Credential{}, errors.Wrap(err, "refresh oauth token")
	}
	refreshed := f.toCredential(cred.UserIdentifier, tok)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	refreshed.Metadata = cred.Metadata
	return refreshed, nil
}

func (f *PKCEFlow) toCredential(userIdentifier string, tok *oauth2.Token) Credential {
	return Credential{
		ProviderKind:   f.providerKind,
		UserIdentifier: userIdentifier,
		Kind:           KindOAuth,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		ExpiresAt:      tok.Expiry,
	}
}

// session is one in-flight login attempt's PKCE state, discarded after
// exchange or once SessionTTL has elapsed.
type session struct {
	codeVerifier string
	createdAt    time.Time
}

// SessionTTL bounds how long an authorize_url's state token remains
// redeemable before the session is garbage collected.
const SessionTTL = 10 * time.Minute

// SessionStore holds the code_verifier for each in-flight login, keyed by
// the opaque state value round-tripped through the authorize redirect.
// Expired sessions are dropped lazily, on access, rather than by a
// background sweep.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]session
}

// NewSessionStore constructs an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]session)}
}

// Begin starts a new login attempt, generating and storing a fresh PKCE
// code_verifier under a random state, and returns (state, codeVerifier)
// for the caller to pass straight to PKCEFlow.AuthorizeURL.
func (s *SessionStore) Begin() (state, codeVerifier string, err error) {
	state = random.GetRandomString(32)
	codeVerifier = oauth2.GenerateVerifier()

	s.mu.Lock()
	s.gcLocked()
	s.sessions[state] = session{codeVerifier: codeVerifier, createdAt: time.Now()}
	s.mu.Unlock()

	return state, codeVerifier, nil
}

// Redeem returns and removes the code_verifier for state, failing if the
// state is unknown or has expired.
func (s *SessionStore) Redeem(state string) (codeVerifier string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcLocked()

	sess, ok := s.sessions[state]
	if !ok {
		return "", errors.Errorf("unknown or expired oauth state %q", state)
	}
	delete(s.sessions, state)
	return sess.codeVerifier, nil
}

func (s *SessionStore) gcLocked() {
	cutoff := time.Now().Add(-SessionTTL)
	for k, v := range s.sessions {
		if v.createdAt.Before(cutoff) {
			delete(s.sessions, k)
		}
	}
}

