package credential

import (
	"time"

	"golang.org/x/oauth2"
)

// Provider kind identifiers for the OAuth-anchored families this gateway
// ships PKCE flows for.
const (
	KindClaudeCode = "claude-code"
	KindGeminiCLI  = "gemini-cli"
)

// NewClaudeCodeFlow builds the PKCE flow for Anthropic's claude-code OAuth
// client: a public client id, the claude.ai authorize endpoint, the
// console.anthropic.com token endpoint, and a 10-minute proactive refresh
// threshold.
func NewClaudeCodeFlow() *PKCEFlow {
	cfg := oauth2.Config{
		ClientID: "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://claude.ai/oauth/authorize",
			TokenURL: "https://console.anthropic.com/v1/oauth/token",
		},
		RedirectURL: "https://console.anthropic.com/oauth/code/callback",
		Scopes:      []string{"org:create_api_key", "user:profile", "user:inference"},
	}
	return NewPKCEFlow(KindClaudeCode, cfg, 10*time.Minute)
}

// NewGeminiCLIFlow builds the PKCE flow for the Gemini CLI's OAuth client,
// whose access tokens are comparatively long-lived, hence the longer
// proactive refresh threshold.
func NewGeminiCLIFlow() *PKCEFlow {
	cfg := oauth2.Config{
		ClientID: "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		RedirectURL: "http://localhost:8085/oauth2callback",
		Scopes: []string{
			"https://www.googleapis.com/auth/cloud-platform",
			"https://www.googleapis.com/auth/userinfo.email",
		},
	}
	return NewPKCEFlow(KindGeminiCLI, cfg, 4*time.Hour)
}
