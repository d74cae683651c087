package dispatcher

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/plexus/gateway/credential"
	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/unified"
)

// claudeCodeSystemBlock is the fixed leading system block the claude-code
// OAuth credential's authentication protocol requires on every request,
// regardless of what system guidance the client itself supplied.
const claudeCodeSystemBlock = "You are Claude Code, Anthropic's official CLI for Claude."

// requiresClaudeCodeInjection reports whether this dispatch must carry
// the claude-code provider's required system block, headers, and
// metadata.user_id: only when the outgoing wire dialect is Anthropic
// Messages and the acquired credential belongs to the claude-code OAuth
// family. This is not general system-prompt injection — it is part of
// that provider's authentication contract, so it never applies to any
// other dialect or credential kind.
func requiresClaudeCodeInjection(outgoing dialect.Name, cred credential.Credential) bool {
	return outgoing == dialect.Messages && cred.ProviderKind == credential.KindClaudeCode
}

// injectClaudeCodeSystemBlock prepends the fixed system block to req's
// messages, ahead of whatever system guidance the client already
// supplied, mutating a copy so the caller's original request is
// untouched.
func injectClaudeCodeSystemBlock(req *unified.Request) *unified.Request {
	out := *req
	out.Messages = make([]unified.Message, 0, len(req.Messages)+1)
	out.Messages = append(out.Messages, unified.Message{Role: unified.RoleSystem, Content: claudeCodeSystemBlock})
	out.Messages = append(out.Messages, req.Messages...)
	return &out
}

// claudeCodeHeaders are the fixed headers the claude-code OAuth
// credential's protocol requires on every outgoing request.
func claudeCodeHeaders() map[string]string {
	return map[string]string{
		"Anthropic-Beta": "claude-code-20250219,oauth-2025-04-20",
		"User-Agent":     "claude-cli/1.0.83 (external, cli)",
		"X-App":          "cli",
	}
}

// injectClaudeCodeMetadata sets metadata.user_id on the already-emitted
// Messages request body, in the shape
// user_<sha256_hex>_account_<uuid>_session_<uuid> the claude-code
// protocol expects. sha256_hex is derived from the account identifier so
// it's stable per account; account and session uuids are fresh per
// dispatch, matching how a real CLI session identifies itself.
func injectClaudeCodeMetadata(body []byte, accountIdentifier string) ([]byte, error) {
	sum := sha256.Sum256([]byte(accountIdentifier))
	userID := "user_" + hex.EncodeToString(sum[:]) +
		"_account_" + uuid.NewString() +
		"_session_" + uuid.NewString()
	return sjson.SetBytes(body, "metadata.user_id", userID)
}
