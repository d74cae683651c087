// Package dialect defines the bidirectional wire-format transformer contract
// and a small registry of the four concrete dialects, modeled on the
// teacher's relay/adaptor.Adaptor interface: one interface, one
// implementation per vendor, looked up from a map rather than a runtime
// type switch.
package dialect

import (
	"sort"

	"github.com/Laisky/errors/v2"

	"github.com/plexus/gateway/unified"
)

// Name identifies one of the four public wire dialects.
type Name string

const (
	Chat      Name = "chat"      // OpenAI Chat Completions
	Messages  Name = "messages"  // Anthropic Messages
	Gemini    Name = "gemini"    // Google Gemini generateContent
	Responses Name = "responses" // OpenAI Responses API
)

// StreamEvent, Transformer and the registry below give each dialect package
// a single place to register itself from init(), keeping dispatch a map
// lookup rather than a type switch that grows with every new vendor.

// StreamEvent is one raw (event-name, data) pair as it appears on or goes
// onto the wire for SSE dialects that name their events (Anthropic,
// Responses). Dialects that don't name events (OpenAI Chat, Gemini) leave
// Event empty.
type StreamEvent struct {
	Event string
	Data  []byte
}

// Transformer is the bidirectional contract every dialect must satisfy.
type Transformer interface {
	Name() Name

	ParseRequest(raw []byte) (*unified.Request, error)
	EmitRequest(req *unified.Request) ([]byte, error)

	ParseResponse(raw []byte) (*unified.Response, error)
	EmitResponse(resp *unified.Response) ([]byte, error)

	// ParseStreamChunk converts one raw upstream SSE event into zero or one
	// unified chunk (e.g. Anthropic "ping" events yield none).
	ParseStreamChunk(ev StreamEvent) (*unified.StreamChunk, bool, error)

	// NewStreamEncoder returns a fresh, stateful encoder for one outgoing
	// stream. Dialects whose wire framing needs cross-event memory
	// (Anthropic's content-block indices, Responses' event sequence
	// numbers) track that state on the returned value instead of on the
	// package-level Transformer, so concurrent streams never share it.
	NewStreamEncoder() StreamEncoder

	// EndpointPath returns the upstream path for this request, already
	// reflecting streaming-specific path/query changes (e.g. Gemini's
	// ":streamGenerateContent?alt=sse").
	EndpointPath(req *unified.Request) string

	ParseUsage(raw []byte) (unified.Usage, error)

	// ReconstructFromStream concatenates a full raw SSE byte stream into the
	// Response it would have produced unary. Pure and deterministic: used
	// for usage fallback and for debug/trace tooling.
	ReconstructFromStream(raw []byte) (*unified.Response, error)
}

// StreamEncoder converts unified chunks into the zero-or-more wire events a
// single client dialect stream requires, in order. One encoder is
// constructed per outgoing stream (see Transformer.NewStreamEncoder) so it
// may hold whatever per-stream state its dialect's framing needs (e.g. a
// content-block index counter); it is never shared across requests.
type StreamEncoder interface {
	// Encode converts one unified chunk into the wire events it produces.
	// A single unified "done" chunk can expand into several terminal
	// events (e.g. the Responses API's event lifecycle).
	Encode(chunk *unified.StreamChunk) ([]StreamEvent, error)
}

// ParseError reports a malformed request/response/chunk. It carries no side
// effects: cooldowns and credentials are untouched on a ParseError.
type ParseError struct {
	Dialect Name
	Field   string
	Reason  string
}

func (e *ParseError) Error() string {
	return "dialect " + string(e.Dialect) + ": field " + e.Field + ": " + e.Reason
}

func NewParseError(d Name, field, reason string) error {
	return errors.WithStack(&ParseError{Dialect: d, Field: field, Reason: reason})
}

var registry = map[Name]Transformer{}

// Register adds a transformer to the package-level registry. Called from
// each dialect subpackage's init().
func Register(t Transformer) {
	registry[t.Name()] = t
}

// Get looks up a transformer by dialect name.
func Get(name Name) (Transformer, error) {
	t, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown dialect %q", name)
	}
	return t, nil
}

// All returns every registered dialect name, stably ordered for tests and
// for deterministic target-dialect selection in the dispatcher.
func All() []Name {
	names := make([]Name, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
