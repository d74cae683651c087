// Package unified defines the dialect-agnostic request/response/stream-chunk
// model that sits between the four wire dialects and the dispatcher.
//
// Every dialect transformer parses into these types and emits out of them;
// nothing downstream of parsing (routing, credential selection, billing)
// ever looks at a vendor-specific shape again.
package unified

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Request is the canonical form of a chat/completion call, produced by
// parsing any of the four dialects.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	Tools      []Tool      `json:"tools,omitempty"`
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Reasoning      *Reasoning      `json:"reasoning,omitempty"`
	Modalities     []string        `json:"modalities,omitempty"`
	ImageConfig    *ImageConfig    `json:"image_config,omitempty"`

	// IncomingDialect records which wire dialect parsed this request, so the
	// dispatcher can prefer a pass-through provider dialect and tag usage
	// records with the dialect the caller actually used.
	IncomingDialect string `json:"-"`
}

// Message is one turn of the conversation. Content is either a plain string
// or an ordered list of Parts; exactly one of the two is populated.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Parts      []Part     `json:"parts,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Thinking   *Thinking  `json:"thinking,omitempty"`
}

// HasParts reports whether the message carries structured content parts
// rather than a plain string.
func (m Message) HasParts() bool { return len(m.Parts) > 0 }

// PartType tags the kind of content carried by a Part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a structured message content list.
type Part struct {
	Type PartType `json:"type"`

	Text string `json:"text,omitempty"`

	// Image fields: exactly one of URL or (MimeType+Base64Data) is set.
	MimeType   string `json:"mime_type,omitempty"`
	Base64Data string `json:"base64_data,omitempty"`
	URL        string `json:"url,omitempty"`

	// ToolResult fields.
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Thinking is an opaque reasoning block preserved across dialects that
// support extended/chain-of-thought output (Anthropic, Gemini, Responses).
type Thinking struct {
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

// Tool is a function the model may call.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolCall is a single invocation the assistant requested.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolChoiceMode enumerates the fixed tool-choice strategies. A ToolChoice
// with Mode == ToolChoiceFunction instead names a specific function.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function"
)

type ToolChoice struct {
	Mode         ToolChoiceMode `json:"mode"`
	FunctionName string         `json:"function_name,omitempty"`
}

type ResponseFormat struct {
	Type       string `json:"type"` // "text" | "json_object" | "json_schema"
	JSONSchema any    `json:"json_schema,omitempty"`
}

type Reasoning struct {
	Enabled   bool `json:"enabled"`
	MaxTokens int  `json:"max_tokens,omitempty"`
}

type ImageConfig struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// Usage is the normalized token/cost accounting for one request. Fields
// follow a simple normalizer rule across dialects: vendor-reported "cached"
// tokens are additive context, never subtracted from the base input count.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	ReasoningTokens     int `json:"reasoning_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	TotalTokens         int `json:"total_tokens"`
}

// Response is the canonical form of a completed (unary) model response.
type Response struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Message      Message    `json:"message"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
	Images       [][]byte   `json:"-"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkKind tags the payload carried by a StreamChunk.
type ChunkKind string

const (
	ChunkDeltaText     ChunkKind = "delta_text"
	ChunkDeltaThinking ChunkKind = "delta_thinking"
	ChunkToolCallDelta ChunkKind = "tool_call_delta"
	ChunkImagePart     ChunkKind = "image_part"
	ChunkUsage         ChunkKind = "usage"
	ChunkDone          ChunkKind = "done"
)

// StreamChunk is one tagged-variant element of a streamed response. Chunks
// are monotonic within a request: producers must not emit a chunk that
// contradicts an earlier one (e.g. two different finish reasons).
type StreamChunk struct {
	Kind ChunkKind `json:"kind"`

	DeltaText     string `json:"delta_text,omitempty"`
	DeltaThinking string `json:"delta_thinking,omitempty"`

	ToolCallIndex *int   `json:"tool_call_index,omitempty"`
	ToolCallName  string `json:"tool_call_name,omitempty"`
	ArgsDelta     string `json:"args_delta,omitempty"`

	Image []byte `json:"-"`

	Usage *Usage `json:"usage,omitempty"`

	FinishReason string `json:"finish_reason,omitempty"`
}
