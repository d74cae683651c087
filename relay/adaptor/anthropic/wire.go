// Package anthropic implements the Anthropic Messages wire dialect:
// https://docs.anthropic.com/en/api/messages, including its named SSE
// event taxonomy for streaming.
package anthropic

import "encoding/json"

// MessagesRequest is the Anthropic Messages request document. System is a
// top-level field here, never a message, unlike Chat/Gemini.
type MessagesRequest struct {
	Model       string          `json:"model"`
	System      json.RawMessage `json:"system,omitempty"`
	Messages    []Message       `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	StopSeqs    []string        `json:"stop_sequences,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	ToolChoice  *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
}

type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled" | "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Message struct {
	Role    string          `json:"role"` // user | assistant
	Content json.RawMessage `json:"content"`
}

// ContentBlock is the tagged union of a Messages content-array element:
// text, image, tool_use, tool_result, or thinking.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *ImageSource `json:"source,omitempty"`

	ID    string `json:"id,omitempty"`    // tool_use
	Name  string `json:"name,omitempty"`  // tool_use
	Input any    `json:"input,omitempty"` // tool_use, fully materialized

	ToolUseID string          `json:"tool_use_id,omitempty"` // tool_result
	Content   json.RawMessage `json:"content,omitempty"`     // tool_result: string | []ContentBlock
	IsError   bool            `json:"is_error,omitempty"`

	Thinking  string `json:"thinking,omitempty"`  // thinking
	Signature string `json:"signature,omitempty"` // thinking

	// PartialJSON is only populated on a content_block_delta of type
	// input_json_delta; never present on a materialized block.
	PartialJSON string `json:"partial_json,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

type ToolChoice struct {
	Type string `json:"type"` // auto | any | tool | none
	Name string `json:"name,omitempty"`
}

// MessagesResponse is the unary Messages response document.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage"`
}

type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// --- streaming event payload shapes ---

type EventMessageStart struct {
	Message MessagesResponse `json:"message"`
}

type EventContentBlockStart struct {
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

type EventContentBlockDelta struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`
}

// Delta is the tagged union of a content_block_delta payload: text_delta,
// input_json_delta, or thinking_delta/signature_delta.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
}

type EventContentBlockStop struct {
	Index int `json:"index"`
}

type EventMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage Usage `json:"usage"`
}
