// Package openai implements the OpenAI Chat Completions wire dialect:
// parsing/emitting the request and response document shapes at
// https://platform.openai.com/docs/api-reference/chat, and reshaping the
// `choices[0].delta` streaming format to and from the unified model.
package openai

import "encoding/json"

// ChatRequest is the Chat Completions request document.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Tools          []ChatTool      `json:"tools,omitempty"`
	ToolChoice     any             `json:"tool_choice,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Stop           any             `json:"stop,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *StreamOptions  `json:"stream_options,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Modalities     []string        `json:"modalities,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

type ResponseFormat struct {
	Type       string `json:"type"`
	JSONSchema any    `json:"json_schema,omitempty"`
}

// ChatMessage is one turn. Content is either a bare string or an array of
// ChatContentPart, matching OpenAI's "string | array" union.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []ChatToolCall  `json:"tool_calls,omitempty"`
}

type ChatContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

type ChatFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type ChatToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ChatToolCallFunc `json:"function"`
}

type ChatToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatResponse is the unary Chat Completions response document.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type ChatUsage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens             int                      `json:"total_tokens"`
	PromptTokensDetails     *ChatPromptTokenDetails  `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *ChatCompletionTokenDetail `json:"completion_tokens_details,omitempty"`
}

type ChatPromptTokenDetails struct {
	CachedTokens int `json:"cached_tokens,omitempty"`
}

type ChatCompletionTokenDetail struct {
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// ChatStreamChunk is one `data:` payload of a Chat Completions SSE stream.
type ChatStreamChunk struct {
	ID      string            `json:"id"`
	Model   string            `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
	Usage   *ChatUsage        `json:"usage,omitempty"`
}

type ChatStreamChoice struct {
	Index        int           `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type ChatStreamDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}
