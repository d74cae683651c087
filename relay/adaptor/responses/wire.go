// Package responses implements the OpenAI Responses API wire dialect:
// https://platform.openai.com/docs/api-reference/responses, including its
// multi-event streaming lifecycle (response.created .. response.completed).
package responses

import "encoding/json"

// Request is the Responses API request document. Input is either a bare
// string or a structured list of InputItem, matching the "string | array"
// union OpenAI documents.
type Request struct {
	Model           string          `json:"model"`
	Input           json.RawMessage `json:"input"`
	Instructions    string          `json:"instructions,omitempty"`
	Tools           []Tool          `json:"tools,omitempty"`
	ToolChoice      any             `json:"tool_choice,omitempty"`
	MaxOutputTokens *int            `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Text            *TextConfig     `json:"text,omitempty"`
	Reasoning       *ReasoningConfig `json:"reasoning,omitempty"`
}

type TextConfig struct {
	Format *ResponseFormat `json:"format,omitempty"`
}

type ResponseFormat struct {
	Type   string `json:"type"`
	Schema any    `json:"schema,omitempty"`
}

type ReasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// InputItem is one element of a structured `input` array: a role-tagged
// message with content parts, or a function_call_output feeding a prior
// tool call's result back in.
type InputItem struct {
	Type string `json:"type"` // "message" | "function_call_output" | "reasoning"

	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`

	// reasoning passthrough
	Summary []ContentPart `json:"summary,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"` // input_text | input_image | output_text

	Text string `json:"text,omitempty"`

	ImageURL string `json:"image_url,omitempty"`
}

type Tool struct {
	Type        string `json:"type"` // "function"
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Response is the unary Responses API response document.
type Response struct {
	ID     string       `json:"id"`
	Model  string        `json:"model"`
	Status string        `json:"status,omitempty"` // completed | incomplete | failed
	Output []OutputItem  `json:"output"`
	Usage  *Usage        `json:"usage,omitempty"`
}

// OutputItem is a message (assistant text) or a function_call.
type OutputItem struct {
	Type string `json:"type"` // "message" | "function_call" | "reasoning"

	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Summary []ContentPart `json:"summary,omitempty"`
}

type Usage struct {
	InputTokens         int                  `json:"input_tokens"`
	OutputTokens        int                  `json:"output_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	InputTokensDetails  *InputTokensDetails  `json:"input_tokens_details,omitempty"`
	OutputTokensDetails *OutputTokensDetails `json:"output_tokens_details,omitempty"`
}

type InputTokensDetails struct {
	CachedTokens int `json:"cached_tokens,omitempty"`
}

type OutputTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// --- streaming event payload shapes ---

type EventResponseEnvelope struct {
	Response Response `json:"response"`
}

type EventOutputItemAdded struct {
	OutputIndex int        `json:"output_index"`
	Item        OutputItem `json:"item"`
}

type EventOutputItemDone struct {
	OutputIndex int        `json:"output_index"`
	Item        OutputItem `json:"item"`
}

type EventOutputTextDelta struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type EventReasoningTextDelta struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type EventFunctionCallArgumentsDelta struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}
