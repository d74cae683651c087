package responses

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/unified"
)

func init() {
	dialect.Register(Transformer{})
}

// Transformer implements dialect.Transformer for the OpenAI Responses API.
type Transformer struct{}

func (Transformer) Name() dialect.Name { return dialect.Responses }

func (Transformer) EndpointPath(req *unified.Request) string {
	return "/v1/responses"
}

// ParseRequest converts a Responses request body into unified form.
func (t Transformer) ParseRequest(raw []byte) (*unified.Request, error) {
	var rr Request
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, dialect.NewParseError(dialect.Responses, "body", err.Error())
	}

	req := &unified.Request{
		Model: rr.Model, Stream: rr.Stream, Temperature: rr.Temperature, TopP: rr.TopP,
		MaxTokens: rr.MaxOutputTokens, IncomingDialect: string(dialect.Responses),
	}

	if rr.Instructions != "" {
		req.Messages = append(req.Messages, unified.Message{Role: unified.RoleSystem, Content: rr.Instructions})
	}

	msgs, err := parseInput(rr.Input)
	if err != nil {
		return nil, err
	}
	req.Messages = append(req.Messages, msgs...)

	for _, tl := range rr.Tools {
		req.Tools = append(req.Tools, unified.Tool{Name: tl.Name, Description: tl.Description, Parameters: tl.Parameters})
	}
	if rr.ToolChoice != nil {
		tc, err := parseToolChoice(rr.ToolChoice)
		if err != nil {
			return nil, err
		}
		req.ToolChoice = tc
	}
	if rr.Text != nil && rr.Text.Format != nil {
		req.ResponseFormat = &unified.ResponseFormat{Type: rr.Text.Format.Type, JSONSchema: rr.Text.Format.Schema}
	}
	if rr.Reasoning != nil {
		req.Reasoning = &unified.Reasoning{Enabled: rr.Reasoning.Effort != "" && rr.Reasoning.Effort != "none"}
	}

	return req, nil
}

func parseInput(raw json.RawMessage) ([]unified.Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []unified.Message{{Role: unified.RoleUser, Content: asString}}, nil
	}

	var items []InputItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, dialect.NewParseError(dialect.Responses, "input", "neither string nor item array")
	}

	var out []unified.Message
	for _, it := range items {
		switch it.Type {
		case "message", "":
			role, err := parseRole(it.Role)
			if err != nil {
				return nil, err
			}
			parts := make([]unified.Part, 0, len(it.Content))
			for _, c := range it.Content {
				switch c.Type {
				case "input_text", "output_text":
					parts = append(parts, unified.Part{Type: unified.PartText, Text: c.Text})
				case "input_image":
					parts = append(parts, unified.Part{Type: unified.PartImage, URL: c.ImageURL})
				default:
					return nil, dialect.NewParseError(dialect.Responses, "input[].content[].type", "unknown type "+c.Type)
				}
			}
			out = append(out, unified.Message{Role: role, Parts: parts})
		case "function_call_output":
			out = append(out, unified.Message{Role: unified.RoleTool, ToolCallID: it.CallID, Content: it.Output})
		case "reasoning":
			var text string
			for _, s := range it.Summary {
				text += s.Text
			}
			out = append(out, unified.Message{Role: unified.RoleAssistant, Thinking: &unified.Thinking{Content: text}})
		default:
			return nil, dialect.NewParseError(dialect.Responses, "input[].type", "unknown type "+it.Type)
		}
	}
	return out, nil
}

func parseRole(r string) (unified.Role, error) {
	switch r {
	case "user", "":
		return unified.RoleUser, nil
	case "assistant":
		return unified.RoleAssistant, nil
	case "system", "developer":
		return unified.RoleSystem, nil
	default:
		return "", dialect.NewParseError(dialect.Responses, "input[].role", "unknown role "+r)
	}
}

func parseToolChoice(raw any) (*unified.ToolChoice, error) {
	switch v := raw.(type) {
	case string:
		switch v {
		case "auto":
			return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}, nil
		case "none":
			return &unified.ToolChoice{Mode: unified.ToolChoiceNone}, nil
		case "required":
			return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}, nil
		default:
			return nil, dialect.NewParseError(dialect.Responses, "tool_choice", "unknown value "+v)
		}
	case map[string]any:
		name, _ := v["name"].(string)
		if name == "" {
			return nil, dialect.NewParseError(dialect.Responses, "tool_choice.name", "required")
		}
		return &unified.ToolChoice{Mode: unified.ToolChoiceFunction, FunctionName: name}, nil
	default:
		return nil, dialect.NewParseError(dialect.Responses, "tool_choice", "unsupported shape")
	}
}

// EmitRequest writes the unified request as Responses wire bytes. A
// leading unified system message is lifted into `instructions`, matching
// how this dialect represents system guidance outside the input array.
func (t Transformer) EmitRequest(req *unified.Request) ([]byte, error) {
	rr := Request{Model: req.Model, Stream: req.Stream, Temperature: req.Temperature, TopP: req.TopP, MaxOutputTokens: req.MaxTokens}

	msgs := req.Messages
	if len(msgs) > 0 && msgs[0].Role == unified.RoleSystem {
		rr.Instructions = msgs[0].Content
		msgs = msgs[1:]
	}

	items := make([]InputItem, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == unified.RoleTool {
			items = append(items, InputItem{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content})
			continue
		}
		items = append(items, InputItem{Type: "message", Role: emitRole(m.Role), Content: emitParts(m)})
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal responses input")
	}
	rr.Input = b

	for _, tl := range req.Tools {
		rr.Tools = append(rr.Tools, Tool{Type: "function", Name: tl.Name, Description: tl.Description, Parameters: tl.Parameters})
	}
	if req.ToolChoice != nil {
		rr.ToolChoice = emitToolChoice(*req.ToolChoice)
	}
	if req.ResponseFormat != nil {
		rr.Text = &TextConfig{Format: &ResponseFormat{Type: req.ResponseFormat.Type, Schema: req.ResponseFormat.JSONSchema}}
	}
	if req.Reasoning != nil && req.Reasoning.Enabled {
		rr.Reasoning = &ReasoningConfig{Effort: "medium"}
	}

	out, err := json.Marshal(rr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal responses request")
	}
	return out, nil
}

func emitRole(r unified.Role) string {
	if r == unified.RoleAssistant {
		return "assistant"
	}
	return "user"
}

func emitToolChoice(tc unified.ToolChoice) any {
	if tc.Mode == unified.ToolChoiceFunction {
		return map[string]any{"type": "function", "name": tc.FunctionName}
	}
	return string(tc.Mode)
}

func emitParts(m unified.Message) []ContentPart {
	textType := "input_text"
	if m.Role == unified.RoleAssistant {
		textType = "output_text"
	}
	var parts []ContentPart
	for _, p := range m.Parts {
		switch p.Type {
		case unified.PartText:
			parts = append(parts, ContentPart{Type: textType, Text: p.Text})
		case unified.PartImage:
			url := p.URL
			if url == "" {
				url = "data:" + p.MimeType + ";base64," + p.Base64Data
			}
			parts = append(parts, ContentPart{Type: "input_image", ImageURL: url})
		}
	}
	if m.Content != "" && !m.HasParts() {
		parts = append(parts, ContentPart{Type: textType, Text: m.Content})
	}
	return parts
}

// ParseResponse converts a unary Responses response into unified form.
func (t Transformer) ParseResponse(raw []byte) (*unified.Response, error) {
	var rr Response
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, dialect.NewParseError(dialect.Responses, "body", err.Error())
	}

	msg := unified.Message{Role: unified.RoleAssistant}
	var toolCalls []unified.ToolCall
	for i, item := range rr.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					msg.Parts = append(msg.Parts, unified.Part{Type: unified.PartText, Text: c.Text})
				}
			}
		case "function_call":
			toolCalls = append(toolCalls, unified.ToolCall{Index: i, ID: item.CallID, Name: item.Name, Arguments: item.Arguments})
		case "reasoning":
			var text string
			for _, s := range item.Summary {
				text += s.Text
			}
			msg.Thinking = &unified.Thinking{Content: text}
		}
	}
	msg.ToolCalls = toolCalls

	resp := &unified.Response{
		ID: rr.ID, Model: rr.Model, Message: msg, ToolCalls: toolCalls,
		FinishReason: mapStatus(rr.Status),
	}
	if rr.Usage != nil {
		resp.Usage = normalizeUsage(*rr.Usage)
	}
	return resp, nil
}

func mapStatus(s string) string {
	switch s {
	case "completed":
		return "stop"
	case "incomplete":
		return "length"
	case "failed":
		return "error"
	default:
		return s
	}
}

func unmapStatus(r string) string {
	switch r {
	case "stop":
		return "completed"
	case "length":
		return "incomplete"
	case "error":
		return "failed"
	default:
		return "completed"
	}
}

// normalizeUsage implements the spec's critical Responses normalizer rule:
// input_tokens already excludes cached tokens, cached_tokens is additive
// context (never subtracted), and total_tokens is the authoritative sum
// even when cached_tokens > input_tokens.
func normalizeUsage(u Usage) unified.Usage {
	out := unified.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
	if u.InputTokensDetails != nil {
		out.CacheReadTokens = u.InputTokensDetails.CachedTokens
	}
	if u.OutputTokensDetails != nil {
		out.ReasoningTokens = u.OutputTokensDetails.ReasoningTokens
	}
	return out
}

func (t Transformer) ParseUsage(raw []byte) (unified.Usage, error) {
	var u Usage
	if err := json.Unmarshal(raw, &u); err != nil {
		return unified.Usage{}, dialect.NewParseError(dialect.Responses, "usage", err.Error())
	}
	return normalizeUsage(u), nil
}

// EmitResponse writes the unified response as a Responses unary body.
func (t Transformer) EmitResponse(resp *unified.Response) ([]byte, error) {
	rr := Response{ID: resp.ID, Model: resp.Model, Status: unmapStatus(resp.FinishReason)}

	if len(resp.Message.Parts) > 0 || resp.Message.Content != "" {
		rr.Output = append(rr.Output, OutputItem{Type: "message", Role: "assistant", Content: emitParts(resp.Message)})
	}
	for _, tc := range resp.ToolCalls {
		rr.Output = append(rr.Output, OutputItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}

	rr.Usage = &Usage{
		InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens,
		InputTokensDetails:  &InputTokensDetails{CachedTokens: resp.Usage.CacheReadTokens},
		OutputTokensDetails: &OutputTokensDetails{ReasoningTokens: resp.Usage.ReasoningTokens},
	}

	out, err := json.Marshal(rr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal responses response")
	}
	return out, nil
}
