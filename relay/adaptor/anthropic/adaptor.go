package anthropic

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/unified"
)

func init() {
	dialect.Register(Transformer{})
}

// Transformer implements dialect.Transformer for Anthropic Messages.
type Transformer struct{}

func (Transformer) Name() dialect.Name { return dialect.Messages }

func (Transformer) EndpointPath(req *unified.Request) string {
	return "/v1/messages"
}

// ParseRequest converts a Messages request body into unified form. System
// is lifted out of the top-level field (never a message on this dialect)
// into a leading unified system message, matching how the other three
// dialects represent it.
func (t Transformer) ParseRequest(raw []byte) (*unified.Request, error) {
	var mr MessagesRequest
	if err := json.Unmarshal(raw, &mr); err != nil {
		return nil, dialect.NewParseError(dialect.Messages, "body", err.Error())
	}

	req := &unified.Request{
		Model:           mr.Model,
		Stream:          mr.Stream,
		Temperature:     mr.Temperature,
		TopP:            mr.TopP,
		Stop:            mr.StopSeqs,
		MaxTokens:       &mr.MaxTokens,
		IncomingDialect: string(dialect.Messages),
	}

	if len(mr.System) > 0 {
		sysMsg, err := parseSystem(mr.System)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, sysMsg)
	}

	for _, m := range mr.Messages {
		msgs, err := parseMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msgs...)
	}

	for _, tl := range mr.Tools {
		req.Tools = append(req.Tools, unified.Tool{Name: tl.Name, Description: tl.Description, Parameters: tl.InputSchema})
	}

	if mr.ToolChoice != nil {
		tc, err := parseToolChoice(*mr.ToolChoice)
		if err != nil {
			return nil, err
		}
		req.ToolChoice = tc
	}

	if mr.Thinking != nil && mr.Thinking.Type == "enabled" {
		req.Reasoning = &unified.Reasoning{Enabled: true, MaxTokens: mr.Thinking.BudgetTokens}
	}

	return req, nil
}

func parseSystem(raw json.RawMessage) (unified.Message, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return unified.Message{Role: unified.RoleSystem, Content: asString}, nil
	}

	var blocks []SystemBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return unified.Message{}, dialect.NewParseError(dialect.Messages, "system", "neither string nor text-block array")
	}
	parts := make([]unified.Part, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, unified.Part{Type: unified.PartText, Text: b.Text})
	}
	return unified.Message{Role: unified.RoleSystem, Parts: parts}, nil
}

func parseToolChoice(tc ToolChoice) (*unified.ToolChoice, error) {
	switch tc.Type {
	case "auto":
		return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}, nil
	case "none":
		return &unified.ToolChoice{Mode: unified.ToolChoiceNone}, nil
	case "any":
		return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}, nil
	case "tool":
		if tc.Name == "" {
			return nil, dialect.NewParseError(dialect.Messages, "tool_choice.name", "required when type=tool")
		}
		return &unified.ToolChoice{Mode: unified.ToolChoiceFunction, FunctionName: tc.Name}, nil
	default:
		return nil, dialect.NewParseError(dialect.Messages, "tool_choice.type", "unknown value "+tc.Type)
	}
}

// parseMessage expands one Messages turn into one or more unified messages:
// a user turn with tool_result blocks becomes role=tool messages, and an
// assistant turn with tool_use blocks carries ToolCalls.
func parseMessage(m Message) ([]unified.Message, error) {
	role, err := parseRole(m.Role)
	if err != nil {
		return nil, err
	}

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		return []unified.Message{{Role: role, Content: asString}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, dialect.NewParseError(dialect.Messages, "messages[].content", "neither string nor block array")
	}

	var parts []unified.Part
	var toolCalls []unified.ToolCall
	var toolResults []unified.Message
	var thinking *unified.Thinking

	for i, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, unified.Part{Type: unified.PartText, Text: b.Text})
		case "image":
			p := unified.Part{Type: unified.PartImage}
			if b.Source != nil {
				if b.Source.Type == "url" {
					p.URL = b.Source.URL
				} else {
					p.MimeType = b.Source.MediaType
					p.Base64Data = b.Source.Data
				}
			}
			parts = append(parts, p)
		case "tool_use":
			args, _ := json.Marshal(b.Input)
			toolCalls = append(toolCalls, unified.ToolCall{Index: i, ID: b.ID, Name: b.Name, Arguments: string(args)})
		case "tool_result":
			text := extractToolResultText(b.Content)
			toolResults = append(toolResults, unified.Message{Role: unified.RoleTool, ToolCallID: b.ToolUseID, Content: text})
		case "thinking":
			thinking = &unified.Thinking{Content: b.Thinking, Signature: b.Signature}
		case "redacted_thinking":
			thinking = &unified.Thinking{Content: b.Thinking}
		default:
			return nil, dialect.NewParseError(dialect.Messages, "messages[].content[].type", "unknown block type "+b.Type)
		}
	}

	if len(toolResults) > 0 {
		return toolResults, nil
	}

	out := []unified.Message{{Role: role, Parts: parts, ToolCalls: toolCalls, Thinking: thinking}}
	return out, nil
}

func extractToolResultText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []ContentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var out string
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return ""
}

func parseRole(r string) (unified.Role, error) {
	switch r {
	case "user":
		return unified.RoleUser, nil
	case "assistant":
		return unified.RoleAssistant, nil
	default:
		return "", dialect.NewParseError(dialect.Messages, "messages[].role", "unknown role "+r)
	}
}

// EmitRequest writes the unified request as Messages wire bytes: the
// leading unified system message (if any) is lifted back out to the
// top-level `system` field, and each tool result becomes a tool_result
// block on its own user turn.
func (t Transformer) EmitRequest(req *unified.Request) ([]byte, error) {
	mr := MessagesRequest{Model: req.Model, Stream: req.Stream, Temperature: req.Temperature, TopP: req.TopP, StopSeqs: req.Stop}
	if req.MaxTokens != nil {
		mr.MaxTokens = *req.MaxTokens
	} else {
		mr.MaxTokens = 4096
	}

	msgs := req.Messages
	if len(msgs) > 0 && msgs[0].Role == unified.RoleSystem {
		b, _ := json.Marshal(msgs[0].Content)
		mr.System = b
		msgs = msgs[1:]
	}

	mr.Messages = emitMessages(msgs)

	for _, tl := range req.Tools {
		mr.Tools = append(mr.Tools, Tool{Name: tl.Name, Description: tl.Description, InputSchema: tl.Parameters})
	}
	if req.ToolChoice != nil {
		mr.ToolChoice = emitToolChoice(*req.ToolChoice)
	}
	if req.Reasoning != nil && req.Reasoning.Enabled {
		mr.Thinking = &ThinkingConfig{Type: "enabled", BudgetTokens: req.Reasoning.MaxTokens}
	}

	out, err := json.Marshal(mr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal messages request")
	}
	return out, nil
}

func emitToolChoice(tc unified.ToolChoice) *ToolChoice {
	switch tc.Mode {
	case unified.ToolChoiceAuto:
		return &ToolChoice{Type: "auto"}
	case unified.ToolChoiceNone:
		return &ToolChoice{Type: "none"}
	case unified.ToolChoiceRequired:
		return &ToolChoice{Type: "any"}
	case unified.ToolChoiceFunction:
		return &ToolChoice{Type: "tool", Name: tc.FunctionName}
	}
	return nil
}

// emitMessages turns each unified role=tool message into one tool_result
// block on its own synthetic user turn, the inverse of parseMessage's
// expansion. Consecutive same-role turns are not merged (Anthropic allows
// consecutive user turns).
func emitMessages(msgs []unified.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == unified.RoleTool {
			block := ContentBlock{Type: "tool_result", ToolUseID: m.ToolCallID}
			textJSON, _ := json.Marshal(m.Content)
			block.Content = textJSON
			blocks := []ContentBlock{block}
			b, _ := json.Marshal(blocks)
			out = append(out, Message{Role: "user", Content: b})
			continue
		}

		role := "user"
		if m.Role == unified.RoleAssistant {
			role = "assistant"
		}

		if !m.HasParts() && len(m.ToolCalls) == 0 && m.Thinking == nil {
			b, _ := json.Marshal(m.Content)
			out = append(out, Message{Role: role, Content: b})
			continue
		}

		var blocks []ContentBlock
		if m.Thinking != nil {
			blocks = append(blocks, ContentBlock{Type: "thinking", Thinking: m.Thinking.Content, Signature: m.Thinking.Signature})
		}
		for _, p := range m.Parts {
			switch p.Type {
			case unified.PartText:
				blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
			case unified.PartImage:
				src := &ImageSource{}
				if p.URL != "" {
					src.Type, src.URL = "url", p.URL
				} else {
					src.Type, src.MediaType, src.Data = "base64", p.MimeType, p.Base64Data
				}
				blocks = append(blocks, ContentBlock{Type: "image", Source: src})
			}
		}
		if m.Content != "" && !m.HasParts() {
			blocks = append(blocks, ContentBlock{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Arguments), &input)
			blocks = append(blocks, ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
		}

		b, _ := json.Marshal(blocks)
		out = append(out, Message{Role: role, Content: b})
	}
	return out
}

// ParseResponse converts a unary Messages response into unified form.
func (t Transformer) ParseResponse(raw []byte) (*unified.Response, error) {
	var mr MessagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return nil, dialect.NewParseError(dialect.Messages, "body", err.Error())
	}

	msg := unified.Message{Role: unified.RoleAssistant}
	var toolCalls []unified.ToolCall
	for i, b := range mr.Content {
		switch b.Type {
		case "text":
			msg.Parts = append(msg.Parts, unified.Part{Type: unified.PartText, Text: b.Text})
		case "thinking":
			msg.Thinking = &unified.Thinking{Content: b.Thinking, Signature: b.Signature}
		case "tool_use":
			args, _ := json.Marshal(b.Input)
			toolCalls = append(toolCalls, unified.ToolCall{Index: i, ID: b.ID, Name: b.Name, Arguments: string(args)})
		}
	}
	msg.ToolCalls = toolCalls

	return &unified.Response{
		ID: mr.ID, Model: mr.Model, Message: msg, ToolCalls: toolCalls,
		FinishReason: mapStopReason(mr.StopReason),
		Usage:        normalizeUsage(mr.Usage),
	}, nil
}

func mapStopReason(r string) string {
	switch r {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return r
	}
}

// normalizeUsage keeps cache_creation/cache_read as separate billable
// lines, distinct from input_tokens, per the spec's Anthropic normalizer
// rule.
func normalizeUsage(u Usage) unified.Usage {
	return unified.Usage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheCreationTokens: u.CacheCreationInputTokens,
		CacheReadTokens:     u.CacheReadInputTokens,
		TotalTokens:         u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens,
	}
}

func (t Transformer) ParseUsage(raw []byte) (unified.Usage, error) {
	var u Usage
	if err := json.Unmarshal(raw, &u); err != nil {
		return unified.Usage{}, dialect.NewParseError(dialect.Messages, "usage", err.Error())
	}
	return normalizeUsage(u), nil
}

// EmitResponse writes the unified response as a Messages unary body.
func (t Transformer) EmitResponse(resp *unified.Response) ([]byte, error) {
	mr := MessagesResponse{
		ID: resp.ID, Model: resp.Model, Role: "assistant",
		StopReason: unmapStopReason(resp.FinishReason),
		Usage: Usage{
			InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens,
			CacheCreationInputTokens: resp.Usage.CacheCreationTokens, CacheReadInputTokens: resp.Usage.CacheReadTokens,
		},
	}

	if resp.Message.Thinking != nil {
		mr.Content = append(mr.Content, ContentBlock{Type: "thinking", Thinking: resp.Message.Thinking.Content, Signature: resp.Message.Thinking.Signature})
	}
	for _, p := range resp.Message.Parts {
		if p.Type == unified.PartText {
			mr.Content = append(mr.Content, ContentBlock{Type: "text", Text: p.Text})
		}
	}
	if resp.Message.Content != "" {
		mr.Content = append(mr.Content, ContentBlock{Type: "text", Text: resp.Message.Content})
	}
	for _, tc := range resp.ToolCalls {
		var input any
		_ = json.Unmarshal([]byte(tc.Arguments), &input)
		mr.Content = append(mr.Content, ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}

	out, err := json.Marshal(mr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal messages response")
	}
	return out, nil
}

func unmapStopReason(r string) string {
	switch r {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return r
	}
}
