package openai

import (
	"bytes"
	"encoding/json"

	"github.com/Laisky/errors/v2"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/unified"
)

func init() {
	dialect.Register(Transformer{})
}

// Transformer implements dialect.Transformer for OpenAI Chat Completions.
type Transformer struct{}

func (Transformer) Name() dialect.Name { return dialect.Chat }

func (Transformer) EndpointPath(req *unified.Request) string {
	return "/v1/chat/completions"
}

// ParseRequest converts a Chat Completions request body into the unified
// form. Unknown top-level fields are ignored by json.Unmarshal; unknown
// tool_choice/role values fail rather than silently coerce.
func (t Transformer) ParseRequest(raw []byte) (*unified.Request, error) {
	var cr ChatRequest
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, dialect.NewParseError(dialect.Chat, "body", err.Error())
	}

	messages := make([]unified.Message, 0, len(cr.Messages))
	for _, m := range cr.Messages {
		um, err := parseChatMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, um)
	}

	req := &unified.Request{
		Model:           cr.Model,
		Messages:        messages,
		Stream:          cr.Stream,
		Temperature:     cr.Temperature,
		TopP:            cr.TopP,
		MaxTokens:       cr.MaxTokens,
		IncomingDialect: string(dialect.Chat),
	}

	if len(cr.Tools) > 0 {
		req.Tools = make([]unified.Tool, 0, len(cr.Tools))
		for _, tl := range cr.Tools {
			req.Tools = append(req.Tools, unified.Tool{
				Name:        tl.Function.Name,
				Description: tl.Function.Description,
				Parameters:  tl.Function.Parameters,
			})
		}
	}

	if cr.ToolChoice != nil {
		tc, err := parseToolChoice(cr.ToolChoice)
		if err != nil {
			return nil, err
		}
		req.ToolChoice = tc
	}

	if cr.Stop != nil {
		switch v := cr.Stop.(type) {
		case string:
			req.Stop = []string{v}
		case []any:
			for _, s := range v {
				if str, ok := s.(string); ok {
					req.Stop = append(req.Stop, str)
				}
			}
		default:
			return nil, dialect.NewParseError(dialect.Chat, "stop", "must be string or array of strings")
		}
	}

	if cr.ResponseFormat != nil {
		req.ResponseFormat = &unified.ResponseFormat{Type: cr.ResponseFormat.Type, JSONSchema: cr.ResponseFormat.JSONSchema}
	}
	if len(cr.Modalities) > 0 {
		req.Modalities = cr.Modalities
	}

	return req, nil
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
			return nil, dialect.NewParseError(dialect.Chat, "tool_choice", "unknown value "+v)
		}
	case map[string]any:
		fn, _ := v["function"].(map[string]any)
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, dialect.NewParseError(dialect.Chat, "tool_choice", "function.name is required")
		}
		return &unified.ToolChoice{Mode: unified.ToolChoiceFunction, FunctionName: name}, nil
	default:
		return nil, dialect.NewParseError(dialect.Chat, "tool_choice", "unsupported shape")
	}
}

func parseChatMessage(m ChatMessage) (unified.Message, error) {
	role, err := parseRole(m.Role)
	if err != nil {
		return unified.Message{}, err
	}

	um := unified.Message{Role: role, Name: m.Name, ToolCallID: m.ToolCallID}

	if len(m.Content) > 0 {
		var asString string
		if err := json.Unmarshal(m.Content, &asString); err == nil {
			um.Content = asString
		} else {
			var parts []ChatContentPart
			if err := json.Unmarshal(m.Content, &parts); err != nil {
				return unified.Message{}, dialect.NewParseError(dialect.Chat, "messages[].content", "neither string nor part array")
			}
			um.Parts = make([]unified.Part, 0, len(parts))
			for _, p := range parts {
				switch p.Type {
				case "text":
					um.Parts = append(um.Parts, unified.Part{Type: unified.PartText, Text: p.Text})
				case "image_url":
					if p.ImageURL == nil {
						return unified.Message{}, dialect.NewParseError(dialect.Chat, "messages[].content[].image_url", "missing")
					}
					um.Parts = append(um.Parts, unified.Part{Type: unified.PartImage, URL: p.ImageURL.URL})
				default:
					return unified.Message{}, dialect.NewParseError(dialect.Chat, "messages[].content[].type", "unknown part type "+p.Type)
				}
			}
		}
	}

	if len(m.ToolCalls) > 0 {
		um.ToolCalls = make([]unified.ToolCall, 0, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			um.ToolCalls = append(um.ToolCalls, unified.ToolCall{
				Index:     idx,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	return um, nil
}

func parseRole(r string) (unified.Role, error) {
	switch r {
	case "system", "developer":
		return unified.RoleSystem, nil
	case "user":
		return unified.RoleUser, nil
	case "assistant":
		return unified.RoleAssistant, nil
	case "tool", "function":
		return unified.RoleTool, nil
	default:
		return "", dialect.NewParseError(dialect.Chat, "messages[].role", "unknown role "+r)
	}
}

// EmitRequest writes the unified request as Chat Completions wire bytes,
// the shape used both for outgoing provider calls (when the chosen
// upstream dialect is Chat) and as the reference round-trip target for
// ParseRequest.
func (t Transformer) EmitRequest(req *unified.Request) ([]byte, error) {
	cr := ChatRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	if req.Stream {
		cr.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	for _, m := range req.Messages {
		cr.Messages = append(cr.Messages, emitChatMessage(m))
	}

	for _, tl := range req.Tools {
		cr.Tools = append(cr.Tools, ChatTool{Type: "function", Function: ChatFunction{
			Name: tl.Name, Description: tl.Description, Parameters: tl.Parameters,
		}})
	}

	if req.ToolChoice != nil {
		cr.ToolChoice = emitToolChoice(*req.ToolChoice)
	}
	if len(req.Stop) == 1 {
		cr.Stop = req.Stop[0]
	} else if len(req.Stop) > 1 {
		cr.Stop = req.Stop
	}
	if req.ResponseFormat != nil {
		cr.ResponseFormat = &ResponseFormat{Type: req.ResponseFormat.Type, JSONSchema: req.ResponseFormat.JSONSchema}
	}
	if len(req.Modalities) > 0 {
		cr.Modalities = req.Modalities
	}

	out, err := json.Marshal(cr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat completions request")
	}
	return out, nil
}

func emitToolChoice(tc unified.ToolChoice) any {
	switch tc.Mode {
	case unified.ToolChoiceFunction:
		return map[string]any{"type": "function", "function": map[string]any{"name": tc.FunctionName}}
	default:
		return string(tc.Mode)
	}
}

func emitChatMessage(m unified.Message) ChatMessage {
	cm := ChatMessage{Role: emitRole(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}

	switch {
	case m.HasParts():
		parts := make([]ChatContentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case unified.PartText:
				parts = append(parts, ChatContentPart{Type: "text", Text: p.Text})
			case unified.PartImage:
				url := p.URL
				if url == "" {
					url = "data:" + p.MimeType + ";base64," + p.Base64Data
				}
				parts = append(parts, ChatContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
			}
		}
		b, _ := json.Marshal(parts)
		cm.Content = b
	case m.Content != "":
		b, _ := json.Marshal(m.Content)
		cm.Content = b
	}

	for _, tc := range m.ToolCalls {
		idx := tc.Index
		cm.ToolCalls = append(cm.ToolCalls, ChatToolCall{
			Index: &idx, ID: tc.ID, Type: "function",
			Function: ChatToolCallFunc{Name: tc.Name, Arguments: tc.Arguments},
		})
	}

	return cm
}

func emitRole(r unified.Role) string {
	switch r {
	case unified.RoleSystem:
		return "system"
	case unified.RoleTool:
		return "tool"
	case unified.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

// ParseResponse converts a unary Chat Completions response into unified form.
func (t Transformer) ParseResponse(raw []byte) (*unified.Response, error) {
	var cr ChatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, dialect.NewParseError(dialect.Chat, "body", err.Error())
	}
	if len(cr.Choices) == 0 {
		return nil, dialect.NewParseError(dialect.Chat, "choices", "empty")
	}

	choice := cr.Choices[0]
	msg, err := parseChatMessage(choice.Message)
	if err != nil {
		return nil, err
	}

	resp := &unified.Response{
		ID:           cr.ID,
		Model:        cr.Model,
		Message:      msg,
		ToolCalls:    msg.ToolCalls,
		FinishReason: choice.FinishReason,
	}
	if cr.Usage != nil {
		resp.Usage = normalizeUsage(*cr.Usage)
	}
	return resp, nil
}

func normalizeUsage(u ChatUsage) unified.Usage {
	out := unified.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CacheReadTokens = u.PromptTokensDetails.CachedTokens
	}
	if u.CompletionTokensDetails != nil {
		out.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	return out
}

func (t Transformer) ParseUsage(raw []byte) (unified.Usage, error) {
	var u ChatUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return unified.Usage{}, dialect.NewParseError(dialect.Chat, "usage", err.Error())
	}
	return normalizeUsage(u), nil
}

// EmitResponse writes the unified response as a Chat Completions unary body.
func (t Transformer) EmitResponse(resp *unified.Response) ([]byte, error) {
	cr := ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      emitChatMessage(resp.Message),
			FinishReason: resp.FinishReason,
		}},
	}
	if resp.Usage != (unified.Usage{}) {
		cr.Usage = denormalizeUsage(resp.Usage)
	}
	out, err := json.Marshal(cr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal chat completions response")
	}
	return out, nil
}

func denormalizeUsage(u unified.Usage) *ChatUsage {
	cu := &ChatUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.CacheReadTokens > 0 {
		cu.PromptTokensDetails = &ChatPromptTokenDetails{CachedTokens: u.CacheReadTokens}
	}
	if u.ReasoningTokens > 0 {
		cu.CompletionTokensDetails = &ChatCompletionTokenDetail{ReasoningTokens: u.ReasoningTokens}
	}
	return cu
}

// ParseStreamChunk converts one raw Chat Completions SSE data payload into
// a unified chunk. The `[DONE]` sentinel yields no chunk: the client
// dialect's stream encoder (NewStreamEncoder) produces the client's own
// terminator.
func (t Transformer) ParseStreamChunk(ev dialect.StreamEvent) (*unified.StreamChunk, bool, error) {
	if bytes.Equal(bytes.TrimSpace(ev.Data), []byte("[DONE]")) {
		return nil, false, nil
	}

	var sc ChatStreamChunk
	if err := json.Unmarshal(ev.Data, &sc); err != nil {
		return nil, false, dialect.NewParseError(dialect.Chat, "stream chunk", err.Error())
	}

	if sc.Usage != nil && len(sc.Choices) == 0 {
		u := normalizeUsage(*sc.Usage)
		return &unified.StreamChunk{Kind: unified.ChunkUsage, Usage: &u}, true, nil
	}

	if len(sc.Choices) == 0 {
		return nil, false, nil
	}
	choice := sc.Choices[0]

	if choice.FinishReason != "" {
		return &unified.StreamChunk{Kind: unified.ChunkDone, FinishReason: choice.FinishReason}, true, nil
	}

	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		return &unified.StreamChunk{
			Kind:          unified.ChunkToolCallDelta,
			ToolCallIndex: &idx,
			ToolCallName:  tc.Function.Name,
			ArgsDelta:     tc.Function.Arguments,
		}, true, nil
	}

	if choice.Delta.Content != "" {
		return &unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: choice.Delta.Content}, true, nil
	}

	return nil, false, nil
}

// streamEncoder is stateless for Chat Completions: every delta chunk maps
// to one self-contained `choices[0].delta` payload with no cross-chunk
// framing to track.
type streamEncoder struct{}

func (Transformer) NewStreamEncoder() dialect.StreamEncoder { return streamEncoder{} }

// Encode converts one unified chunk into the Chat Completions SSE events
// required on the client side, including the [DONE] terminator.
func (streamEncoder) Encode(chunk *unified.StreamChunk) ([]dialect.StreamEvent, error) {
	switch chunk.Kind {
	case unified.ChunkDeltaText:
		sc := ChatStreamChunk{Choices: []ChatStreamChoice{{Delta: ChatStreamDelta{Content: chunk.DeltaText}}}}
		b, _ := json.Marshal(sc)
		return []dialect.StreamEvent{{Data: b}}, nil
	case unified.ChunkToolCallDelta:
		idx := 0
		if chunk.ToolCallIndex != nil {
			idx = *chunk.ToolCallIndex
		}
		sc := ChatStreamChunk{Choices: []ChatStreamChoice{{Delta: ChatStreamDelta{ToolCalls: []ChatToolCall{{
			Index: &idx, Function: ChatToolCallFunc{Name: chunk.ToolCallName, Arguments: chunk.ArgsDelta},
		}}}}}}
		b, _ := json.Marshal(sc)
		return []dialect.StreamEvent{{Data: b}}, nil
	case unified.ChunkUsage:
		sc := ChatStreamChunk{Usage: denormalizeUsage(*chunk.Usage)}
		b, _ := json.Marshal(sc)
		return []dialect.StreamEvent{{Data: b}}, nil
	case unified.ChunkDone:
		sc := ChatStreamChunk{Choices: []ChatStreamChoice{{Delta: ChatStreamDelta{}, FinishReason: chunk.FinishReason}}}
		b, _ := json.Marshal(sc)
		return []dialect.StreamEvent{
			{Data: b},
			{Data: []byte("[DONE]")},
		}, nil
	case unified.ChunkDeltaThinking, unified.ChunkImagePart:
		// Chat Completions has no wire shape for thinking/image deltas; drop.
		return nil, nil
	default:
		return nil, nil
	}
}

// ReconstructFromStream concatenates a full raw Chat Completions SSE byte
// stream into the Response it would have produced unary. Pure and
// deterministic: used for usage fallback and debug tooling.
func (t Transformer) ReconstructFromStream(raw []byte) (*unified.Response, error) {
	var text bytes.Buffer
	toolCalls := map[int]*unified.ToolCall{}
	var order []int
	var finish string
	var usage unified.Usage
	var id, model string

	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(data, []byte("[DONE]")) || len(data) == 0 {
			continue
		}

		var sc ChatStreamChunk
		if err := json.Unmarshal(data, &sc); err != nil {
			continue
		}
		if sc.ID != "" {
			id = sc.ID
		}
		if sc.Model != "" {
			model = sc.Model
		}
		if sc.Usage != nil {
			usage = normalizeUsage(*sc.Usage)
		}
		if len(sc.Choices) == 0 {
			continue
		}
		choice := sc.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		text.WriteString(choice.Delta.Content)
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			cur, ok := toolCalls[idx]
			if !ok {
				cur = &unified.ToolCall{Index: idx}
				toolCalls[idx] = cur
				order = append(order, idx)
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Name += tc.Function.Name
			}
			cur.Arguments += tc.Function.Arguments
		}
	}

	resp := &unified.Response{
		ID: id, Model: model, FinishReason: finish, Usage: usage,
		Message: unified.Message{Role: unified.RoleAssistant, Content: text.String()},
	}
	for _, idx := range order {
		resp.ToolCalls = append(resp.ToolCalls, *toolCalls[idx])
	}
	resp.Message.ToolCalls = resp.ToolCalls
	return resp, nil
}
