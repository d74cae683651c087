package gemini

import (
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/unified"
)

func init() {
	dialect.Register(Transformer{})
}

// Transformer implements dialect.Transformer for Google Gemini.
type Transformer struct{}

func (Transformer) Name() dialect.Name { return dialect.Gemini }

// EndpointPath preserves an existing "models/" or "tunedModels/" prefix on
// the model name, defaulting to "models/" when absent, and switches to the
// SSE streaming method when the request asks for it.
func (t Transformer) EndpointPath(req *unified.Request) string {
	name := req.Model
	if !strings.HasPrefix(name, "models/") && !strings.HasPrefix(name, "tunedModels/") {
		name = "models/" + name
	}
	if req.Stream {
		return "/v1beta/" + name + ":streamGenerateContent?alt=sse"
	}
	return "/v1beta/" + name + ":generateContent"
}

// ParseRequest converts a Gemini request body into unified form. The
// model name itself does not appear in the body (it's part of the URL
// path); callers that need it should set req.Model from the path segment
// after parsing, as the dispatcher does.
func (t Transformer) ParseRequest(raw []byte) (*unified.Request, error) {
	var gr GenerateContentRequest
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, dialect.NewParseError(dialect.Gemini, "body", err.Error())
	}

	req := &unified.Request{IncomingDialect: string(dialect.Gemini)}

	for _, c := range gr.Contents {
		msgs, err := parseContent(c)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msgs...)
	}

	for _, tl := range gr.Tools {
		for _, fd := range tl.FunctionDeclarations {
			req.Tools = append(req.Tools, unified.Tool{Name: fd.Name, Description: fd.Description, Parameters: fd.Parameters})
		}
	}

	if gr.ToolConfig != nil && gr.ToolConfig.FunctionCallingConfig != nil {
		tc, err := parseToolConfig(*gr.ToolConfig.FunctionCallingConfig)
		if err != nil {
			return nil, err
		}
		req.ToolChoice = tc
	}

	if gr.GenerationConfig != nil {
		gc := gr.GenerationConfig
		req.MaxTokens = gc.MaxOutputTokens
		req.Temperature = gc.Temperature
		req.TopP = gc.TopP
		req.Stop = gc.StopSequences
		if gc.ResponseMimeType == "application/json" {
			req.ResponseFormat = &unified.ResponseFormat{Type: "json_schema", JSONSchema: gc.ResponseJSONSchema}
		}
		if gc.ThinkingConfig != nil {
			req.Reasoning = &unified.Reasoning{Enabled: gc.ThinkingConfig.IncludeThoughts, MaxTokens: gc.ThinkingConfig.ThinkingBudget}
		}
		if len(gc.ResponseModalities) > 0 {
			req.Modalities = gc.ResponseModalities
		}
		if gc.ImageConfig != nil {
			req.ImageConfig = &unified.ImageConfig{AspectRatio: gc.ImageConfig.AspectRatio}
		}
	}

	return req, nil
}

func parseContent(c Content) ([]unified.Message, error) {
	role, err := parseRole(c.Role)
	if err != nil {
		return nil, err
	}

	var parts []unified.Part
	var toolCalls []unified.ToolCall
	var funcResponses []unified.Message
	var thinking *unified.Thinking

	for i, p := range c.Parts {
		switch {
		case p.FunctionResponse != nil:
			b, _ := json.Marshal(p.FunctionResponse.Response)
			funcResponses = append(funcResponses, unified.Message{Role: unified.RoleTool, Name: p.FunctionResponse.Name, Content: string(b)})
		case p.FunctionCall != nil:
			args, _ := json.Marshal(p.FunctionCall.Args)
			toolCalls = append(toolCalls, unified.ToolCall{Index: i, ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Arguments: string(args)})
		case p.Thought:
			thinking = &unified.Thinking{Content: p.Text, Signature: p.ThoughtSignature}
		case p.InlineData != nil:
			parts = append(parts, unified.Part{Type: unified.PartImage, MimeType: p.InlineData.MimeType, Base64Data: p.InlineData.Data})
		case p.FileData != nil:
			parts = append(parts, unified.Part{Type: unified.PartImage, MimeType: p.FileData.MimeType, URL: p.FileData.FileURI})
		default:
			parts = append(parts, unified.Part{Type: unified.PartText, Text: p.Text})
		}
	}

	if len(funcResponses) > 0 {
		return funcResponses, nil
	}

	return []unified.Message{{Role: role, Parts: parts, ToolCalls: toolCalls, Thinking: thinking}}, nil
}

func parseRole(r string) (unified.Role, error) {
	switch r {
	case "user", "":
		return unified.RoleUser, nil
	case "model":
		return unified.RoleAssistant, nil
	default:
		return "", dialect.NewParseError(dialect.Gemini, "contents[].role", "unknown role "+r)
	}
}

func parseToolConfig(fc FunctionCallingConfig) (*unified.ToolChoice, error) {
	switch fc.Mode {
	case "NONE":
		return &unified.ToolChoice{Mode: unified.ToolChoiceNone}, nil
	case "AUTO", "":
		return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}, nil
	case "ANY":
		if len(fc.AllowedFunctionNames) == 1 {
			return &unified.ToolChoice{Mode: unified.ToolChoiceFunction, FunctionName: fc.AllowedFunctionNames[0]}, nil
		}
		return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}, nil
	default:
		return nil, dialect.NewParseError(dialect.Gemini, "toolConfig.functionCallingConfig.mode", "unknown value "+fc.Mode)
	}
}

// EmitRequest writes the unified request as Gemini wire bytes. A leading
// unified system message is folded into the first user content per the
// spec's system-folding rule, since Gemini's generateContent document has
// no independent system message slot in this dialect's contract.
func (t Transformer) EmitRequest(req *unified.Request) ([]byte, error) {
	gr := GenerateContentRequest{SafetySettings: AllSafetyCategoriesBlockNone()}

	msgs := req.Messages
	var systemParts []Part
	if len(msgs) > 0 && msgs[0].Role == unified.RoleSystem {
		systemParts = emitParts(msgs[0])
		msgs = msgs[1:]
	}

	foldedSystem := false
	for _, m := range msgs {
		c, err := emitContent(m)
		if err != nil {
			return nil, err
		}
		if !foldedSystem && len(systemParts) > 0 && m.Role == unified.RoleUser {
			c.Parts = append(systemParts, c.Parts...)
			foldedSystem = true
		}
		gr.Contents = append(gr.Contents, c)
	}
	if !foldedSystem && len(systemParts) > 0 {
		gr.Contents = append([]Content{{Role: "user", Parts: systemParts}}, gr.Contents...)
	}

	if len(req.Tools) > 0 {
		decls := make([]FunctionDeclaration, 0, len(req.Tools))
		for _, tl := range req.Tools {
			decls = append(decls, FunctionDeclaration{Name: tl.Name, Description: tl.Description, Parameters: tl.Parameters})
		}
		gr.Tools = []ToolDecl{{FunctionDeclarations: decls}}
	}

	if req.ToolChoice != nil {
		gr.ToolConfig = &ToolConfig{FunctionCallingConfig: emitToolConfig(*req.ToolChoice)}
	}

	gc := &GenerationConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		StopSequences:   req.Stop,
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_schema" {
		gc.ResponseMimeType = "application/json"
		gc.ResponseJSONSchema = req.ResponseFormat.JSONSchema
	}
	if req.Reasoning != nil {
		gc.ThinkingConfig = &ThinkingConfig{IncludeThoughts: req.Reasoning.Enabled, ThinkingBudget: req.Reasoning.MaxTokens}
	}
	if len(req.Modalities) > 0 {
		gc.ResponseModalities = req.Modalities
	}
	if req.ImageConfig != nil {
		gc.ImageConfig = &ImageConfig{AspectRatio: req.ImageConfig.AspectRatio}
	}
	gr.GenerationConfig = gc

	out, err := json.Marshal(gr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal generateContent request")
	}
	return out, nil
}

func emitToolConfig(tc unified.ToolChoice) *FunctionCallingConfig {
	switch tc.Mode {
	case unified.ToolChoiceNone:
		return &FunctionCallingConfig{Mode: "NONE"}
	case unified.ToolChoiceRequired:
		return &FunctionCallingConfig{Mode: "ANY"}
	case unified.ToolChoiceFunction:
		return &FunctionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{tc.FunctionName}}
	default:
		return &FunctionCallingConfig{Mode: "AUTO"}
	}
}

func emitParts(m unified.Message) []Part {
	var parts []Part
	if m.Thinking != nil {
		parts = append(parts, Part{Text: m.Thinking.Content, Thought: true, ThoughtSignature: m.Thinking.Signature})
	}
	for _, p := range m.Parts {
		switch p.Type {
		case unified.PartText:
			parts = append(parts, Part{Text: p.Text})
		case unified.PartImage:
			if p.URL != "" {
				parts = append(parts, Part{FileData: &FileData{FileURI: p.URL, MimeType: p.MimeType}})
			} else {
				parts = append(parts, Part{InlineData: &Blob{MimeType: p.MimeType, Data: p.Base64Data}})
			}
		}
	}
	if m.Content != "" && !m.HasParts() {
		parts = append(parts, Part{Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		var args any
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		parts = append(parts, Part{FunctionCall: &FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
	}
	return parts
}

func emitContent(m unified.Message) (Content, error) {
	if m.Role == unified.RoleTool {
		var response any
		if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
			response = m.Content
		}
		return Content{Role: "user", Parts: []Part{{FunctionResponse: &FunctionResponse{Name: m.Name, Response: response}}}}, nil
	}

	role := "user"
	if m.Role == unified.RoleAssistant {
		role = "model"
	}
	return Content{Role: role, Parts: emitParts(m)}, nil
}

// ParseResponse converts a unary Gemini response into unified form.
func (t Transformer) ParseResponse(raw []byte) (*unified.Response, error) {
	var gr GenerateContentResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, dialect.NewParseError(dialect.Gemini, "body", err.Error())
	}
	if len(gr.Candidates) == 0 {
		return nil, dialect.NewParseError(dialect.Gemini, "candidates", "empty")
	}

	cand := gr.Candidates[0]
	msgs, err := parseContent(cand.Content)
	if err != nil {
		return nil, err
	}
	msg := msgs[0]

	resp := &unified.Response{
		Model: gr.ModelVersion, Message: msg, ToolCalls: msg.ToolCalls,
		FinishReason: mapFinishReason(cand.FinishReason),
	}
	if gr.UsageMetadata != nil {
		resp.Usage = normalizeUsage(*gr.UsageMetadata)
	}
	return resp, nil
}

func mapFinishReason(r string) string {
	switch r {
	case "MAX_TOKENS":
		return "length"
	case "STOP":
		return "stop"
	case "":
		return ""
	default:
		return strings.ToLower(r)
	}
}

func unmapFinishReason(r string) string {
	switch r {
	case "length":
		return "MAX_TOKENS"
	case "stop":
		return "STOP"
	case "":
		return ""
	default:
		return strings.ToUpper(r)
	}
}

func normalizeUsage(u UsageMetadata) unified.Usage {
	return unified.Usage{
		InputTokens:     u.PromptTokenCount,
		OutputTokens:    u.CandidatesTokenCount,
		ReasoningTokens: u.ThoughtsTokenCount,
		CacheReadTokens: u.CachedContentTokenCount,
		TotalTokens:     u.TotalTokenCount,
	}
}

func (t Transformer) ParseUsage(raw []byte) (unified.Usage, error) {
	var u UsageMetadata
	if err := json.Unmarshal(raw, &u); err != nil {
		return unified.Usage{}, dialect.NewParseError(dialect.Gemini, "usageMetadata", err.Error())
	}
	return normalizeUsage(u), nil
}

// EmitResponse writes the unified response as a unary Gemini body.
func (t Transformer) EmitResponse(resp *unified.Response) ([]byte, error) {
	c, err := emitContent(resp.Message)
	if err != nil {
		return nil, err
	}
	// Assistant content always uses role "model" on the wire out.
	if resp.Message.Role != unified.RoleTool {
		c.Role = "model"
	}

	gr := GenerateContentResponse{
		ModelVersion: resp.Model,
		Candidates:   []Candidate{{Content: c, FinishReason: unmapFinishReason(resp.FinishReason)}},
		UsageMetadata: &UsageMetadata{
			PromptTokenCount: resp.Usage.InputTokens, CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount: resp.Usage.TotalTokens, CachedContentTokenCount: resp.Usage.CacheReadTokens,
			ThoughtsTokenCount: resp.Usage.ReasoningTokens,
		},
	}
	out, err := json.Marshal(gr)
	if err != nil {
		return nil, errors.Wrap(err, "marshal generateContent response")
	}
	return out, nil
}
