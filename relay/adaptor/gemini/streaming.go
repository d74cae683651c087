package gemini

import (
	"bytes"
	"encoding/json"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/streaming"
	"github.com/plexus/gateway/unified"
)

// splitEvents decodes a complete raw SSE byte stream into its frames for
// ReconstructFromStream, which operates on an already-finished stream.
func splitEvents(raw []byte) []dialect.StreamEvent {
	var out []dialect.StreamEvent
	frames, _ := streaming.Split(bytes.NewReader(raw))
	for f := range frames {
		out = append(out, dialect.StreamEvent{Event: f.Event, Data: f.Data})
	}
	return out
}

// ParseStreamChunk decodes one Gemini streamGenerateContent SSE data
// payload, which (unlike Anthropic/Responses) is itself a complete
// GenerateContentResponse document carrying only the newly produced
// content for this chunk; Gemini names no SSE events, so ev.Event is
// always empty here.
func (t Transformer) ParseStreamChunk(ev dialect.StreamEvent) (*unified.StreamChunk, bool, error) {
	var gr GenerateContentResponse
	if err := json.Unmarshal(ev.Data, &gr); err != nil {
		return nil, false, dialect.NewParseError(dialect.Gemini, "stream chunk", err.Error())
	}

	if len(gr.Candidates) == 0 {
		if gr.UsageMetadata != nil {
			u := normalizeUsage(*gr.UsageMetadata)
			return &unified.StreamChunk{Kind: unified.ChunkUsage, Usage: &u}, true, nil
		}
		return nil, false, nil
	}

	cand := gr.Candidates[0]
	if cand.FinishReason != "" {
		return &unified.StreamChunk{Kind: unified.ChunkDone, FinishReason: mapFinishReason(cand.FinishReason)}, true, nil
	}

	for i, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args, _ := json.Marshal(p.FunctionCall.Args)
			idx := i
			return &unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ToolCallName: p.FunctionCall.Name, ArgsDelta: string(args)}, true, nil
		case p.Thought:
			return &unified.StreamChunk{Kind: unified.ChunkDeltaThinking, DeltaThinking: p.Text}, true, nil
		case p.Text != "":
			return &unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: p.Text}, true, nil
		}
	}

	return nil, false, nil
}

// streamEncoder buffers tool-call argument fragments per index, since
// Gemini's wire format carries a function call as one complete `args`
// object rather than incremental JSON fragments; it flushes any pending
// call at ChunkDone.
type streamEncoder struct {
	pending map[int]*pendingCall
	order   []int
}

type pendingCall struct {
	name string
	args string
}

func (Transformer) NewStreamEncoder() dialect.StreamEncoder {
	return &streamEncoder{pending: make(map[int]*pendingCall)}
}

func (e *streamEncoder) Encode(chunk *unified.StreamChunk) ([]dialect.StreamEvent, error) {
	switch chunk.Kind {
	case unified.ChunkDeltaText:
		return []dialect.StreamEvent{e.wrap(Part{Text: chunk.DeltaText})}, nil

	case unified.ChunkDeltaThinking:
		return []dialect.StreamEvent{e.wrap(Part{Text: chunk.DeltaThinking, Thought: true})}, nil

	case unified.ChunkToolCallDelta:
		idx := 0
		if chunk.ToolCallIndex != nil {
			idx = *chunk.ToolCallIndex
		}
		pc, ok := e.pending[idx]
		if !ok {
			pc = &pendingCall{}
			e.pending[idx] = pc
			e.order = append(e.order, idx)
		}
		if chunk.ToolCallName != "" {
			pc.name = chunk.ToolCallName
		}
		pc.args += chunk.ArgsDelta
		return nil, nil

	case unified.ChunkUsage:
		gr := GenerateContentResponse{UsageMetadata: &UsageMetadata{
			PromptTokenCount: chunk.Usage.InputTokens, CandidatesTokenCount: chunk.Usage.OutputTokens,
			TotalTokenCount: chunk.Usage.TotalTokens, CachedContentTokenCount: chunk.Usage.CacheReadTokens,
			ThoughtsTokenCount: chunk.Usage.ReasoningTokens,
		}}
		b, _ := json.Marshal(gr)
		return []dialect.StreamEvent{{Data: b}}, nil

	case unified.ChunkDone:
		var out []dialect.StreamEvent
		for _, idx := range e.order {
			pc := e.pending[idx]
			var args any
			_ = json.Unmarshal([]byte(pc.args), &args)
			out = append(out, e.wrap(Part{FunctionCall: &FunctionCall{Name: pc.name, Args: args}}))
		}
		gr := GenerateContentResponse{Candidates: []Candidate{{FinishReason: unmapFinishReason(chunk.FinishReason)}}}
		b, _ := json.Marshal(gr)
		out = append(out, dialect.StreamEvent{Data: b})
		return out, nil
	}
	return nil, nil
}

func (e *streamEncoder) wrap(p Part) dialect.StreamEvent {
	gr := GenerateContentResponse{Candidates: []Candidate{{Content: Content{Role: "model", Parts: []Part{p}}}}}
	b, _ := json.Marshal(gr)
	return dialect.StreamEvent{Data: b}
}

// ReconstructFromStream concatenates a full raw Gemini SSE byte stream
// into the Response it would have produced unary.
func (t Transformer) ReconstructFromStream(raw []byte) (*unified.Response, error) {
	var text, thinking string
	var toolCalls []unified.ToolCall
	var finish string
	var usage UsageMetadata
	var model string

	for _, f := range splitEvents(raw) {
		var gr GenerateContentResponse
		if err := json.Unmarshal(f.Data, &gr); err != nil {
			continue
		}
		if gr.ModelVersion != "" {
			model = gr.ModelVersion
		}
		if gr.UsageMetadata != nil {
			usage = *gr.UsageMetadata
		}
		if len(gr.Candidates) == 0 {
			continue
		}
		cand := gr.Candidates[0]
		if cand.FinishReason != "" {
			finish = cand.FinishReason
		}
		for i, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				args, _ := json.Marshal(p.FunctionCall.Args)
				toolCalls = append(toolCalls, unified.ToolCall{Index: i, ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Arguments: string(args)})
			case p.Thought:
				thinking += p.Text
			default:
				text += p.Text
			}
		}
	}

	resp := &unified.Response{
		Model: model, FinishReason: mapFinishReason(finish), Usage: normalizeUsage(usage),
		Message: unified.Message{Role: unified.RoleAssistant, Content: text, ToolCalls: toolCalls},
	}
	if thinking != "" {
		resp.Message.Thinking = &unified.Thinking{Content: thinking}
	}
	resp.ToolCalls = toolCalls
	return resp, nil
}
