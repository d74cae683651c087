package responses

import (
	"bytes"
	"encoding/json"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/streaming"
	"github.com/plexus/gateway/unified"
)

// ParseStreamChunk decodes one named Responses SSE event. Each event name
// fully determines the unified chunk it maps to; response.completed is
// treated as the terminal Done signal (its status maps to finish_reason)
// while its authoritative usage is left to ReconstructFromStream's
// fallback, exactly as for Anthropic's message_delta/message_stop split.
func (t Transformer) ParseStreamChunk(ev dialect.StreamEvent) (*unified.StreamChunk, bool, error) {
	switch ev.Event {
	case "response.output_text.delta":
		var e EventOutputTextDelta
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, false, dialect.NewParseError(dialect.Responses, ev.Event, err.Error())
		}
		return &unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: e.Delta}, true, nil

	case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
		var e EventReasoningTextDelta
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, false, dialect.NewParseError(dialect.Responses, ev.Event, err.Error())
		}
		return &unified.StreamChunk{Kind: unified.ChunkDeltaThinking, DeltaThinking: e.Delta}, true, nil

	case "response.function_call_arguments.delta":
		var e EventFunctionCallArgumentsDelta
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, false, dialect.NewParseError(dialect.Responses, ev.Event, err.Error())
		}
		idx := e.OutputIndex
		return &unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ArgsDelta: e.Delta}, true, nil

	case "response.output_item.added":
		var e EventOutputItemAdded
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, false, dialect.NewParseError(dialect.Responses, ev.Event, err.Error())
		}
		if e.Item.Type != "function_call" {
			return nil, false, nil
		}
		idx := e.OutputIndex
		return &unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ToolCallName: e.Item.Name}, true, nil

	case "response.completed", "response.incomplete", "response.failed":
		var e EventResponseEnvelope
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, false, dialect.NewParseError(dialect.Responses, ev.Event, err.Error())
		}
		return &unified.StreamChunk{Kind: unified.ChunkDone, FinishReason: mapStatus(e.Response.Status)}, true, nil

	case "response.created", "response.in_progress", "response.output_item.done",
		"response.content_part.added", "response.content_part.done",
		"response.output_text.done":
		return nil, false, nil

	default:
		return nil, false, nil
	}
}

// streamEncoder reproduces the Responses event lifecycle: response.created
// and response.in_progress bracket the stream, an output_item is added the
// first time its kind (message or a given tool-call index) appears, and
// response.completed closes it out carrying the final response+usage.
type streamEncoder struct {
	started     bool
	textIndex   int
	textOpen    bool
	toolIndex   map[int]int
	nextIndex   int
	accumulated Response
	usage       Usage
}

func (Transformer) NewStreamEncoder() dialect.StreamEncoder {
	return &streamEncoder{toolIndex: make(map[int]int)}
}

func (e *streamEncoder) envelope(name string, status string) dialect.StreamEvent {
	r := e.accumulated
	r.Status = status
	b, _ := json.Marshal(EventResponseEnvelope{Response: r})
	return dialect.StreamEvent{Event: name, Data: b}
}

func (e *streamEncoder) Encode(chunk *unified.StreamChunk) ([]dialect.StreamEvent, error) {
	var out []dialect.StreamEvent

	if !e.started {
		e.started = true
		out = append(out, e.envelope("response.created", "in_progress"))
		out = append(out, e.envelope("response.in_progress", "in_progress"))
	}

	switch chunk.Kind {
	case unified.ChunkDeltaText:
		if !e.textOpen {
			e.textIndex = e.nextIndex
			e.nextIndex++
			e.textOpen = true
			b, _ := json.Marshal(EventOutputItemAdded{OutputIndex: e.textIndex, Item: OutputItem{Type: "message", Role: "assistant"}})
			out = append(out, dialect.StreamEvent{Event: "response.output_item.added", Data: b})
		}
		b, _ := json.Marshal(EventOutputTextDelta{OutputIndex: e.textIndex, Delta: chunk.DeltaText})
		out = append(out, dialect.StreamEvent{Event: "response.output_text.delta", Data: b})

	case unified.ChunkDeltaThinking:
		b, _ := json.Marshal(EventReasoningTextDelta{OutputIndex: e.textIndex, Delta: chunk.DeltaThinking})
		out = append(out, dialect.StreamEvent{Event: "response.reasoning_text.delta", Data: b})

	case unified.ChunkToolCallDelta:
		idx := 0
		if chunk.ToolCallIndex != nil {
			idx = *chunk.ToolCallIndex
		}
		outIdx, isNew := e.toolIndex[idx]
		if !isNew {
			outIdx = e.nextIndex
			e.nextIndex++
			e.toolIndex[idx] = outIdx
			b, _ := json.Marshal(EventOutputItemAdded{OutputIndex: outIdx, Item: OutputItem{Type: "function_call", Name: chunk.ToolCallName}})
			out = append(out, dialect.StreamEvent{Event: "response.output_item.added", Data: b})
		}
		if chunk.ArgsDelta != "" {
			b, _ := json.Marshal(EventFunctionCallArgumentsDelta{OutputIndex: outIdx, Delta: chunk.ArgsDelta})
			out = append(out, dialect.StreamEvent{Event: "response.function_call_arguments.delta", Data: b})
		}

	case unified.ChunkUsage:
		e.usage = Usage{
			InputTokens: chunk.Usage.InputTokens, OutputTokens: chunk.Usage.OutputTokens, TotalTokens: chunk.Usage.TotalTokens,
			InputTokensDetails:  &InputTokensDetails{CachedTokens: chunk.Usage.CacheReadTokens},
			OutputTokensDetails: &OutputTokensDetails{ReasoningTokens: chunk.Usage.ReasoningTokens},
		}

	case unified.ChunkDone:
		e.accumulated.Usage = &e.usage
		out = append(out, e.envelope("response.completed", unmapStatus(chunk.FinishReason)))
	}

	return out, nil
}

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

// ReconstructFromStream concatenates a full raw Responses SSE byte stream
// into the Response it would have produced unary.
func (t Transformer) ReconstructFromStream(raw []byte) (*unified.Response, error) {
	var text, thinking string
	toolArgs := map[int]*unified.ToolCall{}
	var order []int
	var status string
	var usage Usage
	var id, model string

	for _, f := range splitEvents(raw) {
		switch f.Event {
		case "response.created", "response.in_progress":
			var e EventResponseEnvelope
			if json.Unmarshal(f.Data, &e) == nil {
				id, model = e.Response.ID, e.Response.Model
			}
		case "response.output_text.delta":
			var e EventOutputTextDelta
			if json.Unmarshal(f.Data, &e) == nil {
				text += e.Delta
			}
		case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
			var e EventReasoningTextDelta
			if json.Unmarshal(f.Data, &e) == nil {
				thinking += e.Delta
			}
		case "response.output_item.added":
			var e EventOutputItemAdded
			if json.Unmarshal(f.Data, &e) == nil && e.Item.Type == "function_call" {
				toolArgs[e.OutputIndex] = &unified.ToolCall{Index: e.OutputIndex, ID: e.Item.CallID, Name: e.Item.Name}
				order = append(order, e.OutputIndex)
			}
		case "response.function_call_arguments.delta":
			var e EventFunctionCallArgumentsDelta
			if json.Unmarshal(f.Data, &e) == nil {
				if tc, ok := toolArgs[e.OutputIndex]; ok {
					tc.Arguments += e.Delta
				}
			}
		case "response.completed", "response.incomplete", "response.failed":
			var e EventResponseEnvelope
			if json.Unmarshal(f.Data, &e) == nil {
				status = e.Response.Status
				if e.Response.Usage != nil {
					usage = *e.Response.Usage
				}
				if e.Response.ID != "" {
					id = e.Response.ID
				}
			}
		}
	}

	resp := &unified.Response{
		ID: id, Model: model, FinishReason: mapStatus(status), Usage: normalizeUsage(usage),
		Message: unified.Message{Role: unified.RoleAssistant, Content: text},
	}
	if thinking != "" {
		resp.Message.Thinking = &unified.Thinking{Content: thinking}
	}
	for _, idx := range order {
		resp.ToolCalls = append(resp.ToolCalls, *toolArgs[idx])
	}
	resp.Message.ToolCalls = resp.ToolCalls
	return resp, nil
}
