package anthropic

import (
	"bytes"
	"encoding/json"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/streaming"
	"github.com/plexus/gateway/unified"
)

// splitEvents decodes a complete raw SSE byte stream into its frames,
// draining the streaming package's decoder synchronously since
// reconstruction operates on an already-finished stream.
func splitEvents(raw []byte) []dialect.StreamEvent {
	var out []dialect.StreamEvent
	frames, _ := streaming.Split(bytes.NewReader(raw))
	for f := range frames {
		out = append(out, dialect.StreamEvent{Event: f.Event, Data: f.Data})
	}
	return out
}

// ParseStreamChunk decodes one named Messages SSE event. Each event's own
// "type" (and, for content_block_delta, the nested delta.type) fully
// determines the unified chunk it produces, so parsing needs no state
// across events: message_start/content_block_start/_stop/ping/message_stop
// carry no streamable payload by themselves and yield no chunk, except
// content_block_start of type tool_use which announces the call's name.
func (t Transformer) ParseStreamChunk(ev dialect.StreamEvent) (*unified.StreamChunk, bool, error) {
	switch ev.Event {
	case "content_block_start":
		var e EventContentBlockStart
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, false, dialect.NewParseError(dialect.Messages, "content_block_start", err.Error())
		}
		if e.ContentBlock.Type != "tool_use" {
			return nil, false, nil
		}
		idx := e.Index
		return &unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ToolCallName: e.ContentBlock.Name}, true, nil

	case "content_block_delta":
		var e EventContentBlockDelta
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, false, dialect.NewParseError(dialect.Messages, "content_block_delta", err.Error())
		}
		idx := e.Index
		switch e.Delta.Type {
		case "text_delta":
			return &unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: e.Delta.Text}, true, nil
		case "thinking_delta":
			return &unified.StreamChunk{Kind: unified.ChunkDeltaThinking, DeltaThinking: e.Delta.Thinking}, true, nil
		case "input_json_delta":
			return &unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ArgsDelta: e.Delta.PartialJSON}, true, nil
		case "signature_delta":
			// Carried only by ReconstructFromStream's full-stream replay; no
			// unified chunk slot exists for a mid-stream signature fragment.
			return nil, false, nil
		default:
			return nil, false, nil
		}

	case "message_delta":
		var e EventMessageDelta
		if err := json.Unmarshal(ev.Data, &e); err != nil {
			return nil, false, dialect.NewParseError(dialect.Messages, "message_delta", err.Error())
		}
		return &unified.StreamChunk{Kind: unified.ChunkDone, FinishReason: mapStopReason(e.Delta.StopReason)}, true, nil

	case "message_start", "content_block_stop", "message_stop", "ping":
		return nil, false, nil

	default:
		return nil, false, nil
	}
}

// streamEncoder tracks which content-block index is currently open for
// each kind of delta (text, thinking, one slot per tool-call index) so it
// can emit the Messages event lifecycle (content_block_start exactly once
// before the first delta of a kind, content_block_stop when a different
// kind interrupts it) around chunks that the unified model itself does not
// frame with start/stop markers.
type streamEncoder struct {
	started    bool
	openKind   unified.ChunkKind
	openIndex  int
	nextIndex  int
	toolIndex  map[int]int // unified tool-call index -> Messages block index
	usage      Usage
}

func (Transformer) NewStreamEncoder() dialect.StreamEncoder {
	return &streamEncoder{openIndex: -1, toolIndex: make(map[int]int)}
}

func (e *streamEncoder) blockIndexFor(kind unified.ChunkKind, toolIdx *int) (idx int, isNew bool) {
	if kind == unified.ChunkToolCallDelta && toolIdx != nil {
		if existing, ok := e.toolIndex[*toolIdx]; ok {
			return existing, false
		}
		idx = e.nextIndex
		e.nextIndex++
		e.toolIndex[*toolIdx] = idx
		return idx, true
	}
	if e.openKind == kind {
		return e.openIndex, false
	}
	idx = e.nextIndex
	e.nextIndex++
	return idx, true
}

func (e *streamEncoder) closeOpenBlock() []dialect.StreamEvent {
	if e.openKind == "" {
		return nil
	}
	ev := []dialect.StreamEvent{ev("content_block_stop", EventContentBlockStop{Index: e.openIndex})}
	e.openKind = ""
	return ev
}

func (e *streamEncoder) Encode(chunk *unified.StreamChunk) ([]dialect.StreamEvent, error) {
	var out []dialect.StreamEvent

	if !e.started {
		e.started = true
		out = append(out, ev("message_start", EventMessageStart{Message: MessagesResponse{Role: "assistant"}}))
	}

	switch chunk.Kind {
	case unified.ChunkDeltaText:
		idx, isNew := e.blockIndexFor(unified.ChunkDeltaText, nil)
		if e.openKind != "" && e.openKind != unified.ChunkDeltaText {
			out = append(out, e.closeOpenBlock()...)
			idx, isNew = e.blockIndexFor(unified.ChunkDeltaText, nil)
		}
		if isNew {
			out = append(out, ev("content_block_start", EventContentBlockStart{Index: idx, ContentBlock: ContentBlock{Type: "text"}}))
			e.openKind, e.openIndex = unified.ChunkDeltaText, idx
		}
		out = append(out, ev("content_block_delta", EventContentBlockDelta{Index: idx, Delta: Delta{Type: "text_delta", Text: chunk.DeltaText}}))

	case unified.ChunkDeltaThinking:
		idx, isNew := e.blockIndexFor(unified.ChunkDeltaThinking, nil)
		if e.openKind != "" && e.openKind != unified.ChunkDeltaThinking {
			out = append(out, e.closeOpenBlock()...)
			idx, isNew = e.blockIndexFor(unified.ChunkDeltaThinking, nil)
		}
		if isNew {
			out = append(out, ev("content_block_start", EventContentBlockStart{Index: idx, ContentBlock: ContentBlock{Type: "thinking"}}))
			e.openKind, e.openIndex = unified.ChunkDeltaThinking, idx
		}
		out = append(out, ev("content_block_delta", EventContentBlockDelta{Index: idx, Delta: Delta{Type: "thinking_delta", Thinking: chunk.DeltaThinking}}))

	case unified.ChunkToolCallDelta:
		idx, isNew := e.blockIndexFor(unified.ChunkToolCallDelta, chunk.ToolCallIndex)
		if isNew {
			if e.openKind != "" {
				out = append(out, e.closeOpenBlock()...)
			}
			out = append(out, ev("content_block_start", EventContentBlockStart{Index: idx, ContentBlock: ContentBlock{Type: "tool_use", Name: chunk.ToolCallName}}))
			e.openKind, e.openIndex = unified.ChunkToolCallDelta, idx
		}
		if chunk.ArgsDelta != "" {
			out = append(out, ev("content_block_delta", EventContentBlockDelta{Index: idx, Delta: Delta{Type: "input_json_delta", PartialJSON: chunk.ArgsDelta}}))
		}

	case unified.ChunkUsage:
		e.usage = Usage{
			InputTokens: chunk.Usage.InputTokens, OutputTokens: chunk.Usage.OutputTokens,
			CacheCreationInputTokens: chunk.Usage.CacheCreationTokens, CacheReadInputTokens: chunk.Usage.CacheReadTokens,
		}

	case unified.ChunkDone:
		out = append(out, e.closeOpenBlock()...)
		md := EventMessageDelta{Usage: e.usage}
		md.Delta.StopReason = unmapStopReason(chunk.FinishReason)
		out = append(out, ev("message_delta", md))
		out = append(out, ev("message_stop", struct{}{}))

	case unified.ChunkImagePart:
		// Anthropic Messages has no image-output content block; dropped.
	}

	return out, nil
}

func ev(name string, payload any) dialect.StreamEvent {
	b, _ := json.Marshal(payload)
	return dialect.StreamEvent{Event: name, Data: b}
}

// ReconstructFromStream concatenates a full raw Messages SSE byte stream
// into the Response it would have produced unary: it tracks open content
// blocks across the whole replay (unlike the per-event ParseStreamChunk)
// so it can also recover the thinking signature, which streams as its own
// signature_delta fragment with no unified chunk representation.
func (t Transformer) ReconstructFromStream(raw []byte) (*unified.Response, error) {
	frames := splitEvents(raw)

	type block struct {
		kind      string
		text      string
		thinking  string
		signature string
		toolID    string
		toolName  string
		toolArgs  string
	}
	blocks := map[int]*block{}
	var order []int
	var id, model, stopReason string
	var usage Usage

	for _, f := range frames {
		switch f.Event {
		case "message_start":
			var e EventMessageStart
			if json.Unmarshal(f.Data, &e) == nil {
				id, model = e.Message.ID, e.Message.Model
			}
		case "content_block_start":
			var e EventContentBlockStart
			if json.Unmarshal(f.Data, &e) == nil {
				b := &block{kind: e.ContentBlock.Type, toolID: e.ContentBlock.ID, toolName: e.ContentBlock.Name}
				blocks[e.Index] = b
				order = append(order, e.Index)
			}
		case "content_block_delta":
			var e EventContentBlockDelta
			if json.Unmarshal(f.Data, &e) == nil {
				b := blocks[e.Index]
				if b == nil {
					b = &block{}
					blocks[e.Index] = b
					order = append(order, e.Index)
				}
				switch e.Delta.Type {
				case "text_delta":
					b.text += e.Delta.Text
				case "thinking_delta":
					b.thinking += e.Delta.Thinking
				case "signature_delta":
					b.signature += e.Delta.Signature
				case "input_json_delta":
					b.toolArgs += e.Delta.PartialJSON
				}
			}
		case "message_delta":
			var e EventMessageDelta
			if json.Unmarshal(f.Data, &e) == nil {
				stopReason = e.Delta.StopReason
				usage = e.Usage
			}
		}
	}

	msg := unified.Message{Role: unified.RoleAssistant}
	var toolCalls []unified.ToolCall
	for _, idx := range order {
		b := blocks[idx]
		switch b.kind {
		case "text":
			msg.Parts = append(msg.Parts, unified.Part{Type: unified.PartText, Text: b.text})
		case "thinking":
			msg.Thinking = &unified.Thinking{Content: b.thinking, Signature: b.signature}
		case "tool_use":
			toolCalls = append(toolCalls, unified.ToolCall{Index: idx, ID: b.toolID, Name: b.toolName, Arguments: b.toolArgs})
		}
	}
	msg.ToolCalls = toolCalls

	return &unified.Response{
		ID: id, Model: model, Message: msg, ToolCalls: toolCalls,
		FinishReason: mapStopReason(stopReason),
		Usage:        normalizeUsage(usage),
	}, nil
}
