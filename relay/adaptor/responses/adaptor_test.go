package responses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/unified"
)

func TestParseRequestStringInput(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","input":"hi there"}`)
	req, err := Transformer{}.ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, unified.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "hi there", req.Messages[0].Content)
}

func TestParseRequestInstructionsLiftedToSystemMessage(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","instructions":"be terse","input":"hi"}`)
	req, err := Transformer{}.ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content)
	assert.Equal(t, unified.RoleUser, req.Messages[1].Role)
}

func TestParseRequestStructuredInputItems(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4o",
		"input": [{"type": "message", "role": "user", "content": [{"type": "input_text", "text": "hi"}]}]
	}`)
	req, err := Transformer{}.ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Parts, 1)
	assert.Equal(t, unified.PartText, req.Messages[0].Parts[0].Type)
	assert.Equal(t, "hi", req.Messages[0].Parts[0].Text)
}

func TestParseRequestFunctionCallOutput(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4o",
		"input": [{"type": "function_call_output", "call_id": "tc1", "output": "42"}]
	}`)
	req, err := Transformer{}.ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, unified.RoleTool, req.Messages[0].Role)
	assert.Equal(t, "tc1", req.Messages[0].ToolCallID)
	assert.Equal(t, "42", req.Messages[0].Content)
}

func TestParseRequestUnknownInputItemTypeFails(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","input":[{"type":"bogus"}]}`)
	_, err := Transformer{}.ParseRequest(raw)
	require.Error(t, err)
	var pe *dialect.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParseRequestToolChoiceFunction(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","input":"hi","tool_choice":{"name":"lookup"}}`)
	req, err := Transformer{}.ParseRequest(raw)
	require.NoError(t, err)
	require.NotNil(t, req.ToolChoice)
	assert.Equal(t, unified.ToolChoiceFunction, req.ToolChoice.Mode)
	assert.Equal(t, "lookup", req.ToolChoice.FunctionName)
}

func TestEmitRequestLiftsSystemIntoInstructions(t *testing.T) {
	req := &unified.Request{
		Model: "gpt-4o",
		Messages: []unified.Message{
			{Role: unified.RoleSystem, Content: "be terse"},
			{Role: unified.RoleUser, Content: "hi"},
		},
	}
	body, err := Transformer{}.EmitRequest(req)
	require.NoError(t, err)

	reparsed, err := Transformer{}.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, reparsed.Messages, 2)
	assert.Equal(t, unified.RoleSystem, reparsed.Messages[0].Role)
	assert.Equal(t, "be terse", reparsed.Messages[0].Content)
	assert.Equal(t, unified.RoleUser, reparsed.Messages[1].Role)
}

func TestParseResponseMessageAndToolCall(t *testing.T) {
	raw := []byte(`{
		"id": "resp_1", "model": "gpt-4o", "status": "completed",
		"output": [
			{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "hi"}]},
			{"type": "function_call", "call_id": "tc1", "name": "lookup", "arguments": "{}"}
		],
		"usage": {"input_tokens": 10, "output_tokens": 4, "total_tokens": 14}
	}`)
	resp, err := Transformer{}.ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "stop", resp.FinishReason)
	require.Len(t, resp.Message.Parts, 1)
	assert.Equal(t, "hi", resp.Message.Parts[0].Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	assert.Equal(t, 10, resp.Usage.InputTokens)
}

func TestNormalizeUsageCachedTokensAreAdditive(t *testing.T) {
	u := Usage{
		InputTokens: 20, OutputTokens: 5, TotalTokens: 25,
		InputTokensDetails:  &InputTokensDetails{CachedTokens: 15},
		OutputTokensDetails: &OutputTokensDetails{ReasoningTokens: 2},
	}
	out := normalizeUsage(u)
	assert.Equal(t, 20, out.InputTokens)
	assert.Equal(t, 15, out.CacheReadTokens)
	assert.Equal(t, 25, out.TotalTokens)
	assert.Equal(t, 2, out.ReasoningTokens)
}

func TestMapStatusRoundTrip(t *testing.T) {
	assert.Equal(t, "stop", mapStatus("completed"))
	assert.Equal(t, "length", mapStatus("incomplete"))
	assert.Equal(t, "error", mapStatus("failed"))
	assert.Equal(t, "completed", unmapStatus("stop"))
	assert.Equal(t, "incomplete", unmapStatus("length"))
	assert.Equal(t, "failed", unmapStatus("error"))
}

func TestParseStreamChunkOutputTextDelta(t *testing.T) {
	ev := dialect.StreamEvent{Event: "response.output_text.delta", Data: []byte(`{"output_index":0,"delta":"hi"}`)}
	chunk, ok, err := Transformer{}.ParseStreamChunk(ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, unified.ChunkDeltaText, chunk.Kind)
	assert.Equal(t, "hi", chunk.DeltaText)
}

func TestParseStreamChunkFunctionCallArgumentsDelta(t *testing.T) {
	ev := dialect.StreamEvent{Event: "response.function_call_arguments.delta", Data: []byte(`{"output_index":1,"delta":"{\"q\":"}`)}
	chunk, ok, err := Transformer{}.ParseStreamChunk(ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, unified.ChunkToolCallDelta, chunk.Kind)
	require.NotNil(t, chunk.ToolCallIndex)
	assert.Equal(t, 1, *chunk.ToolCallIndex)
	assert.Equal(t, "{\"q\":", chunk.ArgsDelta)
}

func TestParseStreamChunkOutputItemAddedIgnoresNonFunctionCall(t *testing.T) {
	ev := dialect.StreamEvent{Event: "response.output_item.added", Data: []byte(`{"output_index":0,"item":{"type":"message"}}`)}
	chunk, ok, err := Transformer{}.ParseStreamChunk(ev)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, chunk)
}

func TestParseStreamChunkCompletedIsDone(t *testing.T) {
	ev := dialect.StreamEvent{Event: "response.completed", Data: []byte(`{"response":{"status":"completed"}}`)}
	chunk, ok, err := Transformer{}.ParseStreamChunk(ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, unified.ChunkDone, chunk.Kind)
	assert.Equal(t, "stop", chunk.FinishReason)
}

func TestParseStreamChunkIgnoredLifecycleEvents(t *testing.T) {
	for _, name := range []string{"response.created", "response.in_progress", "response.output_item.done", "response.content_part.added"} {
		chunk, ok, err := Transformer{}.ParseStreamChunk(dialect.StreamEvent{Event: name, Data: []byte(`{}`)})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, chunk)
	}
}

func TestStreamEncoderTextLifecycle(t *testing.T) {
	enc := Transformer{}.NewStreamEncoder()

	events, err := enc.Encode(&unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: "hi"})
	require.NoError(t, err)
	names := eventNames(events)
	assert.Equal(t, []string{"response.created", "response.in_progress", "response.output_item.added", "response.output_text.delta"}, names)

	events, err = enc.Encode(&unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: " there"})
	require.NoError(t, err)
	assert.Equal(t, []string{"response.output_text.delta"}, eventNames(events))

	events, err = enc.Encode(&unified.StreamChunk{Kind: unified.ChunkDone, FinishReason: "stop"})
	require.NoError(t, err)
	assert.Equal(t, []string{"response.completed"}, eventNames(events))
}

func TestStreamEncoderToolCallLifecycle(t *testing.T) {
	enc := Transformer{}.NewStreamEncoder()
	idx := 0

	events, err := enc.Encode(&unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ToolCallName: "lookup"})
	require.NoError(t, err)
	names := eventNames(events)
	assert.Contains(t, names, "response.output_item.added")

	events, err = enc.Encode(&unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ArgsDelta: `{"q":1}`})
	require.NoError(t, err)
	assert.Equal(t, []string{"response.function_call_arguments.delta"}, eventNames(events))
}

func TestReconstructFromStreamConcatenatesTextAndToolCalls(t *testing.T) {
	enc := Transformer{}.NewStreamEncoder()
	idx := 0

	var raw []byte
	appendEvents := func(evs []dialect.StreamEvent) {
		for _, ev := range evs {
			raw = append(raw, []byte("event: "+ev.Event+"\n")...)
			raw = append(raw, []byte("data: ")...)
			raw = append(raw, ev.Data...)
			raw = append(raw, '\n', '\n')
		}
	}

	evs, err := enc.Encode(&unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: "he"})
	require.NoError(t, err)
	appendEvents(evs)

	evs, err = enc.Encode(&unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: "llo"})
	require.NoError(t, err)
	appendEvents(evs)

	evs, err = enc.Encode(&unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ToolCallName: "lookup"})
	require.NoError(t, err)
	appendEvents(evs)

	evs, err = enc.Encode(&unified.StreamChunk{Kind: unified.ChunkToolCallDelta, ToolCallIndex: &idx, ArgsDelta: `{"q":1}`})
	require.NoError(t, err)
	appendEvents(evs)

	evs, err = enc.Encode(&unified.StreamChunk{Kind: unified.ChunkDone, FinishReason: "stop"})
	require.NoError(t, err)
	appendEvents(evs)

	resp, err := Transformer{}.ReconstructFromStream(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"q":1}`, resp.ToolCalls[0].Arguments)
}

func eventNames(evs []dialect.StreamEvent) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Event
	}
	return out
}
