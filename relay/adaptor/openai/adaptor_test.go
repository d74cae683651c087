package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/unified"
)

func TestParseRequestBasic(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"temperature":0.5}`)
	req, err := Transformer{}.ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, unified.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "hi", req.Messages[0].Content)
}

func TestParseRequestUnknownRoleFails(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","messages":[{"role":"bogus","content":"hi"}]}`)
	_, err := Transformer{}.ParseRequest(raw)
	require.Error(t, err)
	var pe *dialect.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestEmitRequestRoundTrip(t *testing.T) {
	req := &unified.Request{
		Model: "gpt-4o",
		Messages: []unified.Message{
			{Role: unified.RoleUser, Content: "hello"},
		},
	}
	body, err := Transformer{}.EmitRequest(req)
	require.NoError(t, err)

	reparsed, err := Transformer{}.ParseRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", reparsed.Model)
	assert.Equal(t, "hello", reparsed.Messages[0].Content)
}

func TestParseResponseWithUsage(t *testing.T) {
	raw := []byte(`{
		"id": "chatcmpl-1", "model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
	}`)
	resp, err := Transformer{}.ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Message.Content)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
}

func TestParseStreamChunkDeltaText(t *testing.T) {
	ev := dialect.StreamEvent{Data: []byte(`{"choices":[{"index":0,"delta":{"content":"hi"}}]}`)}
	chunk, ok, err := Transformer{}.ParseStreamChunk(ev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, unified.ChunkDeltaText, chunk.Kind)
	assert.Equal(t, "hi", chunk.DeltaText)
}

func TestParseStreamChunkDoneSentinel(t *testing.T) {
	ev := dialect.StreamEvent{Data: []byte("[DONE]")}
	chunk, ok, err := Transformer{}.ParseStreamChunk(ev)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, chunk)
}

func TestParseStreamChunkUsage(t *testing.T) {
	ev := dialect.StreamEvent{Data: []byte(`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)}
	chunk, ok, err := Transformer{}.ParseStreamChunk(ev)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, unified.ChunkUsage, chunk.Kind)
	assert.Equal(t, 5, chunk.Usage.TotalTokens)
}

func TestStreamEncoderDeltaTextRoundTrip(t *testing.T) {
	enc := Transformer{}.NewStreamEncoder()
	events, err := enc.Encode(&unified.StreamChunk{Kind: unified.ChunkDeltaText, DeltaText: "yo"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	chunk, ok, err := Transformer{}.ParseStreamChunk(events[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "yo", chunk.DeltaText)
}

func TestReconstructFromStreamConcatenatesDeltas(t *testing.T) {
	raw := []byte("data: {\"id\":\"x\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"he\"}}]}\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"llo\"},\"finish_reason\":\"stop\"}]}\n" +
		"data: [DONE]\n")

	resp, err := Transformer{}.ReconstructFromStream(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}
