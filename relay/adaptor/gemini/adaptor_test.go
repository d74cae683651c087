package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus/gateway/unified"
)

func TestEndpointPathDefaultsToModelsPrefix(t *testing.T) {
	req := &unified.Request{Model: "gemini-2.0-flash"}
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", Transformer{}.EndpointPath(req))
}

func TestEndpointPathStreamingUsesSSEMethod(t *testing.T) {
	req := &unified.Request{Model: "gemini-2.0-flash", Stream: true}
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:streamGenerateContent?alt=sse", Transformer{}.EndpointPath(req))
}

func TestEndpointPathPreservesTunedModelsPrefix(t *testing.T) {
	req := &unified.Request{Model: "tunedModels/my-model"}
	assert.Equal(t, "/v1beta/tunedModels/my-model:generateContent", Transformer{}.EndpointPath(req))
}

func TestParseRequestBasic(t *testing.T) {
	raw := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	req, err := Transformer{}.ParseRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, unified.RoleUser, req.Messages[0].Role)
}

func TestEmitRequestFoldsSystemIntoFirstUserTurn(t *testing.T) {
	req := &unified.Request{
		Messages: []unified.Message{
			{Role: unified.RoleSystem, Content: "be terse"},
			{Role: unified.RoleUser, Content: "hi"},
		},
	}
	body, err := Transformer{}.EmitRequest(req)
	require.NoError(t, err)

	reparsed, err := Transformer{}.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, reparsed.Messages, 1)
	require.Len(t, reparsed.Messages[0].Parts, 2)
	assert.Equal(t, "be terse", reparsed.Messages[0].Parts[0].Text)
	assert.Equal(t, "hi", reparsed.Messages[0].Parts[1].Text)
}

func TestParseResponseNormalizesUsage(t *testing.T) {
	raw := []byte(`{
		"modelVersion": "gemini-2.0-flash",
		"candidates": [{"content": {"role": "model", "parts": [{"text": "hi"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 4, "totalTokenCount": 14}
	}`)
	resp, err := Transformer{}.ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
}
