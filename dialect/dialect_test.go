package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus/gateway/unified"
)

type fakeTransformer struct{ name Name }

func (f fakeTransformer) Name() Name                                       { return f.name }
func (f fakeTransformer) ParseRequest(raw []byte) (*unified.Request, error) { return nil, nil }
func (f fakeTransformer) EmitRequest(req *unified.Request) ([]byte, error)  { return nil, nil }
func (f fakeTransformer) ParseResponse(raw []byte) (*unified.Response, error) { return nil, nil }
func (f fakeTransformer) EmitResponse(resp *unified.Response) ([]byte, error) { return nil, nil }
func (f fakeTransformer) ParseStreamChunk(ev StreamEvent) (*unified.StreamChunk, bool, error) {
	return nil, false, nil
}
func (f fakeTransformer) NewStreamEncoder() StreamEncoder             { return nil }
func (f fakeTransformer) EndpointPath(req *unified.Request) string    { return "" }
func (f fakeTransformer) ParseUsage(raw []byte) (unified.Usage, error) { return unified.Usage{}, nil }
func (f fakeTransformer) ReconstructFromStream(raw []byte) (*unified.Response, error) {
	return nil, nil
}

func TestRegisterAndGet(t *testing.T) {
	Register(fakeTransformer{name: "fake-test-dialect"})

	got, err := Get("fake-test-dialect")
	require.NoError(t, err)
	assert.Equal(t, Name("fake-test-dialect"), got.Name())
}

func TestGetUnknownDialectErrors(t *testing.T) {
	_, err := Get("nonexistent-dialect")
	require.Error(t, err)
}

func TestAllIncludesRegistered(t *testing.T) {
	Register(fakeTransformer{name: "fake-test-dialect-2"})
	assert.Contains(t, All(), Name("fake-test-dialect-2"))
}

func TestParseErrorMessage(t *testing.T) {
	err := NewParseError(Chat, "messages[0].role", "unknown role")
	assert.Contains(t, err.Error(), "chat")
	assert.Contains(t, err.Error(), "messages[0].role")
	assert.Contains(t, err.Error(), "unknown role")
}
