package dispatcher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus/gateway/cooldown"
	"github.com/plexus/gateway/dialect"
)

// nopFlusher satisfies the Flush() interface DispatchStream requires
// without needing a real http.ResponseWriter.
type nopFlusher struct{}

func (nopFlusher) Flush() {}

func TestDispatchStreamSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n"))
		fl.Flush()
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"))
		fl.Flush()
		_, _ = w.Write([]byte("data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n"))
		fl.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		fl.Flush()
	}))
	defer upstream.Close()

	d, store := newTestDispatcher(t, upstream.URL)

	dctx := &DispatchContext{RequestID: "stream-1", ClientDialect: dialect.Chat}
	body := []byte(`{"model": "gpt-4o", "messages": [{"role": "user", "content": "hello"}], "stream": true}`)

	var out bytes.Buffer
	err := d.DispatchStream(context.Background(), dctx, body, &out, nopFlusher{})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "hi")

	require.Len(t, store.records, 1)
	assert.Equal(t, "ok", store.records[0].ResponseStatus)
	assert.Equal(t, 5, store.records[0].TotalTokens)
	assert.True(t, d.cooldown.Healthy(cooldown.Key("openai-main")))
}

func TestDispatchStreamTruncatedBodyMarksFailureNotSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl := w.(http.Flusher)
		// Half a frame, then the connection is cut with no blank-line
		// terminator: the body read fails with an unexpected EOF, which
		// Split's error func reports as that read error rather than a clean EOF.
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}"))
		fl.Flush()
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer upstream.Close()

	d, store := newTestDispatcher(t, upstream.URL)

	dctx := &DispatchContext{RequestID: "stream-2", ClientDialect: dialect.Chat}
	body := []byte(`{"model": "gpt-4o", "messages": [{"role": "user", "content": "hello"}], "stream": true}`)

	var out bytes.Buffer
	err := d.DispatchStream(context.Background(), dctx, body, &out, nopFlusher{})
	require.Error(t, err)

	derr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindUpstreamServerError, derr.Kind)
	assert.False(t, d.cooldown.Healthy(cooldown.Key("openai-main")))

	require.Len(t, store.records, 1)
	assert.Equal(t, string(KindUpstreamServerError), store.records[0].ResponseStatus)
}

func TestDispatchStreamClientDisconnectTakesPriorityOverUpstreamInterrupted(t *testing.T) {
	started := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n"))
		fl.Flush()
		close(started)
		// Hold the connection open, sending no more bytes, until the request's
		// context ends; the test cancels the caller's context, which aborts
		// the upstream request.
		<-r.Context().Done()
	}))
	defer upstream.Close()

	d, store := newTestDispatcher(t, upstream.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	dctx := &DispatchContext{RequestID: "stream-3", ClientDialect: dialect.Chat}
	body := []byte(`{"model": "gpt-4o", "messages": [{"role": "user", "content": "hello"}], "stream": true}`)

	var out bytes.Buffer
	err := d.DispatchStream(ctx, dctx, body, &out, nopFlusher{})
	require.Error(t, err)

	derr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindClientDisconnect, derr.Kind)

	require.Len(t, store.records, 1)
	assert.Equal(t, "client_disconnect", store.records[0].ResponseStatus)
}
