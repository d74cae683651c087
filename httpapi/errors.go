package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/dispatcher"
	"github.com/plexus/gateway/streaming"
)

// writeError renders a dispatcher failure as the pre-stream JSON error
// body: the only case the client hasn't received a 200 yet, so a normal
// status-coded JSON response is still possible.
func writeError(c *gin.Context, err error) {
	de, ok := err.(*dispatcher.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "internal error", "type": "internal_error"}})
		return
	}

	if de.Upstream != nil {
		c.Data(de.StatusCode, "application/json", de.Upstream)
		return
	}

	body := gin.H{"message": de.Message, "type": string(de.Kind)}
	if de.Field != "" {
		body["field"] = de.Field
	}
	c.JSON(de.StatusCode, gin.H{"error": body})
}

// writeStreamTerminalError reports a mid-stream failure as one last event
// shaped to the client's own dialect, since headers and earlier chunks
// are already on the wire and cannot be replaced with a plain error
// response.
func writeStreamTerminalError(w *streaming.Writer, clientDialect dialect.Name, err error) {
	msg := err.Error()
	if de, ok := err.(*dispatcher.Error); ok {
		msg = de.Message
	}

	switch clientDialect {
	case dialect.Chat:
		_ = w.WriteFrame(streaming.Frame{Data: []byte(`{"error":{"message":` + jsonString(msg) + `,"type":"server_error"}}`)})
		_ = w.WriteFrame(streaming.Frame{Data: []byte("[DONE]")})
	case dialect.Messages:
		_ = w.WriteFrame(streaming.Frame{Event: "error", Data: []byte(`{"type":"error","error":{"type":"api_error","message":` + jsonString(msg) + `}}`)})
	case dialect.Responses:
		_ = w.WriteFrame(streaming.Frame{Event: "response.failed", Data: []byte(`{"type":"response.failed","error":{"message":` + jsonString(msg) + `}}`)})
	case dialect.Gemini:
		_ = w.WriteFrame(streaming.Frame{Data: []byte(`{"error":{"message":` + jsonString(msg) + `}}`)})
	}
}

// jsonString renders s as a JSON string literal, including its quotes,
// for the hand-built terminal-error frames above.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// trackingWriter wraps gin's ResponseWriter to record whether any byte
// has reached the client, so a mid-dispatch streaming error can still be
// told apart from a genuinely mid-stream one.
type trackingWriter struct {
	gin.ResponseWriter
	wrote bool
}

func (w *trackingWriter) Write(p []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(p)
}
