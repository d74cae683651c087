package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/plexus/gateway/dialect"
	"github.com/plexus/gateway/dispatcher"
	"github.com/plexus/gateway/streaming"
)

type handlers struct {
	d *dispatcher.Dispatcher
}

func (h *handlers) chatCompletions(c *gin.Context) {
	h.handle(c, dialect.Chat, wantsStreamField)
}

func (h *handlers) messages(c *gin.Context) {
	h.handle(c, dialect.Messages, wantsStreamField)
}

func (h *handlers) responses(c *gin.Context) {
	h.handle(c, dialect.Responses, wantsStreamField)
}

// geminiGenerate serves both :generateContent and :streamGenerateContent,
// since Google's wire convention puts the method name after a colon in
// the same path segment rather than as a separate route.
func (h *handlers) geminiGenerate(c *gin.Context) {
	raw := c.Param("model")
	method := "generateContent"
	if idx := strings.LastIndex(raw, ":"); idx >= 0 {
		method = raw[idx+1:]
	}
	isStream := method == "streamGenerateContent" || c.Query("alt") == "sse"
	h.handle(c, dialect.Gemini, func([]byte) bool { return isStream })
}

func (h *handlers) handle(c *gin.Context, clientDialect dialect.Name, wantsStream func([]byte) bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body", "type": "invalid_request_error"}})
		return
	}

	dctx := &dispatcher.DispatchContext{
		RequestID:     requestIDFrom(c),
		SourceIP:      c.ClientIP(),
		APIKeyID:      apiKeyIDFrom(c),
		ClientDialect: clientDialect,
	}

	if wantsStream(body) {
		h.handleStream(c, dctx, body, clientDialect)
		return
	}

	result, derr := h.d.Dispatch(c.Request.Context(), dctx, body)
	if derr != nil {
		writeError(c, derr)
		return
	}
	c.Data(http.StatusOK, result.ContentType, result.Body)
}

func (h *handlers) handleStream(c *gin.Context, dctx *dispatcher.DispatchContext, body []byte, clientDialect dialect.Name) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	tw := &trackingWriter{ResponseWriter: c.Writer}
	c.Writer = tw

	err := h.d.DispatchStream(c.Request.Context(), dctx, body, tw, tw)
	if err == nil {
		return
	}
	if !tw.wrote {
		writeError(c, err)
		return
	}
	writeStreamTerminalError(streaming.NewWriter(tw, tw), clientDialect, err)
}

// wantsStreamField sniffs the JSON body's top-level "stream" field without
// fully parsing it, since every non-Gemini dialect signals streaming that
// way.
func wantsStreamField(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}
