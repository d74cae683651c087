package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/plexus/gateway/common/graceful"
	"github.com/plexus/gateway/common/logger"
)

const ctxKeyRequestID = "request_id"
const ctxKeyAPIKeyID = "api_key_id"

// requestID stamps every request with a correlation id, mirroring the
// teacher's middleware.RequestId but sourcing the id from
// logger.RequestID rather than a bespoke generator.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := logger.RequestID()
		c.Set(ctxKeyRequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// bearerAuth requires an Authorization: Bearer <key> header and derives a
// stable, non-reversible api_key_id from it so the usage ledger never
// stores a caller's raw secret.
func bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"message": "missing or malformed Authorization header",
				"type":    "invalid_request_error",
			}})
			c.Abort()
			return
		}

		sum := sha256.Sum256([]byte(token))
		c.Set(ctxKeyAPIKeyID, hex.EncodeToString(sum[:])[:16])
		c.Next()
	}
}

// recoverJSON catches a panic from any handler below it and reports it as
// a 500 rather than letting gin's bare recovery close the connection.
func recoverJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer graceful.BeginRequest()()
		defer func() {
			if err := recover(); err != nil {
				logger.L().Error("panic in request handler",
					zap.Any("panic", err),
					zap.String("stacktrace", string(debug.Stack())),
					zap.String("path", c.Request.URL.Path))
				c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
					"message": "internal error",
					"type":    "internal_error",
				}})
				c.Abort()
			}
		}()
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	v, _ := c.Get(ctxKeyRequestID)
	s, _ := v.(string)
	return s
}

func apiKeyIDFrom(c *gin.Context) string {
	v, _ := c.Get(ctxKeyAPIKeyID)
	s, _ := v.(string)
	return s
}
