// Package httpapi exposes the gateway's four public wire-dialect
// endpoints over gin, translating each into a dispatcher.Dispatch or
// DispatchStream call and writing back whatever that call produces.
package httpapi

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plexus/gateway/common/logger"
	"github.com/plexus/gateway/dispatcher"
)

// NewEngine builds the gin engine serving every public endpoint. debug
// controls gin's own mode and log verbosity, mirroring how the teacher's
// main.go gates GIN_MODE off server config rather than an env var read
// deep inside a handler.
func NewEngine(d *dispatcher.Dispatcher, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestID(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
		recoverJSON(),
	)

	h := &handlers{d: d}

	v1 := r.Group("/v1")
	v1.Use(bearerAuth())
	{
		v1.POST("/chat/completions", h.chatCompletions)
		v1.POST("/messages", h.messages)
		v1.POST("/responses", h.responses)
	}

	v1beta := r.Group("/v1beta")
	v1beta.Use(bearerAuth())
	{
		v1beta.POST("/models/:model", h.geminiGenerate)
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
