package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	gutils "github.com/Laisky/go-utils/v5"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
)

var (
	Logger glog.Logger

	// LogDir, when non-empty, mirrors gin's request and error logs
	// (gin.DefaultWriter and gin.DefaultErrorWriter) to a file under this
	// directory; the structured logger is not mirrored.
	LogDir string

	// OnlyOneLogFile collapses daily log rotation into a single file, for
	// deployments that ship logs off-box by tailing rather than by date.
	OnlyOneLogFile bool

	setupLogOnce sync.Once
	initLogOnce  sync.Once
)

// init initializes the logger automatically when the package is imported
func init() {
	initLogger(false)
}

// initLogger initializes the go-utils logger
func initLogger(debug bool) {
	initLogOnce.Do(func() {
		var err error
		level := glog.LevelInfo
		if debug {
			level = glog.LevelDebug
		}

		Logger, err = glog.NewConsoleWithName("plexus", level)
		if err != nil {
			panic(fmt.Sprintf("failed to create logger: %+v", err))
		}
	})
}

// L returns the process logger, for call sites that don't want to depend on
// the package-level Logger var directly.
func L() glog.Logger { return Logger }

// SetDebug raises or lowers the global log level after startup, once config
// has finished loading.
func SetDebug(debug bool) {
	level := "info"
	if debug {
		level = "debug"
	}
	if err := Logger.ChangeLevel(level); err != nil {
		Logger.Warn("change log level", zap.Error(err))
	}
}

func SetupLogger() {
	setupLogOnce.Do(func() {
		if LogDir != "" {
			var logPath string
			if OnlyOneLogFile {
				logPath = filepath.Join(LogDir, "plexus.log")
			} else {
				logPath = filepath.Join(LogDir, fmt.Sprintf("plexus-%s.log", time.Now().Format("20060102")))
			}
			fd, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				log.Fatal("failed to open log file")
			}
			gin.DefaultWriter = io.MultiWriter(os.Stdout, fd)
			gin.DefaultErrorWriter = io.MultiWriter(os.Stderr, fd)
		}
	})
}

// AlertConfig configures the optional error-level alert webhook. The zero
// value disables alerting.
type AlertConfig struct {
	PushAPI   string
	PushType  string
	PushToken string
}

// SetupEnhancedLogger sets up the logger with alertPusher integration
func SetupEnhancedLogger(ctx context.Context, alert AlertConfig, debug bool) {
	opts := []zap.Option{}

	// Setup alert pusher if configured
	if alert.PushAPI != "" {
		ratelimiter, err := gutils.NewRateLimiter(ctx, gutils.RateLimiterArgs{
			Max:     1,
			NPerSec: 1,
		})
		if err != nil {
			Logger.Panic("create ratelimiter", zap.Error(err))
		}

		alertPusher, err := glog.NewAlert(
			ctx,
			alert.PushAPI,
			glog.WithAlertType(alert.PushType),
			glog.WithAlertToken(alert.PushToken),
			glog.WithAlertHookLevel(zap.ErrorLevel),
			glog.WithRateLimiter(ratelimiter),
		)
		if err != nil {
			Logger.Panic("create AlertPusher", zap.Error(err))
		}

		opts = append(opts, zap.HooksWithFields(alertPusher.GetZapHook()))
		Logger.Info("alert pusher configured",
			zap.String("alert_api", alert.PushAPI),
			zap.String("alert_type", alert.PushType),
		)
	}

	// Get hostname for logger context
	hostname, err := os.Hostname()
	if err != nil {
		Logger.Panic("get hostname", zap.Error(err))
	}

	// Apply options and add hostname context
	logger := Logger.WithOptions(opts...).With(
		zap.String("host", hostname),
	)
	Logger = logger

	// Set log level based on debug mode
	if debug {
		_ = Logger.ChangeLevel("debug")
		Logger.Info("running in debug mode with enhanced logging")
	} else {
		_ = Logger.ChangeLevel("info")
		Logger.Info("running in production mode with enhanced logging")
	}
}

// RequestID generates a compact identifier for request/trace correlation.
func RequestID() string {
	return gutils.UUID7()
}
