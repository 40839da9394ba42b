package logger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/tally/internal/observability/context"
	"github.com/smallbiznis/tally/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware tags each request with a request ID and a correlation ID,
// then logs one line per request. The correlation ID is what ties handler
// logs, the enqueued job, and worker logs for one upload together;
// X-Correlation-Id lets callers bring their own.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := ensureRequestID(c)
		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = seedActor(ctx, c)
		ctx, correlationID := seedCorrelation(ctx, c)
		c.Header("X-Correlation-Id", correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", clampInt64(c.Request.ContentLength)),
			zap.Int("bytes_out", clampInt(c.Writer.Size())),
		}
		if batchID := strings.TrimSpace(c.Param("batchId")); batchID != "" {
			fields = append(fields, zap.String("batch_id", batchID))
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		switch requestLogLevel(route, status, errorType) {
		case zap.DebugLevel:
			log.Debug("http_request", fields...)
		case zap.ErrorLevel:
			log.Error("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

// seedCorrelation prefers a caller-supplied ID so a client retrying the same
// upload can keep one thread, and mints a fresh one otherwise.
func seedCorrelation(ctx context.Context, c *gin.Context) (context.Context, string) {
	if supplied := strings.TrimSpace(c.GetHeader("X-Correlation-Id")); supplied != "" {
		return correlation.ContextWithCorrelationID(ctx, supplied), supplied
	}
	return correlation.EnsureCorrelationID(ctx)
}

// seedActor records the operator identity when the console passes one, so
// audit rows name a person instead of the admin fallback.
func seedActor(ctx context.Context, c *gin.Context) context.Context {
	if actorID := strings.TrimSpace(c.GetHeader("X-Actor-Id")); actorID != "" {
		return obscontext.WithActor(ctx, "user", actorID)
	}
	return ctx
}

// requestLogLevel keeps routine noise out of the Info stream: probe and
// metrics scrapes always land at Debug, as do upload validation rejections,
// which arrive in bulk whenever a client loops over a bad file.
func requestLogLevel(route string, status int, errorType string) zapcore.Level {
	route = strings.TrimSpace(route)
	switch {
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case strings.EqualFold(route, "/metrics"), strings.HasPrefix(route, "/health"):
		return zap.DebugLevel
	case strings.HasSuffix(route, "/reconciliation/upload") && errorType == "validation_error" && status >= http.StatusBadRequest:
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}

func clampInt64(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

func clampInt(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
