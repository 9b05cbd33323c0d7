package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/seeklabs/bloxscout/internal/observability/obscontext"
	"go.uber.org/zap"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware stamps each request with a correlation id, threads the
// client address and user agent through the context, and writes one access
// log line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = obscontext.WithClientIP(ctx, c.ClientIP())
		ctx = obscontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		emitRequestLog(c, cfg, start)
	}
}

// ensureRequestID reuses an inbound correlation id when the caller supplied
// one and mints a fresh id otherwise. The id is echoed on the response so
// clients can quote it in support tickets.
func ensureRequestID(c *gin.Context) string {
	var requestID string
	for _, candidate := range []string{
		c.GetHeader("X-Request-Id"),
		c.GetHeader("X-Request-ID"),
		c.GetString("request_id"),
	} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			requestID = candidate
			break
		}
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

func emitRequestLog(c *gin.Context, cfg MiddlewareConfig, start time.Time) {
	log := FromContext(c.Request.Context())
	if log == nil {
		return
	}

	status := c.Writer.Status()
	route := strings.TrimSpace(c.FullPath())
	if route == "" {
		route = "unknown"
	}

	fields := make([]zap.Field, 0, 12)
	fields = append(fields,
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int64("bytes_in", nonNegative(c.Request.ContentLength)),
		zap.Int("bytes_out", nonNegative(c.Writer.Size())),
	)
	if mode := strings.TrimSpace(c.GetString("search_mode")); mode != "" {
		fields = append(fields, zap.String("search_mode", mode))
	}

	var errorType string
	if last := c.Errors.Last(); last != nil {
		var errorCode string
		if cfg.ErrorClassifier != nil {
			errorType, errorCode = cfg.ErrorClassifier(last.Err)
		}
		fields = append(fields,
			zap.String("error_type", errorType),
			zap.String("error_code", errorCode),
		)
		if cfg.Debug {
			fields = append(fields, zap.Stack("stack"))
		}
	}

	// Scrapes stay at debug so they never drown out real traffic, and so do
	// the rejections the search endpoints hand out in bulk.
	switch {
	case strings.EqualFold(route, "/metrics"):
		log.Debug("http_request", fields...)
	case status >= http.StatusInternalServerError:
		log.Error("http_request", fields...)
	case isSearchValidationReject(route, status, errorType):
		log.Debug("http_request", fields...)
	default:
		log.Info("http_request", fields...)
	}
}

func isSearchValidationReject(route string, status int, errorType string) bool {
	if status < http.StatusBadRequest || status >= http.StatusInternalServerError {
		return false
	}
	if errorType != "validation_error" {
		return false
	}
	return strings.EqualFold(route, "/v1/search") || strings.EqualFold(route, "/v1/public/search")
}

func nonNegative[T int | int64](value T) T {
	if value < 0 {
		return 0
	}
	return value
}
