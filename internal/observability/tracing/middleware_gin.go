package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/seeklabs/bloxscout/internal/observability/obscontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. The span starts under the
// method name and is renamed once gin has matched the route, so spans group
// by route template instead of raw paths.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("bloxscout/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestIDBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		finishSpan(c, span)
	}
}

func finishSpan(c *gin.Context, span trace.Span) {
	route := c.FullPath()
	if route == "" {
		route = "unknown"
	}
	method := strings.ToUpper(c.Request.Method)
	status := c.Writer.Status()

	span.SetName(method + " " + route)
	span.SetAttributes(SafeAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)...)

	if status < http.StatusInternalServerError {
		return
	}
	span.SetStatus(codes.Error, http.StatusText(status))
	if last := c.Errors.Last(); last != nil {
		if recErr := SafeError(last.Err); recErr != nil {
			span.RecordError(recErr)
		}
	}
}

func withRequestIDBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
