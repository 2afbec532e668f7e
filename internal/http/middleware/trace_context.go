package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// Route params copied onto the request span. Learner ids are digested.
var spanParams = []string{"module_id", "topic_id", "vcu_id", "collection"}

// AttachTraceContext carries trace and request ids through the request and
// tags the active span with the lifecycle entities the route names.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		traceID := ""
		if spanCtx.HasTraceID() {
			traceID = spanCtx.TraceID().String()
		}
		if traceID == "" {
			traceID = strings.TrimSpace(c.GetHeader(headerTraceID))
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}
		learnerID := c.Param("learner_id")
		ctx := ctxutil.WithTraceData(c.Request.Context(), &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
			LearnerID: learnerID,
		})
		if attrs := routeAttributes(c, learnerID); len(attrs) > 0 {
			trace.SpanFromContext(ctx).SetAttributes(attrs...)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set("trace_id", traceID)
		c.Set("request_id", reqID)
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

func routeAttributes(c *gin.Context, learnerID string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if learnerID != "" {
		attrs = append(attrs, attribute.String("lifecycle.learner", logger.Digest(learnerID)))
	}
	for _, name := range spanParams {
		if v := c.Param(name); v != "" {
			attrs = append(attrs, attribute.String("lifecycle."+name, v))
		}
	}
	return attrs
}
