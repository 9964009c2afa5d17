package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	appctx "bondstock/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

const maxCorrelationIDLen = 128

// Trace tags the request context with correlation IDs. Client-supplied IDs
// are echoed back when they are short printable ASCII, otherwise replaced.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := correlationID(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		tc := &appctx.TraceContext{
			TraceID:   correlationID(c.GetHeader(HeaderTraceID)),
			RequestID: requestID,
			Origin:    appctx.OriginHTTP,
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			tc.TraceID = sc.TraceID().String()
			tc.SpanID = sc.SpanID().String()
		}
		if tc.TraceID == "" {
			tc.TraceID = requestID
		}
		c.Request = c.Request.WithContext(appctx.WithTrace(c.Request.Context(), tc))

		c.Set("trace_id", tc.TraceID)
		c.Set("request_id", requestID)

		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, tc.TraceID)

		c.Next()
	}
}

func correlationID(v string) string {
	if len(v) > maxCorrelationIDLen {
		return ""
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return ""
		}
	}
	return v
}
