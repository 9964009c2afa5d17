// Package context carries request and job correlation IDs through context.
package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Origin names what started a unit of work.
type Origin string

const (
	OriginHTTP   Origin = "http"
	OriginWorker Origin = "worker"
	OriginImport Origin = "import"
)

// TraceContext identifies one request or background job in logs.
type TraceContext struct {
	TraceID   string
	SpanID    string
	RequestID string
	Origin    Origin
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, t *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, t)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetRequestID returns request ID from context or empty string.
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// StartJob returns ctx tagged with a fresh job trace. An active
// OpenTelemetry span in ctx lends its trace and span IDs.
func StartJob(ctx context.Context, origin Origin) context.Context {
	jobID := uuid.NewString()
	t := &TraceContext{
		TraceID:   jobID,
		SpanID:    jobID[:8] + jobID[9:13] + jobID[14:18],
		RequestID: jobID,
		Origin:    origin,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		t.TraceID = sc.TraceID().String()
		t.SpanID = sc.SpanID().String()
	}
	return WithTrace(ctx, t)
}
