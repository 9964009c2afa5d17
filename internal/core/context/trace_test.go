package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestStartJob(t *testing.T) {
	ctx := StartJob(context.Background(), OriginWorker)

	tc := GetTrace(ctx)
	require.NotNil(t, tc)
	assert.Equal(t, OriginWorker, tc.Origin)
	assert.Equal(t, tc.RequestID, GetRequestID(ctx))
	assert.Equal(t, tc.RequestID, tc.TraceID)
	assert.Len(t, tc.SpanID, 16)
}

func TestStartJob_UsesSpanContext(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x01, 0x02},
		SpanID:  trace.SpanID{0x03},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tc := GetTrace(StartJob(ctx, OriginImport))
	require.NotNil(t, tc)
	assert.Equal(t, sc.TraceID().String(), tc.TraceID)
	assert.Equal(t, sc.SpanID().String(), tc.SpanID)
	assert.NotEqual(t, tc.TraceID, tc.RequestID)
}

func TestGetTrace_Missing(t *testing.T) {
	assert.Nil(t, GetTrace(context.Background()))
	assert.Empty(t, GetRequestID(context.Background()))
}
