package mq

import (
	"context"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"milestonehub/pkg/trace"
)

func TestHeaders_CarriesTraceID(t *testing.T) {
	ctx := trace.WithContext(context.Background(), "trace-123")

	h := Headers(ctx, amqp091.Table{"x-original-error": "boom"})
	assert.Equal(t, "trace-123", h[trace.TraceIDKey])
	assert.Equal(t, "boom", h["x-original-error"])

	empty := Headers(context.Background(), nil)
	assert.NotContains(t, empty, trace.TraceIDKey)
}

func TestContextFromHeaders(t *testing.T) {
	ctx := ContextFromHeaders(context.Background(), amqp091.Table{trace.TraceIDKey: "trace-abc"})
	assert.Equal(t, "trace-abc", trace.FromContext(ctx))

	ctx = ContextFromHeaders(context.Background(), nil)
	assert.NotEmpty(t, trace.FromContext(ctx))
}

func TestDLQQueueName(t *testing.T) {
	assert.Equal(t, "milestone.submitted.dlq", DLQQueueName("milestone.submitted"))
}

func TestDLQHeaders(t *testing.T) {
	ctx := trace.WithContext(context.Background(), "trace-dlq")
	h := Headers(ctx, amqp091.Table{HeaderOriginalError: "bad payload", HeaderFailedAt: "milestonehub-worker"})

	assert.Equal(t, "bad payload", h[HeaderOriginalError])
	assert.Equal(t, "milestonehub-worker", h[HeaderFailedAt])
	assert.Equal(t, "trace-dlq", h[trace.TraceIDKey])
}
