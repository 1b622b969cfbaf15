package trace

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
)

type ctxKey struct{}

const (
	// TraceIDKey 日志字段与 AMQP header 中的名称
	TraceIDKey = "trace_id"
	// HeaderName HTTP 请求与响应头中的名称
	HeaderName = "X-Trace-ID"
)

// GenerateTraceID 32 位十六进制，与 W3C trace-id 长度一致
func GenerateTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// Ensure 返回带 trace_id 的 ctx，没有时生成一个
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateTraceID()
	return WithContext(ctx, id), id
}
