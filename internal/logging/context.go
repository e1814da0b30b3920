package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type threadCtxKey struct{}
type nodeCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation fields from ctx: trace and span ids,
// thread id, pipeline node and request id.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := ThreadIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("thread.id", id))
	}
	if node := NodeFromContext(ctx); node != "" {
		fields = append(fields, zap.String("node", node))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// WithThreadID tags ctx with the conversation thread being executed.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadCtxKey{}, threadID)
}

// ThreadIDFromContext returns the thread id or "".
func ThreadIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(threadCtxKey{}).(string)
	return s
}

// WithNode tags ctx with the pipeline node currently running.
func WithNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeCtxKey{}, node)
}

// NodeFromContext returns the node or "".
func NodeFromContext(ctx context.Context) string {
	s, _ := ctx.Value(nodeCtxKey{}).(string)
	return s
}

// WithRequestID tags ctx with the inbound HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
