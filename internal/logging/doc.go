// Package logging provides structured logging for fleetd.
//
// Logger wraps zap and adds correlation fields taken from the context:
// OpenTelemetry trace and span ids, the conversation thread id, the pipeline
// node being executed and the HTTP request id.
//
//	ctx = logging.WithThreadID(ctx, "alert_Vehicle-123_1718000000")
//	ctx = logging.WithNode(ctx, "diagnosis")
//	logger.Info(ctx, "worker finished", zap.Duration("duration", d))
//
// Output goes to stdout (JSON or console) and optionally to an OpenTelemetry
// LoggerProvider through the otelzap bridge. Stdout entries pass through a
// RedactingEncoder that masks credential-looking field names and values.
// Entries below error level are sampled; errors never are.
//
// Tests use NewTestLogger and its Assert helpers.
package logging
