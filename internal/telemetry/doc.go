// Package telemetry sets up OpenTelemetry tracing and metrics for fleetd.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("github.com/fyrsmithlabs/fleetd/internal/orchestrator")
//
// Spans and metrics are exported over OTLP (gRPC or HTTP). Exporter failures
// degrade the instance to no-op providers instead of failing startup.
// Tests use NewTestTelemetry, which records spans in memory.
package telemetry
