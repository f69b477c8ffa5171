// Package telemetry provides observability instrumentation for topd.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing.
//
// # Architecture
//
//  1. Structured Logging - context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry spans with stdout or OTLP exporters
//  3. Metrics Collection - render counts, durations and errors by kind
//  4. Event Publishing - render and policy events for audit subscribers
//
// # Usage
//
// Initialize telemetry once in the command layer:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Library code never requires telemetry. StartOperation works with or
// without a Telemetry in the context:
//
//	op := telemetry.StartOperation(ctx, telemetry.SpanRender,
//	    telemetry.AttrEnvironment.String(env))
//	defer op.End(err)
//
// # Metrics
//
//	topd_renders_total{namespace,status}
//	topd_render_duration_seconds{namespace}
//	topd_fragments_merged_total{namespace}
//	topd_match_keys{environment,namespace}
//	topd_errors_by_kind_total{kind}
//	topd_watch_reloads_total
//
// Metrics are served only when a listen address is configured.
package telemetry
