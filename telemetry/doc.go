// Package telemetry traces and counts packets crossing a peer link.
//
// Tracing uses OpenTelemetry. InitProvider installs an OTLP exporter
// (grpc or http) as the global provider; NewMiddleware then records one
// span per request in each direction of a middleware.Pipeline.
//
// Metrics use Prometheus. The middleware counts packets and their
// latency; CountOutcomes wraps a heartbeat scheduler's callbacks so each
// probe outcome is counted per peer. MetricsHandler serves the registry.
//
//	provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfigFrom(cfg))
//	defer provider.Shutdown(ctx)
//
//	pipe := middleware.NewPipeline(ep, telemetry.NewMiddleware(provider.Tracer()), hb)
//	http.Handle("/metrics", telemetry.MetricsHandler())
package telemetry
