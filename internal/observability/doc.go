// Package observability wires logging, metrics, and tracing for sifts.
//
// The package implements three concerns:
//
//  1. Logging - structured logs via slog with JSON or text output
//  2. Metrics - Prometheus counters and histograms for collection operations
//  3. Tracing - OpenTelemetry span export over OTLP gRPC
//
// The library itself only depends on *slog.Logger and the sifts.Metrics
// interface; this package provides the concrete implementations the CLI
// (and embedding applications) install at startup.
//
// Example:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "sifts",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	coll, err := sifts.New(ctx, url, name,
//	    sifts.WithLogger(logger),
//	    sifts.WithMetrics(metrics),
//	)
//
// NewTracer installs a global tracer provider, so spans started inside the
// sifts library are exported without further wiring.
package observability
