// Package telemetry traces and meters tbk's calls to the remote worklog
// store. Nothing is exported unless TBK_OTEL_ENABLED=true.
//
//	TBK_OTEL_STDOUT=true                 print spans and metrics to stderr
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT  push metrics over OTLP/HTTP
//	OTEL_EXPORTER_OTLP_ENDPOINT          same, when the metrics endpoint is unset
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var shutdown []func(context.Context) error

// Enabled reports whether TBK_OTEL_ENABLED=true.
func Enabled() bool {
	return os.Getenv("TBK_OTEL_ENABLED") == "true"
}

// Init installs the global tracer and meter providers. It does nothing when
// telemetry is disabled; the OTel globals are no-ops by default.
func Init(ctx context.Context, service, version string) error {
	if !Enabled() {
		return nil
	}
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	)
	stdout := os.Getenv("TBK_OTEL_STDOUT") == "true"

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	if stdout {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return fmt.Errorf("telemetry: stdout traces: %w", err)
		}
		tp.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exp))
	}

	readers := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return fmt.Errorf("telemetry: stdout metrics: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		// The exporter reads the endpoint, headers and TLS settings from the environment.
		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return fmt.Errorf("telemetry: otlp metrics: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))))
	}
	mp := sdkmetric.NewMeterProvider(readers...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	shutdown = append(shutdown, tp.Shutdown, mp.Shutdown)
	return nil
}

// Shutdown flushes pending spans and metrics. Export errors are dropped.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdown {
		_ = fn(ctx)
	}
	shutdown = nil
}
