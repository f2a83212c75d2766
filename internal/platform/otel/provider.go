// Package otel wires opt-in OpenTelemetry tracing for service processes.
package otel

import (
	"context"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	envEndpoint    = "GUILDVAULT_OTEL_ENDPOINT"
	envEnabled     = "GUILDVAULT_OTEL_ENABLED"
	envSampleRatio = "GUILDVAULT_OTEL_SAMPLE_RATIO"
)

// Setup initialises tracing for the named service and returns a shutdown
// function that flushes pending spans.
//
// Tracing is opt-in: with no GUILDVAULT_OTEL_ENDPOINT, or with
// GUILDVAULT_OTEL_ENABLED set to "false", no global provider is registered
// and the returned shutdown is a no-op. GUILDVAULT_OTEL_SAMPLE_RATIO
// (0..1, default 1) controls the trace sampler.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	endpoint := os.Getenv(envEndpoint)
	if endpoint == "" || strings.EqualFold(os.Getenv(envEnabled), "false") {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFromEnv()),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return provider.Shutdown, nil
}

func samplerFromEnv() sdktrace.Sampler {
	raw := os.Getenv(envSampleRatio)
	if raw == "" {
		return sdktrace.AlwaysSample()
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	if ratio <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(ratio)
}
