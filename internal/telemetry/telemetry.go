// Package telemetry wires settings-driven OpenTelemetry trace export for the
// wallet's outbound HTTP path.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"pkt.systems/pslog"

	"pkt.systems/walletd/internal/settings"
	"pkt.systems/walletd/internal/svcfields"
)

// Bundle carries the active providers so shutdown can flush them.
type Bundle struct {
	tracerProvider *sdktrace.TracerProvider
	logger         pslog.Logger
}

// Setup builds a tracer provider from the otel settings block. When export is
// disabled the returned bundle is inert and Transport passes through.
func Setup(ctx context.Context, cfg settings.Otel, logger pslog.Logger) (*Bundle, error) {
	logger = svcfields.WithSubsystem(logger, "telemetry")
	b := &Bundle{logger: logger}
	if !cfg.Enabled || !cfg.ExportTraces {
		return b, nil
	}

	opts := []otlptracehttp.Option{}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	if auth := strings.TrimSpace(cfg.AuthHeader); auth != "" {
		opts = append(opts, otlptracehttp.WithHeaders(map[string]string{"Authorization": auth}))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "walletd"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	b.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(b.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("trace export enabled", "endpoint", cfg.Endpoint, "service", serviceName)
	return b, nil
}

// Transport instruments base for outbound dispatch when export is active.
func (b *Bundle) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if b == nil || b.tracerProvider == nil {
		return base
	}
	return otelhttp.NewTransport(base)
}

// Shutdown flushes pending spans.
func (b *Bundle) Shutdown(ctx context.Context) error {
	if b == nil || b.tracerProvider == nil {
		return nil
	}
	if err := b.tracerProvider.Shutdown(ctx); err != nil {
		b.logger.Warn("trace shutdown failed", "error", err)
		return err
	}
	return nil
}
