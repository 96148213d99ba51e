// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// ServiceName is the default OTEL service name for kube-usage-agent.
	ServiceName = "kube-usage-agent"

	// TracerName is the instrumentation library name used for all spans.
	TracerName = "github.com/telekom/kube-usage-agent"

	// shutdownTimeout is the maximum time to wait for the exporter to flush.
	shutdownTimeout = 5 * time.Second
)

// Config holds the configuration for the tracing subsystem.
type Config struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// Endpoint is the OTLP collector endpoint (e.g. "otel-collector:4317").
	Endpoint string

	// SamplingRate is the ratio of traces to sample (0.0 to 1.0).
	SamplingRate float64

	// Insecure disables TLS for the OTLP exporter connection.
	Insecure bool
}

// Validate reports configuration errors that would make Setup fail.
// A disabled configuration is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("tracing endpoint must be set when tracing is enabled")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %f", c.SamplingRate)
	}
	return nil
}

// Provider wraps an OpenTelemetry TracerProvider and exposes a Tracer.
type Provider struct {
	tp     trace.TracerProvider
	tracer trace.Tracer
}

// Tracer returns the provider's tracer instance for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown gracefully shuts down the tracer provider, flushing any pending spans.
// Uses context.Background as parent because the incoming context may already be
// canceled (e.g. after signal handling), which would cause an immediate timeout.
func (p *Provider) Shutdown(_ context.Context) error {
	if sdkTP, ok := p.tp.(*sdktrace.TracerProvider); ok {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return sdkTP.Shutdown(shutdownCtx)
	}
	return nil
}

// Setup initializes the OpenTelemetry tracing subsystem based on the given config.
// If tracing is disabled, a no-op provider is returned.
func Setup(ctx context.Context, cfg Config, version string) (*Provider, error) {
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		return &Provider{
			tp:     tp,
			tracer: tp.Tracer(TracerName),
		}, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTEL resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Register as global provider and set propagators
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := tp.Tracer(TracerName)
	return &Provider{tp: tp, tracer: tracer}, nil
}

// Tracer returns the named tracer of the global provider. Components fall back to
// it when no tracer was injected; it is a no-op until Setup enables tracing.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Span attribute keys used across the agent.
var (
	AttrGroup        = attribute.Key("kube_usage_agent.group")
	AttrVersion      = attribute.Key("kube_usage_agent.version")
	AttrKind         = attribute.Key("kube_usage_agent.kind")
	AttrName         = attribute.Key("kube_usage_agent.name")
	AttrNamespace    = attribute.Key("kube_usage_agent.namespace")
	AttrOwnerCount   = attribute.Key("kube_usage_agent.owner_count")
	AttrPodCount     = attribute.Key("kube_usage_agent.pod_count")
	AttrFailureCount = attribute.Key("kube_usage_agent.failure_count")
	AttrAPICount     = attribute.Key("kube_usage_agent.api_resource_count")
)
