// Package telemetry wires OpenTelemetry for driftwatch: traces to OTLP when
// configured, metrics to OTLP and always to a private Prometheus registry.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yairfalse/driftwatch/internal/config"
	"github.com/yairfalse/driftwatch/types"
)

// OpenAlertSource reports the currently open alerts.
type OpenAlertSource interface {
	ListOpenAlerts(ctx context.Context) ([]types.Alert, error)
}

// Provider owns the tracer and meter providers for the process.
type Provider struct {
	traces   *sdktrace.TracerProvider
	metrics  *sdkmetric.MeterProvider
	registry *prometheus.Registry
	meter    metric.Meter
	scan     *ScanMetrics

	openAlerts metric.Registration
}

// NewProvider installs global tracer and meter providers built from cfg.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	traceOpts, err := traceOptions(ctx, cfg, res)
	if err != nil {
		return nil, err
	}

	p := &Provider{registry: prometheus.NewRegistry()}
	metricOpts, err := p.metricOptions(ctx, cfg, res)
	if err != nil {
		return nil, err
	}

	p.traces = sdktrace.NewTracerProvider(traceOpts...)
	p.metrics = sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	p.meter = p.metrics.Meter("driftwatch")

	if p.scan, err = NewScanMetrics(p.meter); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	return p, nil
}

func traceOptions(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) ([]sdktrace.TracerProviderOption, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if !cfg.Traces.Enabled || cfg.Endpoint == "" {
		return opts, nil
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	exp, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
	return append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler)), nil
}

func (p *Provider) metricOptions(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) ([]sdkmetric.Option, error) {
	prom, err := otelprom.New(otelprom.WithRegisterer(p.registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(prom)}
	if !cfg.Metrics.Enabled || cfg.Endpoint == "" {
		return opts, nil
	}

	exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	exp, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp))), nil
}

// ObserveOpenAlerts publishes driftwatch.alerts.open by severity, read from
// source at every collection.
func (p *Provider) ObserveOpenAlerts(source OpenAlertSource) error {
	gauge, err := p.meter.Int64ObservableGauge(
		"driftwatch.alerts.open",
		metric.WithDescription("Open alerts by severity"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return fmt.Errorf("create open alerts gauge: %w", err)
	}

	p.openAlerts, err = p.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		alerts, err := source.ListOpenAlerts(ctx)
		if err != nil {
			return err
		}
		counts := make(map[types.Severity]int64, len(types.Severities))
		for _, a := range alerts {
			counts[a.Severity]++
		}
		for _, sev := range types.Severities {
			o.ObserveInt64(gauge, counts[sev], metric.WithAttributes(attribute.String("severity", string(sev))))
		}
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("register open alerts callback: %w", err)
	}
	return nil
}

// Tracer returns the driftwatch tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.traces.Tracer("driftwatch")
}

// Meter returns the driftwatch meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// ScanMetrics returns the pipeline instruments.
func (p *Provider) ScanMetrics() *ScanMetrics {
	return p.scan
}

// MetricsHandler serves the Prometheus exposition of every OTEL metric.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.openAlerts != nil {
		errs = append(errs, p.openAlerts.Unregister())
	}
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter: %w", err))
		}
	}
	return errors.Join(errs...)
}
