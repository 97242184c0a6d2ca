// Copyright 2026 The diagbridge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/diagbridge/diagbridge/internal/tracing/export"
	"github.com/diagbridge/diagbridge/pkg/instrument"
)

// Provider bundles the SDK tracer and meter providers the bridge runs on.
type Provider struct {
	tp      *sdktrace.TracerProvider
	mp      *sdkmetric.MeterProvider
	metrics *instrument.Metrics
}

// NewProvider builds a provider from the configuration: resource, sampler,
// one exporter pipeline per configured destination, a Prometheus metric
// reader, and the W3C propagator as the global propagator.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	// Empty schema URL avoids merge conflicts with the default resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.Sampling)),
	}

	for _, e := range cfg.Exporters {
		exporter, err := newExporter(ctx, e)
		if err != nil {
			return nil, err
		}
		if e.Type == "console" {
			opts = append(opts, sdktrace.WithSyncer(exporter))
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(W3CPropagator())

	promExporter, err := otelprom.New()
	if err != nil {
		tp.Shutdown(ctx)
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)

	metrics, err := instrument.NewMetrics(mp)
	if err != nil {
		tp.Shutdown(ctx)
		mp.Shutdown(ctx)
		return nil, fmt.Errorf("creating bridge metrics: %w", err)
	}

	return &Provider{tp: tp, mp: mp, metrics: metrics}, nil
}

func newExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	tlsConfig, err := export.BuildTLSConfig(export.TLSInput{
		Enabled:           cfg.TLS.Enabled,
		VerifyCertificate: cfg.TLS.VerifyCertificate,
		CACertPath:        cfg.TLS.CACertPath,
	})
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "otlp":
		return export.NewOTLPExporter(ctx, export.OTLPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  cfg.Insecure,
			TLSConfig: tlsConfig,
			Headers:   cfg.Headers,
			Timeout:   time.Duration(cfg.Timeout),
		})
	case "otlp-http":
		return export.NewOTLPHTTPExporter(ctx, export.OTLPHTTPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  cfg.Insecure,
			TLSConfig: tlsConfig,
			Headers:   cfg.Headers,
			Timeout:   time.Duration(cfg.Timeout),
		})
	case "console":
		return export.NewConsoleExporter(export.ConsoleConfig{PrettyPrint: true})
	default:
		return nil, fmt.Errorf("unknown exporter type %q", cfg.Type)
	}
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Metrics returns the bridge metrics recorder.
func (p *Provider) Metrics() *instrument.Metrics {
	return p.metrics
}

// MetricsHandler returns an HTTP handler exposing Prometheus metrics.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if err := p.tp.ForceFlush(ctx); err != nil {
		return err
	}
	return p.mp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and releases resources. Safe to call more
// than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
