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

// Package export provides span exporters for the destinations the bridge
// supports.
package export

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// OTLPConfig holds configuration for the OTLP gRPC exporter.
type OTLPConfig struct {
	// Endpoint is the gRPC endpoint (e.g., "localhost:4317").
	Endpoint string

	// Insecure disables TLS (for development only).
	Insecure bool

	// TLSConfig provides custom TLS configuration.
	TLSConfig *tls.Config

	// Headers contains custom headers to send with each request.
	Headers map[string]string

	// Timeout bounds each export call (0 means the exporter default).
	Timeout time.Duration
}

// NewOTLPExporter creates an OTLP gRPC trace exporter. Transport security
// follows the config: insecure for development, a validated custom TLS
// config, or the system cert pool with TLS 1.2+ by default.
func NewOTLPExporter(ctx context.Context, cfg OTLPConfig) (trace.SpanExporter, error) {
	if !cfg.Insecure && cfg.TLSConfig != nil {
		if err := ValidateTLSConfig(cfg.TLSConfig); err != nil {
			return nil, fmt.Errorf("invalid TLS config: %w", err)
		}
	}
	return NewOTLPExporterWithDialOptions(ctx, cfg)
}

// NewOTLPExporterWithDialOptions creates an OTLP gRPC exporter with custom
// dial options for advanced gRPC configuration. With no options given, the
// transport credentials are derived from the config.
func NewOTLPExporterWithDialOptions(ctx context.Context, cfg OTLPConfig, dialOpts ...grpc.DialOption) (trace.SpanExporter, error) {
	if len(dialOpts) == 0 {
		switch {
		case cfg.Insecure:
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		case cfg.TLSConfig != nil:
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(cfg.TLSConfig)))
		default:
			// System cert pool with TLS 1.2+.
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			})))
		}
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOpts...),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP gRPC exporter: %w", err)
	}
	return exporter, nil
}
