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

// Package tracing wires the bridge to the OpenTelemetry SDK: configuration,
// tracer/meter provider setup, sampling, exporters, and context propagation.
package tracing

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/diagbridge/diagbridge/pkg/instrument"
)

// Config holds the bridge configuration.
type Config struct {
	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the application version.
	ServiceVersion string `yaml:"service_version"`

	// Component is the component tag applied to client spans.
	Component string `yaml:"component"`

	// Inject controls whether trace context is injected into outbound
	// request headers.
	Inject bool `yaml:"inject"`

	// Ignore configures which requests are excluded from tracing.
	Ignore IgnoreConfig `yaml:"ignore"`

	// Sampling configures trace sampling.
	Sampling SamplingConfig `yaml:"sampling"`

	// Exporters configures export destinations.
	Exporters []ExporterConfig `yaml:"exporters"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// IgnoreConfig declares requests the bridge must not trace. The exporter
// endpoints from Config.Exporters are always ignored on top of these, so
// span export traffic never traces itself.
type IgnoreConfig struct {
	// Hosts lists URL hosts to exclude, with or without port.
	Hosts []string `yaml:"hosts"`

	// PathPrefixes lists URL path prefixes to exclude.
	PathPrefixes []string `yaml:"path_prefixes"`

	// Rules lists boolean expressions over {method, host, path, url}.
	Rules []string `yaml:"rules"`
}

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	// Enabled activates sampling (default: false - sample all).
	Enabled bool `yaml:"enabled"`

	// Rate is the fraction of traces to sample (0.0 - 1.0).
	Rate float64 `yaml:"rate"`

	// AlwaysSampleErrors samples all traces with errors.
	AlwaysSampleErrors bool `yaml:"always_sample_errors"`
}

// Duration is a time.Duration that decodes from YAML either as a Go
// duration string ("5s", "250ms") or as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ExporterConfig defines an export destination.
type ExporterConfig struct {
	// Type is the exporter type: "otlp", "otlp-http", or "console".
	Type string `yaml:"type"`

	// Endpoint is the receiver address (host:port or URL).
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS (for development only).
	Insecure bool `yaml:"insecure"`

	// Headers are additional headers for authentication.
	Headers map[string]string `yaml:"headers"`

	// Timeout is the export timeout, e.g. "5s".
	Timeout Duration `yaml:"timeout"`

	// TLS configures secure connections.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS for exporters.
type TLSConfig struct {
	// Enabled activates custom TLS settings.
	Enabled bool `yaml:"enabled"`

	// VerifyCertificate controls certificate validation.
	VerifyCertificate bool `yaml:"verify_certificate"`

	// CACertPath is the path to the CA certificate.
	CACertPath string `yaml:"ca_cert_path"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled serves bridge metrics over HTTP.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address (default: ":9464").
	Addr string `yaml:"addr"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "diagbridge",
		ServiceVersion: "unknown",
		Component:      instrument.DefaultComponent,
		Inject:         true,
		Sampling: SamplingConfig{
			Enabled:            false,
			Rate:               1.0,
			AlwaysSampleErrors: true,
		},
		Exporters: nil,
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for mistakes a typo can produce.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name must not be empty")
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be within [0, 1], got %g", c.Sampling.Rate)
	}
	for _, e := range c.Exporters {
		switch e.Type {
		case "otlp", "otlp-http", "console":
		default:
			return fmt.Errorf("unknown exporter type %q", e.Type)
		}
		if e.Type != "console" && e.Endpoint == "" {
			return fmt.Errorf("exporter %q requires an endpoint", e.Type)
		}
	}
	for _, rule := range c.Ignore.Rules {
		if _, err := instrument.IgnoreExpr(rule); err != nil {
			return err
		}
	}
	return nil
}

// BuildOptions assembles the correlator policy bundle from the config. The
// self-trace rule covering every configured exporter endpoint is installed
// first since it is the cheapest match for export traffic.
func (c Config) BuildOptions(logger *slog.Logger, metrics *instrument.Metrics) (*instrument.Options, error) {
	var patterns []instrument.IgnorePattern

	endpoints := make([]string, 0, len(c.Exporters))
	for _, e := range c.Exporters {
		if e.Endpoint != "" {
			endpoints = append(endpoints, e.Endpoint)
		}
	}
	if len(endpoints) > 0 {
		patterns = append(patterns, instrument.IgnoreSelfTrace(endpoints...))
	}

	for _, host := range c.Ignore.Hosts {
		patterns = append(patterns, instrument.IgnoreHost(host))
	}
	for _, prefix := range c.Ignore.PathPrefixes {
		patterns = append(patterns, instrument.IgnorePathPrefix(prefix))
	}
	for _, rule := range c.Ignore.Rules {
		p, err := instrument.IgnoreExpr(rule)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	inject := c.Inject
	opts := []instrument.Option{
		instrument.WithComponentName(c.Component),
		instrument.WithIgnore(patterns...),
		instrument.WithInjectEnabled(func(*http.Request) bool { return inject }),
		instrument.WithMetrics(metrics),
	}
	if logger != nil {
		opts = append(opts, instrument.WithLogger(logger))
	}
	return instrument.NewOptions(opts...), nil
}
