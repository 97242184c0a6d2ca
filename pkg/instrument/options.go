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

// Package instrument converts diagnostic events into OpenTelemetry spans.
// It hosts the correlators for outbound HTTP requests and controller action
// pipelines, plus the policy bundle that customizes them.
package instrument

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// DefaultComponent tags spans produced by the HTTP client correlator unless
// overridden with WithComponentName.
const DefaultComponent = "diagbridge"

// OperationNameFunc resolves the span operation name for a request.
type OperationNameFunc func(*http.Request) string

// RequestHook enriches a freshly started client span. It runs before header
// injection; a panic inside the hook is contained and logged.
type RequestHook func(trace.Span, *http.Request)

// ResponseHook enriches a client span just before it finishes. The response
// may be nil when the request failed without one.
type ResponseHook func(trace.Span, *http.Response)

// Options is the process-wide policy bundle shared by all correlator
// instances. It is resolved once at startup and read-only afterwards.
type Options struct {
	component     string
	operationName OperationNameFunc
	ignore        []IgnorePattern
	injectEnabled func(*http.Request) bool
	onRequest     RequestHook
	onResponse    ResponseHook
	logger        *slog.Logger
	metrics       *Metrics
}

// Option customizes an Options bundle at construction time.
type Option func(*Options)

// NewOptions builds an Options bundle. Defaults: component "diagbridge",
// operation name "HTTP <method>", no ignore patterns, injection always on,
// no hooks, slog.Default logging, no metrics.
func NewOptions(opts ...Option) *Options {
	o := &Options{
		component: DefaultComponent,
		operationName: func(req *http.Request) string {
			return "HTTP " + req.Method
		},
		injectEnabled: func(*http.Request) bool { return true },
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithComponentName sets the component tag applied to client spans.
func WithComponentName(name string) Option {
	return func(o *Options) { o.component = name }
}

// WithOperationName sets the operation-name resolver for client spans.
func WithOperationName(fn OperationNameFunc) Option {
	return func(o *Options) {
		if fn != nil {
			o.operationName = fn
		}
	}
}

// WithIgnore appends patterns to the ignore list. Patterns are evaluated in
// order with first-match-wins OR semantics, so order only affects how much
// work a match costs, never the outcome.
func WithIgnore(patterns ...IgnorePattern) Option {
	return func(o *Options) { o.ignore = append(o.ignore, patterns...) }
}

// WithInjectEnabled sets the predicate deciding whether trace context is
// injected into a request's headers. The span is created either way.
func WithInjectEnabled(fn func(*http.Request) bool) Option {
	return func(o *Options) {
		if fn != nil {
			o.injectEnabled = fn
		}
	}
}

// WithRequestHook sets the enrichment hook invoked after a client span
// starts.
func WithRequestHook(fn RequestHook) Option {
	return func(o *Options) { o.onRequest = fn }
}

// WithResponseHook sets the enrichment hook invoked before a client span
// finishes.
func WithResponseHook(fn ResponseHook) Option {
	return func(o *Options) { o.onResponse = fn }
}

// WithLogger sets the logger used by the correlators.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder to the correlators.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.metrics = m }
}

// ShouldIgnore reports whether any configured pattern matches the request.
// Evaluation short-circuits on the first match.
func (o *Options) ShouldIgnore(req *http.Request) bool {
	for _, match := range o.ignore {
		if match(req) {
			return true
		}
	}
	return false
}
