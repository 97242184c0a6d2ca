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
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewSampler creates a sampler from the sampling configuration. With
// sampling disabled, or a rate of 1.0 and above, everything is sampled.
func NewSampler(cfg SamplingConfig) sdktrace.Sampler {
	if !cfg.Enabled || cfg.Rate >= 1.0 {
		return sdktrace.AlwaysSample()
	}

	var base sdktrace.Sampler
	if cfg.Rate <= 0.0 {
		base = sdktrace.NeverSample()
	} else {
		base = sdktrace.TraceIDRatioBased(cfg.Rate)
	}

	if cfg.AlwaysSampleErrors {
		return &errorAwareSampler{base: base}
	}
	return base
}

// errorAwareSampler wraps a base sampler so spans that already carry an
// error marker at start time are always recorded.
type errorAwareSampler struct {
	base sdktrace.Sampler
}

// ShouldSample implements the Sampler interface.
func (s *errorAwareSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, attr := range params.Attributes {
		if attr.Key == "error" && attr.Value.AsBool() {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.RecordAndSample,
				Tracestate: trace.SpanContextFromContext(params.ParentContext).TraceState(),
			}
		}
	}
	return s.base.ShouldSample(params)
}

// Description returns a description of the sampler.
func (s *errorAwareSampler) Description() string {
	return "ErrorAwareSampler{base=" + s.base.Description() + "}"
}
