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

package instrument

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics records bridge health counters: how many spans the correlators
// produced, how many requests the policy filtered out, and how often the
// failure paths (bad payloads, hook panics, broken event pairing) fired.
//
// All Record methods are nil-receiver safe so correlators can run without a
// meter provider.
type Metrics struct {
	meter metric.Meter

	spansStarted          metric.Int64Counter
	spansFinished         metric.Int64Counter
	requestsIgnored       metric.Int64Counter
	hookFailures          metric.Int64Counter
	decodeFailures        metric.Int64Counter
	duplicateCorrelations metric.Int64Counter
}

// NewMetrics creates a metrics recorder on the given meter provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("diagbridge")
	m := &Metrics{meter: meter}

	var err error

	m.spansStarted, err = meter.Int64Counter(
		"diagbridge_spans_started_total",
		metric.WithDescription("Spans started by the bridge correlators"),
		metric.WithUnit("{span}"),
	)
	if err != nil {
		return nil, err
	}

	m.spansFinished, err = meter.Int64Counter(
		"diagbridge_spans_finished_total",
		metric.WithDescription("Spans finished by the bridge correlators"),
		metric.WithUnit("{span}"),
	)
	if err != nil {
		return nil, err
	}

	m.requestsIgnored, err = meter.Int64Counter(
		"diagbridge_requests_ignored_total",
		metric.WithDescription("Requests matched by an ignore pattern"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.hookFailures, err = meter.Int64Counter(
		"diagbridge_hook_failures_total",
		metric.WithDescription("Enrichment hooks that panicked and were contained"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	m.decodeFailures, err = meter.Int64Counter(
		"diagbridge_decode_failures_total",
		metric.WithDescription("Diagnostic events dropped because their payload could not be decoded"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	m.duplicateCorrelations, err = meter.Int64Counter(
		"diagbridge_duplicate_correlations_total",
		metric.WithDescription("Start events seen for requests that already had an active span"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordSpanStarted counts one started span.
func (m *Metrics) RecordSpanStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.spansStarted.Add(ctx, 1)
}

// RecordSpanFinished counts one finished span.
func (m *Metrics) RecordSpanFinished(ctx context.Context) {
	if m == nil {
		return
	}
	m.spansFinished.Add(ctx, 1)
}

// RecordIgnored counts one request filtered out by the ignore policy.
func (m *Metrics) RecordIgnored(ctx context.Context) {
	if m == nil {
		return
	}
	m.requestsIgnored.Add(ctx, 1)
}

// RecordHookFailure counts one contained hook panic.
func (m *Metrics) RecordHookFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.hookFailures.Add(ctx, 1)
}

// RecordDecodeFailure counts one undecodable event payload.
func (m *Metrics) RecordDecodeFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.decodeFailures.Add(ctx, 1)
}

// RecordDuplicateCorrelation counts one broken start/stop pairing.
func (m *Metrics) RecordDuplicateCorrelation(ctx context.Context) {
	if m == nil {
		return
	}
	m.duplicateCorrelations.Add(ctx, 1)
}
