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
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/diagbridge/diagbridge/pkg/diagnostics"
)

// HTTPClient correlates outbound HTTP request diagnostics into client
// spans. Per request the span moves NoSpan -> Active -> Finished: the start
// event creates it, an exception event only annotates it, and the paired
// stop event always performs the single terminal finish. Tracing stays
// best-effort throughout; nothing on these paths alters the outcome of the
// instrumented request.
type HTTPClient struct {
	tracer    trace.Tracer
	opts      *Options
	table     *correlationTable
	extractor *diagnostics.Extractor
	observer  *diagnostics.Observer
}

// NewHTTPClient subscribes a correlator to the HTTP client source on bus.
// A nil opts gets the defaults.
func NewHTTPClient(bus *diagnostics.Bus, tracer trace.Tracer, opts *Options) *HTTPClient {
	if opts == nil {
		opts = NewOptions()
	}

	c := &HTTPClient{
		tracer:    tracer,
		opts:      opts,
		table:     newCorrelationTable(),
		extractor: diagnostics.NewExtractor(),
	}
	c.observer = diagnostics.NewObserver(bus, diagnostics.SourceHTTPClient, c, opts.logger)
	return c
}

// Close unsubscribes the correlator. Idempotent.
func (c *HTTPClient) Close() {
	c.observer.Close()
}

// ActiveRequests returns the number of requests with an in-flight span.
func (c *HTTPClient) ActiveRequests() int {
	return c.table.active()
}

// OnEvent implements diagnostics.Handler.
func (c *HTTPClient) OnEvent(e diagnostics.Event) {
	switch e.Name {
	case diagnostics.EventRequestStart:
		c.handleStart(e)
	case diagnostics.EventRequestException:
		c.handleException(e)
	case diagnostics.EventRequestStop:
		c.handleStop(e)
	}
}

func (c *HTTPClient) handleStart(e diagnostics.Event) {
	p, err := diagnostics.DecodeRequestStart(c.extractor, e.Payload)
	if err != nil {
		c.dropMalformed(e, err)
		return
	}
	req := p.Request

	if c.opts.ShouldIgnore(req) {
		// No span and no table entry: the paired stop and any exception
		// events for this request miss the lookup and no-op.
		c.opts.logger.Debug("request ignored by policy",
			"method", req.Method,
			"url", req.URL.String(),
		)
		c.opts.metrics.RecordIgnored(context.Background())
		return
	}

	parent := e.Ctx
	if parent == nil {
		parent = req.Context()
	}

	attrs := []attribute.KeyValue{
		attribute.String("component", c.opts.component),
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL.String()),
		attribute.String("peer.hostname", req.URL.Hostname()),
	}
	if port := req.URL.Port(); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("peer.port", n))
		}
	}

	ctx, span := c.tracer.Start(parent, c.opts.operationName(req),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	c.opts.metrics.RecordSpanStarted(context.Background())

	c.runRequestHook(span, req)

	if c.opts.injectEnabled(req) {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	if _, err := c.table.attach(req, span); err != nil {
		// Broken one-start-per-request pairing upstream. Surface it loudly,
		// then finish the orphaned span so it is not leaked forever.
		c.opts.logger.Error("duplicate correlation for in-flight request",
			"method", req.Method,
			"url", req.URL.String(),
			"error", err,
		)
		c.opts.metrics.RecordDuplicateCorrelation(context.Background())
		span.SetStatus(codes.Error, "duplicate correlation")
		span.End()
		c.opts.metrics.RecordSpanFinished(context.Background())
	}
}

func (c *HTTPClient) handleException(e diagnostics.Event) {
	p, err := diagnostics.DecodeRequestException(c.extractor, e.Payload)
	if err != nil {
		c.dropMalformed(e, err)
		return
	}

	// Absent entry: the request was ignored at start or already finished.
	span, ok := c.table.lookup(p.Request)
	if !ok {
		return
	}

	if p.Err != nil {
		span.RecordError(p.Err)
		span.SetStatus(codes.Error, p.Err.Error())
	}
}

func (c *HTTPClient) handleStop(e diagnostics.Event) {
	p, err := diagnostics.DecodeRequestStop(c.extractor, e.Payload)
	if err != nil {
		c.dropMalformed(e, err)
		return
	}

	entry, ok := c.table.complete(p.Request)
	if !ok {
		return
	}
	span := entry.span

	if p.Response != nil {
		span.SetAttributes(attribute.Int("http.status_code", p.Response.StatusCode))
	}

	// Driven independently of exception events: a faulted stop is not
	// guaranteed to have been preceded by one.
	switch p.Outcome {
	case diagnostics.OutcomeCanceled:
		span.SetStatus(codes.Error, "canceled")
	case diagnostics.OutcomeFaulted:
		span.SetStatus(codes.Error, "faulted")
	}

	c.runResponseHook(span, p.Response)

	span.End()
	c.opts.metrics.RecordSpanFinished(context.Background())
	c.opts.logger.Debug("client span finished",
		"correlation_id", entry.id.String(),
		"outcome", p.Outcome.String(),
	)
}

func (c *HTTPClient) dropMalformed(e diagnostics.Event, err error) {
	c.observer.ReportMalformed(e.Name, err)
	c.opts.metrics.RecordDecodeFailure(context.Background())
}

func (c *HTTPClient) runRequestHook(span trace.Span, req *http.Request) {
	if c.opts.onRequest == nil {
		return
	}
	defer c.containHookPanic("request")
	c.opts.onRequest(span, req)
}

func (c *HTTPClient) runResponseHook(span trace.Span, resp *http.Response) {
	if c.opts.onResponse == nil {
		return
	}
	defer c.containHookPanic("response")
	c.opts.onResponse(span, resp)
}

func (c *HTTPClient) containHookPanic(kind string) {
	if r := recover(); r != nil {
		c.opts.logger.Error("enrichment hook panicked",
			"hook", kind,
			"panic", r,
		)
		c.opts.metrics.RecordHookFailure(context.Background())
	}
}
