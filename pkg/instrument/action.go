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
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/diagbridge/diagbridge/pkg/diagnostics"
)

// Component tags for the action pipeline spans.
const (
	componentAction = "web.action"
	componentResult = "web.result"
)

// ActionProcessor converts controller action and result-rendering lifecycle
// events into spans. It does not correlate through a table: the events of
// one pipeline are strictly ordered within a single call context, so the
// active span lives on the context-scoped stacks installed by WithScopes.
//
// Process reports whether it recognized the event name, so an umbrella
// dispatcher can route unrecognized names elsewhere without error.
type ActionProcessor struct {
	tracer    trace.Tracer
	extractor *diagnostics.Extractor
	log       *slog.Logger
	metrics   *Metrics
	malformed *rate.Limiter
}

// NewActionProcessor creates a processor. A nil logger falls back to
// slog.Default; metrics may be nil.
func NewActionProcessor(tracer trace.Tracer, logger *slog.Logger, metrics *Metrics) *ActionProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionProcessor{
		tracer:    tracer,
		extractor: diagnostics.NewExtractor(),
		log:       logger,
		metrics:   metrics,
		malformed: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Process handles e if its name belongs to the action pipeline.
func (p *ActionProcessor) Process(e diagnostics.Event) bool {
	switch e.Name {
	case diagnostics.EventBeforeAction:
		p.beforeAction(e)
	case diagnostics.EventAfterAction:
		p.afterAction(e)
	case diagnostics.EventBeforeActionResult:
		p.beforeResult(e)
	case diagnostics.EventAfterActionResult:
		p.afterResult(e)
	default:
		return false
	}
	return true
}

// OnEvent implements diagnostics.Handler so the processor can also be
// subscribed directly to the web action source.
func (p *ActionProcessor) OnEvent(e diagnostics.Event) {
	p.Process(e)
}

func (p *ActionProcessor) beforeAction(e diagnostics.Event) {
	pl, err := diagnostics.DecodeBeforeAction(p.extractor, e.Payload)
	if err != nil {
		p.dropMalformed(e, err)
		return
	}

	scopes, ok := ScopesFrom(e.Ctx)
	if !ok {
		p.reportNoScopes(e)
		return
	}

	d := pl.Action
	name := "Action " + d.DisplayName
	if d.Controller != "" && d.Action != "" {
		name = fmt.Sprintf("Action %s/%s", d.Controller, d.Action)
	}

	// Controller and action tags are only set when the descriptor actually
	// carries them; no placeholder values.
	attrs := []attribute.KeyValue{attribute.String("component", componentAction)}
	if d.Controller != "" {
		attrs = append(attrs, attribute.String("controller", d.Controller))
	}
	if d.Action != "" {
		attrs = append(attrs, attribute.String("action", d.Action))
	}

	ctx, span := p.tracer.Start(e.Ctx, name, trace.WithAttributes(attrs...))
	p.metrics.RecordSpanStarted(context.Background())
	scopes.pushAction(ctx, span)
}

func (p *ActionProcessor) afterAction(e diagnostics.Event) {
	scopes, ok := ScopesFrom(e.Ctx)
	if !ok {
		return
	}

	// Nothing active means an out-of-order pop upstream; stay silent.
	if span, ok := scopes.popAction(); ok {
		span.End()
		p.metrics.RecordSpanFinished(context.Background())
	}
}

func (p *ActionProcessor) beforeResult(e diagnostics.Event) {
	pl, err := diagnostics.DecodeBeforeActionResult(p.extractor, e.Payload)
	if err != nil {
		p.dropMalformed(e, err)
		return
	}

	scopes, ok := ScopesFrom(e.Ctx)
	if !ok {
		p.reportNoScopes(e)
		return
	}

	// The result phase may run while the action span is still open; parent
	// under it when it is, otherwise under the pipeline context.
	parent := e.Ctx
	if actionCtx, ok := scopes.activeActionCtx(); ok {
		parent = actionCtx
	}

	name := "Result"
	attrs := []attribute.KeyValue{attribute.String("component", componentResult)}
	if typeName := resultTypeName(pl.Result); typeName != "" {
		name = "Result " + typeName
		attrs = append(attrs, attribute.String("result.type", typeName))
	}

	ctx, span := p.tracer.Start(parent, name, trace.WithAttributes(attrs...))
	p.metrics.RecordSpanStarted(context.Background())
	scopes.pushResult(ctx, span)
}

func (p *ActionProcessor) afterResult(e diagnostics.Event) {
	scopes, ok := ScopesFrom(e.Ctx)
	if !ok {
		return
	}

	if span, ok := scopes.popResult(); ok {
		span.End()
		p.metrics.RecordSpanFinished(context.Background())
	}
}

func (p *ActionProcessor) dropMalformed(e diagnostics.Event, err error) {
	p.metrics.RecordDecodeFailure(context.Background())
	if !p.malformed.Allow() {
		return
	}
	p.log.Warn("dropping malformed diagnostic event",
		"source", diagnostics.SourceWebAction,
		"event", e.Name,
		"error", err,
	)
}

func (p *ActionProcessor) reportNoScopes(e diagnostics.Event) {
	if !p.malformed.Allow() {
		return
	}
	p.log.Warn("action event without scope context; span suppressed",
		"event", e.Name,
	)
}

// resultTypeName derives the operation-name suffix from the result value's
// runtime type, with pointers unwrapped. Returns "" for nil results.
func resultTypeName(result any) string {
	if result == nil {
		return ""
	}
	t := reflect.TypeOf(result)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
