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

package diagnostics

import (
	"fmt"
	"net/http"
	"reflect"
	"sync"
)

// Outcome describes how the request task behind a stop event completed.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCanceled
	OutcomeFaulted
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Canonical payload shapes for the well-known events. Hosts are free to
// publish their own payload types carrying the same field names; decoders
// fall back to name-based extraction for those.

// RequestStart accompanies EventRequestStart.
type RequestStart struct {
	Request *http.Request
}

// RequestStop accompanies EventRequestStop. Response is nil when the
// request failed before any response was received.
type RequestStop struct {
	Request  *http.Request
	Response *http.Response
	Outcome  Outcome
}

// RequestException accompanies EventRequestException. The paired stop event
// still follows; the exception event only annotates the in-flight request.
type RequestException struct {
	Request *http.Request
	Err     error
}

// ActionDescriptor identifies the controller action being executed. When the
// host cannot resolve a controller (e.g. a routeless endpoint), Controller
// and Action are empty and DisplayName carries whatever the host knows.
type ActionDescriptor struct {
	Controller  string
	Action      string
	DisplayName string
}

// BeforeAction accompanies EventBeforeAction.
type BeforeAction struct {
	Action ActionDescriptor
}

// BeforeActionResult accompanies EventBeforeActionResult. Result is the
// host's result value; only its runtime type is of interest to the bridge.
type BeforeActionResult struct {
	Result any
}

// FieldNotFoundError reports a payload that lacks a field the bridge
// expects. It indicates a mismatched host version and is never swallowed
// into a default value.
type FieldNotFoundError struct {
	Type  string
	Field string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("payload %s has no field %q", e.Type, e.Field)
}

// Extractor resolves payload fields by name without static knowledge of the
// payload's concrete type. The same logical field name may live on
// differently shaped payloads across event kinds; resolution is purely by
// name. Field lookups are cached per concrete type so a long-lived extractor
// amortizes the reflection cost.
//
// An Extractor is safe for concurrent use.
type Extractor struct {
	mu     sync.RWMutex
	fields map[reflect.Type]map[string][]int
}

// NewExtractor creates an extractor with an empty lookup cache.
func NewExtractor() *Extractor {
	return &Extractor{fields: make(map[reflect.Type]map[string][]int)}
}

// Fetch returns the named field of payload. Struct, pointer-to-struct, and
// map[string]any payload shapes are supported. A missing field fails with
// *FieldNotFoundError rather than returning a zero value.
func (x *Extractor) Fetch(payload any, field string) (any, error) {
	if payload == nil {
		return nil, &FieldNotFoundError{Type: "<nil>", Field: field}
	}

	if m, ok := payload.(map[string]any); ok {
		v, ok := m[field]
		if !ok {
			return nil, &FieldNotFoundError{Type: "map[string]any", Field: field}
		}
		return v, nil
	}

	v := reflect.ValueOf(payload)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, &FieldNotFoundError{Type: v.Type().String(), Field: field}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, &FieldNotFoundError{Type: v.Type().String(), Field: field}
	}

	idx, err := x.fieldIndex(v.Type(), field)
	if err != nil {
		return nil, err
	}
	return v.FieldByIndex(idx).Interface(), nil
}

func (x *Extractor) fieldIndex(t reflect.Type, field string) ([]int, error) {
	x.mu.RLock()
	byName, cached := x.fields[t]
	x.mu.RUnlock()

	if !cached {
		byName = make(map[string][]int)
		for _, f := range reflect.VisibleFields(t) {
			if f.IsExported() && !f.Anonymous {
				byName[f.Name] = f.Index
			}
		}
		x.mu.Lock()
		x.fields[t] = byName
		x.mu.Unlock()
	}

	idx, ok := byName[field]
	if !ok {
		return nil, &FieldNotFoundError{Type: t.String(), Field: field}
	}
	return idx, nil
}

// The decoders below give each event kind a typed view of its payload. The
// canonical structs take a fast path; anything else is resolved field by
// field through the extractor, preserving the fail-loud contract for
// missing or mistyped fields.

// DecodeRequestStart decodes a payload published with EventRequestStart.
func DecodeRequestStart(x *Extractor, payload any) (RequestStart, error) {
	switch p := payload.(type) {
	case RequestStart:
		return p, nil
	case *RequestStart:
		return *p, nil
	}

	req, err := fetchRequest(x, payload)
	if err != nil {
		return RequestStart{}, err
	}
	return RequestStart{Request: req}, nil
}

// DecodeRequestStop decodes a payload published with EventRequestStop.
func DecodeRequestStop(x *Extractor, payload any) (RequestStop, error) {
	switch p := payload.(type) {
	case RequestStop:
		return p, nil
	case *RequestStop:
		return *p, nil
	}

	req, err := fetchRequest(x, payload)
	if err != nil {
		return RequestStop{}, err
	}

	rv, err := x.Fetch(payload, "Response")
	if err != nil {
		return RequestStop{}, err
	}
	resp, ok := rv.(*http.Response)
	if rv != nil && !ok {
		return RequestStop{}, fmt.Errorf("field Response: want *http.Response, got %T", rv)
	}

	ov, err := x.Fetch(payload, "Outcome")
	if err != nil {
		return RequestStop{}, err
	}
	outcome, ok := ov.(Outcome)
	if !ok {
		return RequestStop{}, fmt.Errorf("field Outcome: want diagnostics.Outcome, got %T", ov)
	}

	return RequestStop{Request: req, Response: resp, Outcome: outcome}, nil
}

// DecodeRequestException decodes a payload published with
// EventRequestException.
func DecodeRequestException(x *Extractor, payload any) (RequestException, error) {
	switch p := payload.(type) {
	case RequestException:
		return p, nil
	case *RequestException:
		return *p, nil
	}

	req, err := fetchRequest(x, payload)
	if err != nil {
		return RequestException{}, err
	}

	ev, err := x.Fetch(payload, "Err")
	if err != nil {
		return RequestException{}, err
	}
	cause, ok := ev.(error)
	if ev != nil && !ok {
		return RequestException{}, fmt.Errorf("field Err: want error, got %T", ev)
	}

	return RequestException{Request: req, Err: cause}, nil
}

// DecodeBeforeAction decodes a payload published with EventBeforeAction.
func DecodeBeforeAction(x *Extractor, payload any) (BeforeAction, error) {
	switch p := payload.(type) {
	case BeforeAction:
		return p, nil
	case *BeforeAction:
		return *p, nil
	}

	av, err := x.Fetch(payload, "Action")
	if err != nil {
		return BeforeAction{}, err
	}
	d, ok := av.(ActionDescriptor)
	if !ok {
		return BeforeAction{}, fmt.Errorf("field Action: want diagnostics.ActionDescriptor, got %T", av)
	}
	return BeforeAction{Action: d}, nil
}

// DecodeBeforeActionResult decodes a payload published with
// EventBeforeActionResult.
func DecodeBeforeActionResult(x *Extractor, payload any) (BeforeActionResult, error) {
	switch p := payload.(type) {
	case BeforeActionResult:
		return p, nil
	case *BeforeActionResult:
		return *p, nil
	}

	rv, err := x.Fetch(payload, "Result")
	if err != nil {
		return BeforeActionResult{}, err
	}
	return BeforeActionResult{Result: rv}, nil
}

func fetchRequest(x *Extractor, payload any) (*http.Request, error) {
	v, err := x.Fetch(payload, "Request")
	if err != nil {
		return nil, err
	}
	req, ok := v.(*http.Request)
	if !ok || req == nil {
		return nil, fmt.Errorf("field Request: want non-nil *http.Request, got %T", v)
	}
	return req, nil
}
