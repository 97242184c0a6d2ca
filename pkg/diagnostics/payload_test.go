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
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_Fetch(t *testing.T) {
	type payload struct {
		Request *http.Request
		Count   int
		hidden  string
	}

	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload any
		field   string
		want    any
		wantErr bool
	}{
		{
			name:    "struct field",
			payload: payload{Request: req, Count: 3},
			field:   "Count",
			want:    3,
		},
		{
			name:    "pointer to struct",
			payload: &payload{Request: req},
			field:   "Request",
			want:    req,
		},
		{
			name:    "map payload",
			payload: map[string]any{"Request": req},
			field:   "Request",
			want:    req,
		},
		{
			name:    "missing struct field",
			payload: payload{},
			field:   "Nope",
			wantErr: true,
		},
		{
			name:    "missing map key",
			payload: map[string]any{},
			field:   "Request",
			wantErr: true,
		},
		{
			name:    "unexported field is invisible",
			payload: payload{hidden: "x"},
			field:   "hidden",
			wantErr: true,
		},
		{
			name:    "nil payload",
			payload: nil,
			field:   "Request",
			wantErr: true,
		},
		{
			name:    "nil pointer payload",
			payload: (*payload)(nil),
			field:   "Request",
			wantErr: true,
		},
		{
			name:    "non-struct payload",
			payload: 42,
			field:   "Request",
			wantErr: true,
		},
	}

	x := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := x.Fetch(tt.payload, tt.field)
			if tt.wantErr {
				require.Error(t, err)
				var notFound *FieldNotFoundError
				assert.True(t, errors.As(err, &notFound), "want *FieldNotFoundError, got %T", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractor_CacheSurvivesRepeatedLookups(t *testing.T) {
	type payload struct{ Name string }

	x := NewExtractor()
	for i := 0; i < 10; i++ {
		v, err := x.Fetch(payload{Name: "hello"}, "Name")
		require.NoError(t, err)
		require.Equal(t, "hello", v)
	}
}

// hostRequestStart mimics a host publishing its own payload type that happens
// to carry the expected field names.
type hostRequestStart struct {
	Request *http.Request
	Extra   string
}

func TestDecodeRequestStart(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)

	x := NewExtractor()

	t.Run("canonical struct", func(t *testing.T) {
		got, err := DecodeRequestStart(x, RequestStart{Request: req})
		require.NoError(t, err)
		assert.Same(t, req, got.Request)
	})

	t.Run("canonical pointer", func(t *testing.T) {
		got, err := DecodeRequestStart(x, &RequestStart{Request: req})
		require.NoError(t, err)
		assert.Same(t, req, got.Request)
	})

	t.Run("foreign shape by field name", func(t *testing.T) {
		got, err := DecodeRequestStart(x, hostRequestStart{Request: req, Extra: "ignored"})
		require.NoError(t, err)
		assert.Same(t, req, got.Request)
	})

	t.Run("nil request fails loudly", func(t *testing.T) {
		_, err := DecodeRequestStart(x, hostRequestStart{Request: nil})
		require.Error(t, err)
	})

	t.Run("missing field fails loudly", func(t *testing.T) {
		_, err := DecodeRequestStart(x, struct{ Other int }{})
		require.Error(t, err)
		var notFound *FieldNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "Request", notFound.Field)
	})
}

func TestDecodeRequestStop(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	resp := &http.Response{StatusCode: 200}

	x := NewExtractor()

	t.Run("canonical", func(t *testing.T) {
		got, err := DecodeRequestStop(x, RequestStop{Request: req, Response: resp, Outcome: OutcomeCompleted})
		require.NoError(t, err)
		assert.Same(t, resp, got.Response)
		assert.Equal(t, OutcomeCompleted, got.Outcome)
	})

	t.Run("foreign shape with nil response", func(t *testing.T) {
		payload := map[string]any{
			"Request":  req,
			"Response": (*http.Response)(nil),
			"Outcome":  OutcomeFaulted,
		}
		got, err := DecodeRequestStop(x, payload)
		require.NoError(t, err)
		assert.Nil(t, got.Response)
		assert.Equal(t, OutcomeFaulted, got.Outcome)
	})

	t.Run("wrong outcome type", func(t *testing.T) {
		payload := map[string]any{
			"Request":  req,
			"Response": resp,
			"Outcome":  "completed",
		}
		_, err := DecodeRequestStop(x, payload)
		require.Error(t, err)
	})
}

func TestDecodeRequestException(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	cause := errors.New("connection refused")

	x := NewExtractor()

	got, err := DecodeRequestException(x, RequestException{Request: req, Err: cause})
	require.NoError(t, err)
	assert.Same(t, req, got.Request)
	assert.Equal(t, cause, got.Err)

	got, err = DecodeRequestException(x, map[string]any{"Request": req, "Err": cause})
	require.NoError(t, err)
	assert.Equal(t, cause, got.Err)
}

func TestDecodeBeforeAction(t *testing.T) {
	x := NewExtractor()

	desc := ActionDescriptor{Controller: "Orders", Action: "List"}
	got, err := DecodeBeforeAction(x, BeforeAction{Action: desc})
	require.NoError(t, err)
	assert.Equal(t, desc, got.Action)

	_, err = DecodeBeforeAction(x, map[string]any{"Action": "not a descriptor"})
	require.Error(t, err)
}

func TestDecodeBeforeActionResult(t *testing.T) {
	x := NewExtractor()

	type viewResult struct{}
	got, err := DecodeBeforeActionResult(x, BeforeActionResult{Result: viewResult{}})
	require.NoError(t, err)
	assert.IsType(t, viewResult{}, got.Result)

	got, err = DecodeBeforeActionResult(x, map[string]any{"Result": 7})
	require.NoError(t, err)
	assert.Equal(t, 7, got.Result)
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeCompleted, "completed"},
		{OutcomeCanceled, "canceled"},
		{OutcomeFaulted, "faulted"},
		{Outcome(99), "outcome(99)"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(tt.outcome), got, tt.want)
		}
	}
}
