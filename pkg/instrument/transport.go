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
	"errors"
	"net/http"

	"github.com/diagbridge/diagbridge/pkg/diagnostics"
)

// Transport is an http.RoundTripper that publishes the HTTP client
// diagnostic events for every outbound request, making any http.Client a
// publisher the bridge can observe. It mirrors the host contract the
// correlator relies on: exactly one start per request, and a stop always
// follows, even after an exception.
type Transport struct {
	base http.RoundTripper
	bus  *diagnostics.Bus
}

// NewTransport wraps base (http.DefaultTransport when nil) so its requests
// are published on bus.
func NewTransport(bus *diagnostics.Bus, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, bus: bus}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	t.bus.Publish(diagnostics.SourceHTTPClient, diagnostics.Event{
		Name:    diagnostics.EventRequestStart,
		Ctx:     ctx,
		Payload: diagnostics.RequestStart{Request: req},
	})

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.bus.Publish(diagnostics.SourceHTTPClient, diagnostics.Event{
			Name:    diagnostics.EventRequestException,
			Ctx:     ctx,
			Payload: diagnostics.RequestException{Request: req, Err: err},
		})

		outcome := diagnostics.OutcomeFaulted
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = diagnostics.OutcomeCanceled
		}
		t.bus.Publish(diagnostics.SourceHTTPClient, diagnostics.Event{
			Name:    diagnostics.EventRequestStop,
			Ctx:     ctx,
			Payload: diagnostics.RequestStop{Request: req, Outcome: outcome},
		})
		return nil, err
	}

	t.bus.Publish(diagnostics.SourceHTTPClient, diagnostics.Event{
		Name:    diagnostics.EventRequestStop,
		Ctx:     ctx,
		Payload: diagnostics.RequestStop{Request: req, Response: resp, Outcome: diagnostics.OutcomeCompleted},
	})
	return resp, nil
}

// WrapClient returns a copy of client whose transport publishes diagnostic
// events on bus. A nil client wraps http.DefaultTransport in a new client.
func WrapClient(bus *diagnostics.Bus, client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	return &http.Client{
		Transport:     NewTransport(bus, client.Transport),
		CheckRedirect: client.CheckRedirect,
		Jar:           client.Jar,
		Timeout:       client.Timeout,
	}
}
