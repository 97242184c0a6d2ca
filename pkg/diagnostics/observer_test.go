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
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver_DeliversEvents(t *testing.T) {
	bus := NewBus()

	var got []string
	obs := NewObserver(bus, SourceHTTPClient, HandlerFunc(func(e Event) {
		got = append(got, e.Name)
	}), nil)
	defer obs.Close()

	bus.Publish(SourceHTTPClient, Event{Name: EventRequestStart})
	bus.Publish(SourceHTTPClient, Event{Name: EventRequestStop})

	require.Equal(t, []string{EventRequestStart, EventRequestStop}, got)
	assert.Equal(t, SourceHTTPClient, obs.Source())
}

func TestObserver_PanicDoesNotStopTheStream(t *testing.T) {
	bus := NewBus()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var delivered int
	obs := NewObserver(bus, SourceHTTPClient, HandlerFunc(func(e Event) {
		delivered++
		if e.Name == "boom" {
			panic("handler exploded")
		}
	}), logger)
	defer obs.Close()

	bus.Publish(SourceHTTPClient, Event{Name: "boom"})
	bus.Publish(SourceHTTPClient, Event{Name: "after"})

	assert.Equal(t, 2, delivered, "stream must keep flowing after a panic")
	assert.Contains(t, buf.String(), "diagnostic handler panicked")
	assert.Contains(t, buf.String(), "boom")
}

func TestObserver_CloseStopsDeliveryAndIsIdempotent(t *testing.T) {
	bus := NewBus()

	var count int
	obs := NewObserver(bus, SourceHTTPClient, HandlerFunc(func(Event) { count++ }), nil)

	bus.Publish(SourceHTTPClient, Event{Name: "one"})
	obs.Close()
	obs.Close()
	bus.Publish(SourceHTTPClient, Event{Name: "two"})

	assert.Equal(t, 1, count)
}

func TestObserver_ReportMalformedIsThrottled(t *testing.T) {
	bus := NewBus()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	obs := NewObserver(bus, SourceHTTPClient, HandlerFunc(func(Event) {}), logger)
	defer obs.Close()

	// Burst allows a handful of reports, then the limiter kicks in.
	for i := 0; i < 50; i++ {
		obs.ReportMalformed(EventRequestStart, errors.New("no field Request"))
	}

	lines := strings.Count(buf.String(), "dropping malformed diagnostic event")
	require.Greater(t, lines, 0)
	require.Less(t, lines, 50, "malformed reports must be rate limited")
}
