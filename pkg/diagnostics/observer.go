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
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Observer owns the subscription of one handler to one named source. It
// isolates the event stream from handler failures: a panicking handler is
// recovered and logged so a single bad event cannot disable diagnostics for
// the rest of the process.
//
// The lifecycle is Unsubscribed -> Subscribed (at construction) ->
// Unsubscribed (Close). Close is idempotent and safe to call while events
// are in flight; deliveries already dispatched run to completion.
type Observer struct {
	source    string
	sub       *subscription
	log       *slog.Logger
	malformed *rate.Limiter
	closeOnce sync.Once
}

// NewObserver subscribes h to the named source on bus. A nil logger falls
// back to slog.Default.
func NewObserver(bus *Bus, source string, h Handler, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Observer{
		source: source,
		log:    logger,
		// Malformed payloads repeat for every event of the same kind when the
		// host ships an incompatible payload shape; cap the log volume.
		malformed: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	o.sub = bus.subscribe(source, o.guard(h))
	return o
}

// Source returns the name of the observed source.
func (o *Observer) Source() string { return o.source }

// Close tears down the subscription. Safe to call more than once.
func (o *Observer) Close() {
	o.closeOnce.Do(func() {
		o.sub.close()
	})
}

// ReportMalformed records a payload that could not be decoded for the named
// event. The event is dropped; the stream keeps going. Logging is throttled.
func (o *Observer) ReportMalformed(event string, err error) {
	if !o.malformed.Allow() {
		return
	}
	o.log.Warn("dropping malformed diagnostic event",
		"source", o.source,
		"event", event,
		"error", err,
	)
}

// guard wraps h so a panic in handler code is contained at the dispatch
// boundary.
func (o *Observer) guard(h Handler) Handler {
	return HandlerFunc(func(e Event) {
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("diagnostic handler panicked",
					"source", o.source,
					"event", e.Name,
					"panic", r,
				)
			}
		}()
		h.OnEvent(e)
	})
}
