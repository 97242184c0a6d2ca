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

// Package diagnostics implements the named diagnostic event stream the
// bridge listens to. A host application publishes (name, payload) pairs
// under a source name; observers subscribe to one source each and react
// synchronously on the publishing goroutine.
package diagnostics

import (
	"context"
	"sync"
)

// Well-known source names.
const (
	// SourceHTTPClient carries outbound HTTP request lifecycle events.
	SourceHTTPClient = "http.client"

	// SourceWebAction carries controller action and result lifecycle events.
	SourceWebAction = "web.action"
)

// Event names published under SourceHTTPClient.
const (
	EventRequestStart     = "http.client.request.start"
	EventRequestStop      = "http.client.request.stop"
	EventRequestException = "http.client.request.exception"
)

// Event names published under SourceWebAction.
const (
	EventBeforeAction       = "web.action.before"
	EventAfterAction        = "web.action.after"
	EventBeforeActionResult = "web.action.result.before"
	EventAfterActionResult  = "web.action.result.after"
)

// Event is a single diagnostic notification. The payload is opaque to the
// dispatch layer; consumers resolve its fields by name or decode it into a
// typed form. Ctx carries the logical call context the event belongs to.
type Event struct {
	Name    string
	Ctx     context.Context
	Payload any
}

// Handler consumes events delivered by a subscription.
type Handler interface {
	OnEvent(Event)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(Event)

// OnEvent calls f(e).
func (f HandlerFunc) OnEvent(e Event) { f(e) }

// Bus fans out events published under named sources to their subscribers.
// Delivery is synchronous: Publish invokes every subscriber on the calling
// goroutine before returning. Distinct sources are independent.
type Bus struct {
	mu      sync.RWMutex
	sources map[string][]*subscription
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{sources: make(map[string][]*subscription)}
}

// Publish delivers e to every subscriber of the named source. Publishing to
// a source with no subscribers is a no-op.
func (b *Bus) Publish(source string, e Event) {
	b.mu.RLock()
	subs := b.sources[source]
	b.mu.RUnlock()

	for _, s := range subs {
		// The handler reference is frozen at subscribe time, so an in-flight
		// delivery completes even if the subscription closes concurrently.
		s.handler.OnEvent(e)
	}
}

func (b *Bus) subscribe(source string, h Handler) *subscription {
	s := &subscription{bus: b, source: source, handler: h}

	b.mu.Lock()
	b.sources[source] = append(b.sources[source], s)
	b.mu.Unlock()

	return s
}

func (b *Bus) unsubscribe(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.sources[target.source]
	for i, s := range subs {
		if s == target {
			b.sources[target.source] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// subscription ties one handler to one source name.
type subscription struct {
	bus     *Bus
	source  string
	handler Handler
}

func (s *subscription) close() {
	s.bus.unsubscribe(s)
}
