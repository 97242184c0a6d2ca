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
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ErrDuplicateCorrelation reports a start event for a request that already
// has an active span. The host contract guarantees one start per request, so
// hitting this means the pairing assumption is broken somewhere upstream.
var ErrDuplicateCorrelation = errors.New("request already has an active span")

// correlationEntry is one in-flight request's span plus a stable ID used to
// line up log records across the asynchronous start/stop boundary.
type correlationEntry struct {
	id   uuid.UUID
	span trace.Span
}

// correlationTable maps in-flight requests to their client spans. The key is
// the request object's identity, which the host keeps stable across the
// start/stop/exception events of one request. Entries exist only between a
// successful attach and the matching complete, so a lookup miss is the
// expected signal for "this request was ignored at start".
//
// Distinct requests are attached and completed fully in parallel; events for
// the same request are serialized by the host, so the single mutex only ever
// contends across requests.
type correlationTable struct {
	mu      sync.Mutex
	entries map[*http.Request]correlationEntry
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{entries: make(map[*http.Request]correlationEntry)}
}

// attach records the span for req and returns the entry's correlation ID.
// Fails with ErrDuplicateCorrelation when req already has an active span.
func (t *correlationTable) attach(req *http.Request, span trace.Span) (uuid.UUID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[req]; exists {
		return uuid.Nil, ErrDuplicateCorrelation
	}

	id := uuid.New()
	t.entries[req] = correlationEntry{id: id, span: span}
	return id, nil
}

// lookup returns the active span for req, if any, without removing it.
func (t *correlationTable) lookup(req *http.Request) (trace.Span, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[req]
	return e.span, ok
}

// complete removes and returns req's entry. The absent case is benign: it
// means the request was ignored at start, or the host emitted a stop with no
// matching start.
func (t *correlationTable) complete(req *http.Request) (correlationEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[req]
	if ok {
		delete(t.entries, req)
	}
	return e, ok
}

// active returns the number of in-flight entries.
func (t *correlationTable) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
