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
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestCorrelationTable_AttachLookupComplete(t *testing.T) {
	table := newCorrelationTable()
	tracer := noop.NewTracerProvider().Tracer("t")
	_, sp := tracer.Start(context.Background(), "test")

	req := newRequest(t, http.MethodGet, "https://example.com/")

	id, err := table.attach(req, sp)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 1, table.active())

	got, ok := table.lookup(req)
	require.True(t, ok)
	assert.Equal(t, sp, got)
	assert.Equal(t, 1, table.active(), "lookup must not remove the entry")

	entry, ok := table.complete(req)
	require.True(t, ok)
	assert.Equal(t, id, entry.id)
	assert.Equal(t, 0, table.active())

	_, ok = table.lookup(req)
	assert.False(t, ok, "completed entry must be gone")
	_, ok = table.complete(req)
	assert.False(t, ok, "second complete is a miss")
}

func TestCorrelationTable_DuplicateAttachFails(t *testing.T) {
	table := newCorrelationTable()
	tracer := noop.NewTracerProvider().Tracer("t")
	_, sp := tracer.Start(context.Background(), "test")

	req := newRequest(t, http.MethodGet, "https://example.com/")

	_, err := table.attach(req, sp)
	require.NoError(t, err)

	_, err = table.attach(req, sp)
	require.ErrorIs(t, err, ErrDuplicateCorrelation)
	assert.Equal(t, 1, table.active(), "failed attach must not disturb the entry")
}

func TestCorrelationTable_DistinctRequestsAreIndependent(t *testing.T) {
	table := newCorrelationTable()
	tracer := noop.NewTracerProvider().Tracer("t")

	// Two requests for the same URL are distinct keys: identity, not value.
	reqA := newRequest(t, http.MethodGet, "https://example.com/same")
	reqB := newRequest(t, http.MethodGet, "https://example.com/same")

	_, spA := tracer.Start(context.Background(), "a")
	_, spB := tracer.Start(context.Background(), "b")

	idA, err := table.attach(reqA, spA)
	require.NoError(t, err)
	idB, err := table.attach(reqB, spB)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, 2, table.active())

	entry, ok := table.complete(reqA)
	require.True(t, ok)
	assert.Equal(t, idA, entry.id)

	_, ok = table.lookup(reqB)
	assert.True(t, ok, "completing A must not evict B")
}

func TestCorrelationTable_ConcurrentAttachComplete(t *testing.T) {
	table := newCorrelationTable()
	tracer := noop.NewTracerProvider().Tracer("t")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := newRequestNoFail(fmt.Sprintf("https://example.com/%d", i))
			_, sp := tracer.Start(context.Background(), "req")

			if _, err := table.attach(req, sp); err != nil {
				t.Error(err)
				return
			}
			if _, ok := table.complete(req); !ok {
				t.Error("entry vanished before complete")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, table.active())
}

func newRequestNoFail(rawURL string) *http.Request {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		panic(err)
	}
	return req
}
