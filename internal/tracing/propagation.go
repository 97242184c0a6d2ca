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

package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/diagbridge/diagbridge/pkg/instrument"
)

// W3CPropagator returns a TextMapPropagator that implements W3C Trace
// Context plus baggage.
func W3CPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// ExtractHTTPHeaders extracts the trace context from incoming request
// headers into a new context.
func ExtractHTTPHeaders(ctx context.Context, req *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(req.Header))
}

// Middleware prepares each inbound request for the bridge: it extracts any
// incoming trace context and installs a fresh action scope stack, so action
// events published during the request's pipeline find their call context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ExtractHTTPHeaders(r.Context(), r)
		ctx = instrument.WithScopes(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
