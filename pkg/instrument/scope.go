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
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Scopes tracks the active action and result spans for one logical
// request-processing call context. Each pipeline gets its own instance via
// WithScopes, so there is no cross-request sharing. The action and result
// phases may overlap in time, which is why they keep separate stacks rather
// than one ambient slot.
//
// Pushes and pops are strictly nested within a level. A pop with nothing
// active is a caller-side ordering bug the bridge cannot detect; it no-ops.
type Scopes struct {
	mu     sync.Mutex
	action []scopeEntry
	result []scopeEntry
}

type scopeEntry struct {
	ctx  context.Context
	span trace.Span
}

type scopesKey struct{}

// WithScopes installs a fresh Scopes instance into ctx. The host calls this
// once when a request-processing pipeline begins, before publishing any
// action events with the derived context.
func WithScopes(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopesKey{}, &Scopes{})
}

// ScopesFrom retrieves the pipeline's Scopes from ctx.
func ScopesFrom(ctx context.Context) (*Scopes, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopesKey{}).(*Scopes)
	return s, ok
}

func (s *Scopes) pushAction(ctx context.Context, span trace.Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.action = append(s.action, scopeEntry{ctx: ctx, span: span})
}

func (s *Scopes) popAction() (trace.Span, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.action)
	if n == 0 {
		return nil, false
	}
	e := s.action[n-1]
	s.action = s.action[:n-1]
	return e.span, true
}

// activeActionCtx returns the context of the innermost active action span,
// used to parent result spans under the action that produced them.
func (s *Scopes) activeActionCtx() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.action) == 0 {
		return nil, false
	}
	return s.action[len(s.action)-1].ctx, true
}

func (s *Scopes) pushResult(ctx context.Context, span trace.Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = append(s.result, scopeEntry{ctx: ctx, span: span})
}

func (s *Scopes) popResult() (trace.Span, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.result)
	if n == 0 {
		return nil, false
	}
	e := s.result[n-1]
	s.result = s.result[:n-1]
	return e.span, true
}
