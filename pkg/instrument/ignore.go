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
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// IgnorePattern decides whether a request should be excluded from tracing.
// Patterns must be pure: no side effects, no retained request references.
type IgnorePattern func(*http.Request) bool

// IgnoreHost matches requests whose URL host (with or without port) equals
// host, case-insensitively.
func IgnoreHost(host string) IgnorePattern {
	host = strings.ToLower(host)
	return func(req *http.Request) bool {
		return strings.EqualFold(req.URL.Host, host) ||
			strings.EqualFold(req.URL.Hostname(), host)
	}
}

// IgnorePathPrefix matches requests whose URL path starts with prefix.
func IgnorePathPrefix(prefix string) IgnorePattern {
	return func(req *http.Request) bool {
		return strings.HasPrefix(req.URL.Path, prefix)
	}
}

// IgnoreSelfTrace matches requests destined for the given span-export
// endpoints. Installing it keeps the tracer's own export calls from being
// traced, which would otherwise loop forever when the collector is reached
// over an instrumented client. Endpoints may be bare "host:port" pairs or
// full URLs.
func IgnoreSelfTrace(endpoints ...string) IgnorePattern {
	hosts := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if ep == "" {
			continue
		}
		raw := ep
		if strings.Contains(raw, "://") {
			if u, err := url.Parse(raw); err == nil {
				raw = u.Host
			}
		}
		raw = strings.ToLower(raw)
		hosts[raw] = struct{}{}
		if h, _, ok := strings.Cut(raw, ":"); ok {
			hosts[h] = struct{}{}
		}
	}

	return func(req *http.Request) bool {
		if _, ok := hosts[strings.ToLower(req.URL.Host)]; ok {
			return true
		}
		_, ok := hosts[strings.ToLower(req.URL.Hostname())]
		return ok
	}
}

// exprEnv is the variable set visible to expression patterns.
type exprEnv struct {
	Method string `expr:"method"`
	Host   string `expr:"host"`
	Path   string `expr:"path"`
	URL    string `expr:"url"`
}

// IgnoreExpr compiles an expression into a pattern. The expression sees the
// request as four string variables (method, host, path, url) and must yield
// a boolean, e.g.:
//
//	method == "GET" && path startsWith "/healthz"
//	host contains "telemetry"
//
// Compilation happens once here, so pattern evaluation is a VM run with no
// parsing cost. A runtime evaluation failure counts as no match; policy
// errors never break the instrumented request.
func IgnoreExpr(src string) (IgnorePattern, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling ignore rule %q: %w", src, err)
	}
	return exprPattern(program), nil
}

func exprPattern(program *vm.Program) IgnorePattern {
	return func(req *http.Request) bool {
		out, err := expr.Run(program, exprEnv{
			Method: req.Method,
			Host:   req.URL.Hostname(),
			Path:   req.URL.Path,
			URL:    req.URL.String(),
		})
		if err != nil {
			return false
		}
		matched, ok := out.(bool)
		return ok && matched
	}
}
