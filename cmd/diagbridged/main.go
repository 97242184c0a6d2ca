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

// diagbridged runs a small reference host with the bridge fully wired:
// inbound requests are traced through action events, outbound requests
// through the instrumented client, and spans flow to the configured
// exporters.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagbridge/diagbridge/internal/log"
	"github.com/diagbridge/diagbridge/internal/tracing"
	"github.com/diagbridge/diagbridge/pkg/diagnostics"
	"github.com/diagbridge/diagbridge/pkg/instrument"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to bridge config file")
		httpAddr    = flag.String("http", ":8080", "HTTP listen address for the reference host")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("diagbridged %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg := tracing.DefaultConfig()
	if *configPath != "" {
		loaded, err := tracing.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", slog.Any("error", err))
			os.Exit(1)
		}
		cfg = loaded
	}
	if len(cfg.Exporters) == 0 {
		cfg.Exporters = []tracing.ExporterConfig{{Type: "console"}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := tracing.NewProvider(ctx, cfg)
	if err != nil {
		logger.Error("failed to build tracing provider", slog.Any("error", err))
		os.Exit(1)
	}
	defer provider.Shutdown(context.Background())

	opts, err := cfg.BuildOptions(logger, provider.Metrics())
	if err != nil {
		logger.Error("failed to build bridge options", slog.Any("error", err))
		os.Exit(1)
	}

	bus := diagnostics.NewBus()
	correlator := instrument.NewHTTPClient(bus, provider.Tracer("diagbridge"), opts)
	defer correlator.Close()

	actions := instrument.NewActionProcessor(provider.Tracer("diagbridge"), logger, provider.Metrics())
	actionObs := diagnostics.NewObserver(bus, diagnostics.SourceWebAction, actions, logger)
	defer actionObs.Close()

	client := instrument.WrapClient(bus, &http.Client{Timeout: 15 * time.Second})

	mux := http.NewServeMux()
	mux.HandleFunc("/fetch", fetchHandler(bus, client))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: *httpAddr, Handler: tracing.Middleware(mux)}

	if cfg.Metrics.Enabled {
		metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: provider.MetricsHandler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics endpoint failed", slog.Any("error", err))
			}
		}()
		defer metricsSrv.Close()
		logger.Info("serving metrics", slog.String("addr", cfg.Metrics.Addr))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("reference host listening", slog.String("addr", *httpAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
		if err := provider.ForceFlush(shutdownCtx); err != nil {
			logger.Error("error flushing spans", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// fetchResult is the reference host's result value for rendered responses.
type fetchResult struct{}

// fetchHandler proxies GET /fetch?url=... through the instrumented client,
// publishing the action pipeline events around it.
func fetchHandler(bus *diagnostics.Bus, client *http.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		bus.Publish(diagnostics.SourceWebAction, diagnostics.Event{
			Name: diagnostics.EventBeforeAction,
			Ctx:  ctx,
			Payload: diagnostics.BeforeAction{
				Action: diagnostics.ActionDescriptor{Controller: "Fetch", Action: "Get"},
			},
		})
		defer bus.Publish(diagnostics.SourceWebAction, diagnostics.Event{
			Name: diagnostics.EventAfterAction,
			Ctx:  ctx,
		})

		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		bus.Publish(diagnostics.SourceWebAction, diagnostics.Event{
			Name:    diagnostics.EventBeforeActionResult,
			Ctx:     ctx,
			Payload: diagnostics.BeforeActionResult{Result: fetchResult{}},
		})
		defer bus.Publish(diagnostics.SourceWebAction, diagnostics.Event{
			Name: diagnostics.EventAfterActionResult,
			Ctx:  ctx,
		})

		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body) //nolint:errcheck
	}
}
