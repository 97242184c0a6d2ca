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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

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
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "diagbridge",
		Short:         "Bridge diagnostic events to OpenTelemetry spans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCommand())
	root.AddCommand(newDemoCommand(logger))
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// newValidateCommand checks a config file without starting anything.
func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a bridge configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := tracing.Load(args[0])
			if err != nil {
				return err
			}
			if _, err := cfg.BuildOptions(nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d exporter(s), %d ignore rule(s))\n",
				args[0], len(cfg.Exporters), len(cfg.Ignore.Rules)+len(cfg.Ignore.Hosts)+len(cfg.Ignore.PathPrefixes))
			return nil
		},
	}
}

// newDemoCommand wires the full loop against a real URL and prints the
// resulting span to the console exporter.
func newDemoCommand(logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo <url>",
		Short: "Trace a single outbound request and print the span",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := tracing.DefaultConfig()
			if configPath != "" {
				loaded, err := tracing.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if len(cfg.Exporters) == 0 {
				cfg.Exporters = []tracing.ExporterConfig{{Type: "console"}}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			provider, err := tracing.NewProvider(ctx, cfg)
			if err != nil {
				return err
			}
			defer provider.Shutdown(context.Background())

			opts, err := cfg.BuildOptions(logger, provider.Metrics())
			if err != nil {
				return err
			}

			if cfg.Metrics.Enabled {
				srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: provider.MetricsHandler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Warn("metrics endpoint failed", "addr", cfg.Metrics.Addr, "error", err)
					}
				}()
				defer srv.Close()
			}

			bus := diagnostics.NewBus()
			correlator := instrument.NewHTTPClient(bus, provider.Tracer("diagbridge"), opts)
			defer correlator.Close()

			client := instrument.WrapClient(bus, &http.Client{Timeout: timeout})

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, args[0], nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				// The span already recorded the failure; surface it after flush.
				provider.ForceFlush(context.Background())
				return err
			}
			resp.Body.Close()

			return provider.ForceFlush(context.Background())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to bridge config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "diagbridge %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}
