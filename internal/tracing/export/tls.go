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

package export

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSInput provides configuration for building an exporter TLS config.
type TLSInput struct {
	Enabled           bool
	VerifyCertificate bool
	CACertPath        string
}

// BuildTLSConfig creates a TLS configuration from input parameters.
// Returns nil when custom TLS settings are not enabled, in which case the
// exporters fall back to their secure defaults.
func BuildTLSConfig(input TLSInput) (*tls.Config, error) {
	if !input.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !input.VerifyCertificate,
	}

	if input.CACertPath != "" {
		caCert, err := os.ReadFile(input.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parsing CA certificate %s", input.CACertPath)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// ValidateTLSConfig validates that a TLS config meets the minimum security
// requirements for talking to a collector.
func ValidateTLSConfig(cfg *tls.Config) error {
	if cfg == nil {
		return fmt.Errorf("TLS config is nil")
	}
	if cfg.MinVersion < tls.VersionTLS12 {
		return fmt.Errorf("minimum TLS version must be 1.2 or higher, got %d", cfg.MinVersion)
	}
	return nil
}
