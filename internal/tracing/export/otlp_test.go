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
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// The gRPC exporter dials lazily, so construction needs no live collector.

func TestNewOTLPExporter_Insecure(t *testing.T) {
	exporter, err := NewOTLPExporter(context.Background(), OTLPConfig{
		Endpoint: "localhost:4317",
		Insecure: true,
	})
	require.NoError(t, err)
	require.NotNil(t, exporter)
	exporter.Shutdown(context.Background()) //nolint:errcheck
}

func TestNewOTLPExporter_WithHeadersAndTimeout(t *testing.T) {
	exporter, err := NewOTLPExporter(context.Background(), OTLPConfig{
		Endpoint: "collector.internal:4317",
		Insecure: true,
		Headers:  map[string]string{"authorization": "Bearer token"},
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, exporter)
	exporter.Shutdown(context.Background()) //nolint:errcheck
}

func TestNewOTLPExporter_RejectsWeakTLS(t *testing.T) {
	_, err := NewOTLPExporter(context.Background(), OTLPConfig{
		Endpoint:  "collector.internal:4317",
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS10},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid TLS config")
}

func TestNewOTLPExporter_CustomTLS(t *testing.T) {
	exporter, err := NewOTLPExporter(context.Background(), OTLPConfig{
		Endpoint:  "collector.internal:4317",
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS13},
	})
	require.NoError(t, err)
	require.NotNil(t, exporter)
	exporter.Shutdown(context.Background()) //nolint:errcheck
}

func TestNewOTLPExporterWithDialOptions_CustomOptions(t *testing.T) {
	exporter, err := NewOTLPExporterWithDialOptions(context.Background(), OTLPConfig{
		Endpoint: "localhost:4317",
	},
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent("diagbridge-test"),
	)
	require.NoError(t, err)
	require.NotNil(t, exporter)
	exporter.Shutdown(context.Background()) //nolint:errcheck
}
