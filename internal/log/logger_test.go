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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("span finished", CorrelationIDKey, "abc-123")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "span finished", record["msg"])
	assert.Equal(t, "abc-123", record[CorrelationIDKey])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNew_LevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatText, Output: &buf})

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	assert.NotNil(t, New(nil))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("debug flag wins", func(t *testing.T) {
		t.Setenv("DIAGBRIDGE_DEBUG", "1")
		t.Setenv("LOG_LEVEL", "error")

		cfg := FromEnv()
		assert.Equal(t, "debug", cfg.Level)
		assert.True(t, cfg.AddSource)
	})

	t.Run("specific level beats generic", func(t *testing.T) {
		t.Setenv("DIAGBRIDGE_DEBUG", "")
		t.Setenv("DIAGBRIDGE_LOG_LEVEL", "warn")
		t.Setenv("LOG_LEVEL", "error")

		cfg := FromEnv()
		assert.Equal(t, "warn", cfg.Level)
	})

	t.Run("format from env", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "TEXT")

		cfg := FromEnv()
		assert.Equal(t, FormatText, cfg.Format)
	})
}

func TestWithSource(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithSource(logger, "http.client").Info("observed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "http.client", record[SourceKey])
}
