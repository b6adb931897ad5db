package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/komunitin/komunitin-sub000/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		level    string
		expected slog.Level
	}{
		{"Debug", "debug", slog.LevelDebug},
		{"Info", "info", slog.LevelInfo},
		{"Warn", "warn", slog.LevelWarn},
		{"Warning", "WARNING", slog.LevelWarn},
		{"Error", "error", slog.LevelError},
		{"UnknownToInfo", "verbose", slog.LevelInfo},
		{"EmptyToInfo", "", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseLevel(tc.level))
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{
		Application: config.ApplicationConfig{Name: "accounting_api", Env: "test"},
		Logging:     config.LoggingConfig{Level: "warn", Format: "json"},
	}

	log := newLogger(&buf, cfg)
	assert.False(t, log.Enabled(context.Background(), slog.LevelInfo))

	log.Warn("Sweep skipped", "currency", "TEST")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Sweep skipped", record["msg"])
	assert.Equal(t, "accounting_api", record["service"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "TEST", record["currency"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Logging: config.LoggingConfig{Level: "debug", Format: "text"}}

	log := newLogger(&buf, cfg)
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))

	log.Debug("Relayed outbox message", "id", 7)
	assert.Contains(t, buf.String(), `msg="Relayed outbox message"`)
	assert.Contains(t, buf.String(), "id=7")
	assert.NotContains(t, buf.String(), "service=")
}
