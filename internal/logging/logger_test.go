package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_Formats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"text", func(t *testing.T, out string) {
			assert.Contains(t, out, "saved")
			assert.Contains(t, out, "message=m1")
		}},
		{"json", func(t *testing.T, out string) {
			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &entry))
			assert.Equal(t, "saved", entry["msg"])
			assert.Equal(t, "m1", entry["message"])
		}},
		{"logfmt", func(t *testing.T, out string) {
			assert.Contains(t, out, "msg=saved")
			assert.Contains(t, out, "message=m1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := DefaultConfig()
			cfg.Format = tt.format
			cfg.Timestamp = false

			logger, closer, err := NewWithWriter(cfg, &buf)
			require.NoError(t, err)
			defer closer.Close()

			logger.Info("saved", "message", "m1")
			tt.check(t, buf.String())
		})
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = "warn"

	logger, _, err := NewWithWriter(cfg, &buf)
	require.NoError(t, err)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatpipe.log")
	cfg := DefaultConfig()
	cfg.File = path

	logger, closer, err := New(cfg)
	require.NoError(t, err)
	logger.Error("boom", "error", "disk full")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, LoggingConfig{Level: "loud"}.Validate())
	assert.Error(t, LoggingConfig{Level: "info", Format: "xml"}.Validate())
}

func TestSanitizer(t *testing.T) {
	s := NewSanitizer(DefaultConfig().Privacy)
	out := s.Sanitize("api_key", "sk-1234567890", "server", "fs", "token", 42)

	assert.Equal(t, "sk-1***", out[1])
	assert.Equal(t, "fs", out[3])
	assert.Equal(t, "***", out[5])

	passthrough := NewSanitizer(PrivacyConfig{})
	assert.Equal(t, []any{"api_key", "secret"}, passthrough.Sanitize("api_key", "secret"))

	assert.Equal(t, "***", Mask("short"))
}
