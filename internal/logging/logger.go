// Package logging builds the charm logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger from cfg. When cfg.File is set, output goes to that file
// (appended) and the returned closer closes it.
func New(cfg LoggingConfig) (*log.Logger, io.Closer, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit default destination.
func NewWithWriter(cfg LoggingConfig, w io.Writer) (*log.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	// Open the log file if configured
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: cfg.Timestamp,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter(cfg.Format),
	})
	return logger, closer, nil
}

func formatter(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

func parseLevel(level string) (log.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

// Sanitizer masks values of sensitive keys in key/value pairs.
type Sanitizer struct {
	sensitiveKeys  []string
	maskChar       string
	preserveLength int
}

// NewSanitizer creates a sanitizer from the privacy settings. A disabled
// configuration yields a sanitizer that passes everything through.
func NewSanitizer(cfg PrivacyConfig) *Sanitizer {
	if !cfg.Enabled {
		return &Sanitizer{}
	}
	mask := cfg.MaskChar
	if mask == "" {
		mask = "*"
	}
	// Keys are matched case-insensitively
	keys := make([]string, len(cfg.SensitiveKeys))
	for i, k := range cfg.SensitiveKeys {
		keys[i] = strings.ToLower(k)
	}
	return &Sanitizer{sensitiveKeys: keys, maskChar: mask, preserveLength: cfg.PreserveLength}
}

// Sanitize returns a copy of keyvals with sensitive values masked.
func (s *Sanitizer) Sanitize(keyvals ...any) []any {
	out := make([]any, len(keyvals))
	copy(out, keyvals)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if ok && s.sensitive(key) {
			out[i+1] = s.mask(out[i+1])
		}
	}
	return out
}

// Mask masks a single value.
func (s *Sanitizer) Mask(v any) any {
	if len(s.sensitiveKeys) == 0 {
		return v
	}
	return s.mask(v)
}

func (s *Sanitizer) sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range s.sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (s *Sanitizer) mask(v any) any {
	str, ok := v.(string)
	if !ok {
		return strings.Repeat(s.maskChar, 3)
	}
	// Keep a short prefix of long values
	if s.preserveLength > 0 && len(str) > s.preserveLength*2 {
		return str[:s.preserveLength] + strings.Repeat(s.maskChar, 3)
	}
	return strings.Repeat(s.maskChar, 3)
}

var defaultSanitizer = NewSanitizer(DefaultConfig().Privacy)

// Mask masks value with the default privacy settings, for logging secrets such
// as API keys.
func Mask(value string) string {
	return defaultSanitizer.Mask(value).(string)
}
