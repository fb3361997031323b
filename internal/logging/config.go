package logging

import (
	"fmt"
	"strings"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string        `yaml:"level" json:"level"`
	Format    string        `yaml:"format" json:"format"`       // text, json or logfmt
	Timestamp bool          `yaml:"timestamp" json:"timestamp"` // whether to include timestamps
	File      string        `yaml:"file,omitempty" json:"file,omitempty"`
	Privacy   PrivacyConfig `yaml:"privacy" json:"privacy"`
}

// PrivacyConfig controls masking of sensitive values in logs
type PrivacyConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	SensitiveKeys  []string `yaml:"sensitive_keys" json:"sensitive_keys"`
	MaskChar       string   `yaml:"mask_char" json:"mask_char"`
	PreserveLength int      `yaml:"preserve_length" json:"preserve_length"`
}

// DefaultConfig returns a default logging configuration
func DefaultConfig() LoggingConfig {
	return LoggingConfig{
		Level:     "info",
		Format:    "text",
		Timestamp: true,
		Privacy: PrivacyConfig{
			Enabled:        true,
			SensitiveKeys:  []string{"api_key", "apikey", "token", "password", "secret", "authorization"},
			MaskChar:       "*",
			PreserveLength: 4,
		},
	}
}

// DevelopmentConfig returns a configuration suitable for development
func DevelopmentConfig() LoggingConfig {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Validate checks level and format.
func (c LoggingConfig) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'text', 'json' or 'logfmt')", c.Format)
	}
	return nil
}
