package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.example.yaml
var embeddedConfigSample string

// Loader handles configuration loading and saving
type Loader struct {
	// Config file paths in priority order
	searchPaths []string

	// Where a missing config is created; empty disables creation
	defaultPath string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: getDefaultSearchPaths(),
		defaultPath: userConfigPath(),
	}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(explicitPath string) (*Config, error) {
	// Start with default configuration
	cfg := NewDefaultConfig()

	// Find config file
	configPath := explicitPath
	if configPath == "" {
		// Search for config file
		for _, path := range l.searchPaths {
			if fileExists(path) {
				configPath = path
				break
			}
		}
	}

	// Load from file if found
	if configPath != "" {
		if err := l.loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else if l.defaultPath != "" {
		// No config file found, create one from embedded sample
		if err := l.createDefaultConfig(); err != nil {
			// Log warning but continue with default config
			fmt.Fprintf(os.Stderr, "Warning: Failed to create default config file: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Created default config file at %s\n", l.defaultPath)
		}
	}

	// Apply environment variables override
	applyEnvironmentOverrides(cfg)
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	// Validate final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (l *Loader) Save(path string, cfg *Config) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path where config would be loaded from
func (l *Loader) GetConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	// Return first existing path or default path
	for _, path := range l.searchPaths {
		if fileExists(path) {
			return path
		}
	}
	return l.defaultPath
}

// loadFromFile decodes the YAML file at path over cfg. Keys absent from the
// file keep their current values.
func (l *Loader) loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getDefaultSearchPaths returns the default configuration search paths
func getDefaultSearchPaths() []string {
	var paths []string

	// Environment variable takes priority
	if envPath := os.Getenv("CHATPIPE_CONFIG_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}

	// Current directory, then user config directory
	paths = append(paths, "config.yaml")
	if p := userConfigPath(); p != "" {
		paths = append(paths, p)
	}
	return paths
}

func userConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "chatpipe", "config.yaml")
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	// AI configuration
	if provider := os.Getenv("CHATPIPE_AI_PROVIDER"); provider != "" {
		cfg.AI.Provider = provider
	}
	if apiKey := os.Getenv("CHATPIPE_AI_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	}
	// Provider-specific key fallbacks
	if cfg.AI.Provider == "openai" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.AI.Provider == "azure" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
	}
	if model := os.Getenv("CHATPIPE_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.AI.BaseURL = baseURL
	}
	if endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT"); endpoint != "" {
		cfg.AI.Azure.Endpoint = endpoint
	}
	if deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT"); deployment != "" {
		cfg.AI.Azure.DeploymentName = deployment
	}

	// Pipeline configuration
	if v := os.Getenv("CHATPIPE_AUTOSAVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.AutoSaveInterval = d
		}
	}
	if depth, ok := getEnvInt("CHATPIPE_MAX_TOOL_RECURSION_DEPTH"); ok {
		cfg.Pipeline.MaxToolRecursionDepth = depth
	}
	// Authorization configuration
	if mode := os.Getenv("CHATPIPE_APPROVAL_MODE"); mode != "" {
		cfg.Authorization.Mode = mode
	}
	if v := os.Getenv("CHATPIPE_AUTO_AUTHORIZE"); v != "" {
		cfg.Authorization.DefaultAutoAuthorize = strings.EqualFold(v, "true")
	}

	// Storage configuration
	if driver := os.Getenv("CHATPIPE_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if path := os.Getenv("CHATPIPE_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}

	// Logging configuration
	if logLevel := os.Getenv("CHATPIPE_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFile := os.Getenv("CHATPIPE_LOG_FILE"); logFile != "" {
		cfg.Logging.File = logFile
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// createDefaultConfig writes the embedded sample to the default path unless a
// file already exists there.
func (l *Loader) createDefaultConfig() error {
	// Don't overwrite an existing file
	if fileExists(l.defaultPath) {
		return nil
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(l.defaultPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write embedded sample config
	if err := os.WriteFile(l.defaultPath, []byte(embeddedConfigSample), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return embeddedConfigSample
}
