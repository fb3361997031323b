package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/common-creation/chatpipe/internal/auth"
	"github.com/common-creation/chatpipe/internal/logging"
)

// Config represents the complete configuration for chatpipe
type Config struct {
	// AI configuration
	AI AIConfig `yaml:"ai" json:"ai"`

	// Streaming pipeline tuning
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Tool authorization
	Authorization AuthorizationConfig `yaml:"authorization" json:"authorization"`

	// Message storage
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// MCP server discovery
	MCP MCPConfig `yaml:"mcp" json:"mcp"`

	// Logging configuration
	Logging logging.LoggingConfig `yaml:"logging" json:"logging"`
}

// AIConfig contains AI provider specific configuration
type AIConfig struct {
	// Provider can be "openai" or "azure"
	Provider string `yaml:"provider" json:"provider"`

	// API key for authentication
	APIKey string `yaml:"api_key" json:"api_key"`

	// Model name to use
	Model string `yaml:"model" json:"model"`

	// Base URL for OpenAI-compatible endpoints (optional)
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Organization ID (optional)
	Organization string `yaml:"organization" json:"organization"`

	// Sampling temperature (0-2). Zero leaves the provider default.
	Temperature float32 `yaml:"temperature" json:"temperature"`

	// Azure specific settings
	Azure AzureConfig `yaml:"azure" json:"azure"`

	// Reasoning effort for reasoning models: "minimal", "low", "medium", "high"
	ReasoningEffort string `yaml:"reasoning_effort,omitempty" json:"reasoning_effort,omitempty"`
}

// AzureConfig contains Azure OpenAI specific settings
type AzureConfig struct {
	// Azure OpenAI endpoint
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Deployment name
	DeploymentName string `yaml:"deployment_name" json:"deployment_name"`

	// API version
	APIVersion string `yaml:"api_version" json:"api_version"`
}

// PipelineConfig tunes persistence and tool follow-ups
type PipelineConfig struct {
	// Delay before the autosaver writes pending content
	AutoSaveInterval time.Duration `yaml:"autosave_interval" json:"autosave_interval"`

	// Batch delay of the per-message update manager
	UpdateDebounce time.Duration `yaml:"update_debounce" json:"update_debounce"`

	// Follow-up turns allowed per conversation. 0 means unlimited.
	MaxToolRecursionDepth int `yaml:"max_tool_recursion_depth" json:"max_tool_recursion_depth"`

	// Maximum characters of a tool result shown on its card
	ResultTruncate int `yaml:"result_truncate" json:"result_truncate"`
}

// AuthorizationConfig decides which tool calls need a human decision
type AuthorizationConfig struct {
	// Mode is "interactive", "all" or "none"
	Mode string `yaml:"mode" json:"mode"`

	// Fallback for servers without an override
	DefaultAutoAuthorize bool `yaml:"default_auto_authorize" json:"default_auto_authorize"`

	// Per-server overrides keyed by server name
	Servers map[string]auth.ServerPolicy `yaml:"servers" json:"servers"`
}

// StorageConfig selects the message store
type StorageConfig struct {
	// Driver is "file" or "sqlite"
	Driver string `yaml:"driver" json:"driver"`

	// Directory for the file driver, database file for sqlite
	Path string `yaml:"path" json:"path"`
}

// MCPConfig lists extra MCP configuration files
type MCPConfig struct {
	ConfigPaths []string `yaml:"config_paths" json:"config_paths"`
}

// NewDefaultConfig creates a new configuration with default values
func NewDefaultConfig() *Config {
	// Get user home directory for default paths
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "chatpipe")

	return &Config{
		AI: AIConfig{
			Provider:     getEnvOrDefault("CHATPIPE_AI_PROVIDER", "openai"),
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			Model:        getEnvOrDefault("CHATPIPE_MODEL", "gpt-4o"),
			BaseURL:      os.Getenv("OPENAI_BASE_URL"),
			Organization: os.Getenv("OPENAI_ORGANIZATION"),
			Azure: AzureConfig{
				Endpoint:       os.Getenv("AZURE_OPENAI_ENDPOINT"),
				DeploymentName: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
				APIVersion:     getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-06-01"),
			},
		},
		Pipeline: PipelineConfig{
			AutoSaveInterval:      time.Second,
			UpdateDebounce:        100 * time.Millisecond,
			MaxToolRecursionDepth: 8,
			ResultTruncate:        2000,
		},
		Authorization: AuthorizationConfig{
			Mode:    "interactive",
			Servers: map[string]auth.ServerPolicy{},
		},
		Storage: StorageConfig{
			Driver: getEnvOrDefault("CHATPIPE_STORAGE_DRIVER", "sqlite"),
			Path:   filepath.Join(dataDir, "chatpipe.db"),
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("AI configuration error: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration error: %w", err)
	}
	if err := c.Authorization.Validate(); err != nil {
		return fmt.Errorf("authorization configuration error: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration error: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration error: %w", err)
	}
	return nil
}

// Validate validates the AI configuration. The API key is checked when a
// client is created, so offline commands work without one.
func (ai *AIConfig) Validate() error {
	if ai.Provider == "" {
		return errors.New("provider is required")
	}

	if ai.Provider != "openai" && ai.Provider != "azure" {
		return fmt.Errorf("invalid provider: %s (must be 'openai' or 'azure')", ai.Provider)
	}

	if ai.Model == "" {
		return errors.New("model is required")
	}

	if ai.Temperature < 0 || ai.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", ai.Temperature)
	}

	// Provider-specific validation
	if ai.Provider == "azure" {
		if ai.Azure.Endpoint == "" {
			return errors.New("Azure endpoint is required")
		}
		if ai.Azure.DeploymentName == "" {
			return errors.New("Azure deployment name is required")
		}
	}

	// Validate reasoning effort if specified
	if ai.ReasoningEffort != "" {
		switch ai.ReasoningEffort {
		case "minimal", "low", "medium", "high":
		default:
			return fmt.Errorf("invalid reasoning_effort: %s (must be 'minimal', 'low', 'medium', or 'high')", ai.ReasoningEffort)
		}
	}
	return nil
}

// Validate validates the pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.AutoSaveInterval < 200*time.Millisecond {
		return fmt.Errorf("autosave_interval must be at least 200ms, got %s", p.AutoSaveInterval)
	}
	if p.UpdateDebounce <= 0 {
		return errors.New("update_debounce must be positive")
	}
	if err := validateDepth(p.MaxToolRecursionDepth); err != nil {
		return err
	}
	if p.ResultTruncate <= 0 {
		return errors.New("result_truncate must be positive")
	}
	return nil
}

func validateDepth(depth int) error {
	if depth == 0 || (depth >= 2 && depth <= 15) {
		return nil
	}
	return fmt.Errorf("max_tool_recursion_depth must be 0 (unlimited) or between 2 and 15, got %d", depth)
}

// Validate validates the authorization configuration
func (a *AuthorizationConfig) Validate() error {
	switch a.Mode {
	case "", "interactive", "all", "none":
	default:
		return fmt.Errorf("invalid authorization mode: %s", a.Mode)
	}
	for name, sp := range a.Servers {
		if sp.MaxRecursionDepth != nil {
			if err := validateDepth(*sp.MaxRecursionDepth); err != nil {
				return fmt.Errorf("server %s: %w", name, err)
			}
		}
	}
	return nil
}

// Policy builds the authorization policy described by a.
func (a *AuthorizationConfig) Policy() *auth.Policy {
	p := auth.NewPolicy()

	// Mode and fallback first, then per-server overrides
	p.SetMode(auth.ParseApprovalMode(a.Mode))
	p.SetDefaultAutoAuthorize(a.DefaultAutoAuthorize)
	for name, sp := range a.Servers {
		p.SetServer(name, sp)
	}
	return p
}

// Validate validates the storage configuration
func (s *StorageConfig) Validate() error {
	if s.Driver != "file" && s.Driver != "sqlite" {
		return fmt.Errorf("invalid storage driver: %s (must be 'file' or 'sqlite')", s.Driver)
	}
	if s.Path == "" {
		return errors.New("storage path is required")
	}
	return nil
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
