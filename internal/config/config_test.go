package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/common-creation/chatpipe/internal/auth"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CHATPIPE_AI_PROVIDER", "CHATPIPE_AI_API_KEY", "CHATPIPE_MODEL", "CHATPIPE_CONFIG_PATH",
		"CHATPIPE_STORAGE_DRIVER", "CHATPIPE_STORAGE_PATH", "CHATPIPE_LOG_LEVEL", "CHATPIPE_LOG_FILE",
		"CHATPIPE_APPROVAL_MODE", "CHATPIPE_AUTO_AUTHORIZE", "CHATPIPE_AUTOSAVE_INTERVAL",
		"CHATPIPE_MAX_TOOL_RECURSION_DEPTH", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func TestNewDefaultConfig(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		clearEnv(t)
		cfg := NewDefaultConfig()

		assert.Equal(t, "openai", cfg.AI.Provider)
		assert.Equal(t, "gpt-4o", cfg.AI.Model)
		assert.Equal(t, time.Second, cfg.Pipeline.AutoSaveInterval)
		assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.UpdateDebounce)
		assert.Equal(t, 8, cfg.Pipeline.MaxToolRecursionDepth)
		assert.Equal(t, 2000, cfg.Pipeline.ResultTruncate)
		assert.Equal(t, "interactive", cfg.Authorization.Mode)
		assert.False(t, cfg.Authorization.DefaultAutoAuthorize)
		assert.Equal(t, "sqlite", cfg.Storage.Driver)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CHATPIPE_AI_PROVIDER", "azure")
		t.Setenv("OPENAI_API_KEY", "test-key")
		t.Setenv("AZURE_OPENAI_ENDPOINT", "https://test.openai.azure.com")

		cfg := NewDefaultConfig()
		assert.Equal(t, "azure", cfg.AI.Provider)
		assert.Equal(t, "test-key", cfg.AI.APIKey)
		assert.Equal(t, "https://test.openai.azure.com", cfg.AI.Azure.Endpoint)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad provider", func(c *Config) { c.AI.Provider = "anthropic" }, "invalid provider"},
		{"azure needs endpoint", func(c *Config) { c.AI.Provider = "azure" }, "Azure endpoint"},
		{"bad reasoning effort", func(c *Config) { c.AI.ReasoningEffort = "max" }, "reasoning_effort"},
		{"autosave floor", func(c *Config) { c.Pipeline.AutoSaveInterval = 50 * time.Millisecond }, "autosave_interval"},
		{"depth one", func(c *Config) { c.Pipeline.MaxToolRecursionDepth = 1 }, "max_tool_recursion_depth"},
		{"depth unlimited", func(c *Config) { c.Pipeline.MaxToolRecursionDepth = 0 }, ""},
		{"depth sixteen", func(c *Config) { c.Pipeline.MaxToolRecursionDepth = 16 }, "max_tool_recursion_depth"},
		{"server depth", func(c *Config) {
			depth := 20
			c.Authorization.Servers["web"] = auth.ServerPolicy{MaxRecursionDepth: &depth}
		}, "server web"},
		{"bad mode", func(c *Config) { c.Authorization.Mode = "sometimes" }, "authorization mode"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage driver"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthorizationPolicy(t *testing.T) {
	yes := true
	depth := 3
	a := AuthorizationConfig{
		Mode:                 "interactive",
		DefaultAutoAuthorize: true,
		Servers: map[string]auth.ServerPolicy{
			"filesystem": {AutoAuthorize: &yes},
			"web":        {MaxRecursionDepth: &depth},
		},
	}
	p := a.Policy()
	assert.True(t, p.ShouldAutoAuthorize("filesystem"))
	assert.False(t, p.ShouldAutoAuthorize("fs"))
	assert.True(t, p.ShouldAutoAuthorize("web"))
	assert.Equal(t, 3, p.MaxRecursionDepth("web", 8))
}

func TestLoaderLoad(t *testing.T) {
	t.Run("file values over defaults", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
ai:
  model: gpt-4.1
pipeline:
  autosave_interval: 500ms
  max_tool_recursion_depth: 0
authorization:
  servers:
    web_search:
      auto_authorize: true
storage:
  driver: file
  path: ~/chat
`), 0644))

		cfg, err := NewLoader().Load(path)
		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1", cfg.AI.Model)
		assert.Equal(t, "openai", cfg.AI.Provider, "absent keys keep defaults")
		assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.AutoSaveInterval)
		assert.Equal(t, 0, cfg.Pipeline.MaxToolRecursionDepth)
		assert.Equal(t, 2000, cfg.Pipeline.ResultTruncate)
		require.NotNil(t, cfg.Authorization.Servers["web_search"].AutoAuthorize)
		assert.Equal(t, "file", cfg.Storage.Driver)
		assert.Equal(t, filepath.Join(os.Getenv("HOME"), "chat"), cfg.Storage.Path)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ai:\n  model: from-file\n"), 0644))
		t.Setenv("CHATPIPE_MODEL", "from-env")
		t.Setenv("CHATPIPE_MAX_TOOL_RECURSION_DEPTH", "4")
		t.Setenv("CHATPIPE_APPROVAL_MODE", "all")

		cfg, err := NewLoader().Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.AI.Model)
		assert.Equal(t, 4, cfg.Pipeline.MaxToolRecursionDepth)
		assert.Equal(t, "all", cfg.Authorization.Mode)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ai: [unclosed"), 0644))
		_, err := NewLoader().Load(path)
		assert.Error(t, err)
	})

	t.Run("creates default config when none exists", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		loader := &Loader{defaultPath: filepath.Join(dir, "chatpipe", "config.yaml")}

		cfg, err := loader.Load("")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", cfg.AI.Model)
		assert.FileExists(t, loader.defaultPath)
		assert.Equal(t, loader.defaultPath, loader.GetConfigPath(""))
	})
}

func TestSampleConfigParses(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(SampleConfig()), 0644))

	cfg, err := (&Loader{}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pipeline.MaxToolRecursionDepth)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := NewDefaultConfig()
	cfg.AI.Model = "saved-model"

	loader := &Loader{}
	require.NoError(t, loader.Save(path, cfg))
	loaded, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-model", loaded.AI.Model)
}
