package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\${([^}]+)}`)

// DefaultConfigPaths lists the server files in merge order: the user file,
// then $CHATPIPE_CONFIG_DIR/mcp.json, then the project-local .mcp.json.
func DefaultConfigPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "chatpipe", "mcp.json"))
	}
	if dir := os.Getenv("CHATPIPE_CONFIG_DIR"); dir != "" {
		paths = append(paths, filepath.Join(dir, "mcp.json"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".mcp.json"))
	}
	return paths
}

// LoadConfigFiles merges the server definitions of every file in paths that
// exists. A server defined again in a later file replaces the earlier one.
// It returns the files that were read.
func LoadConfigFiles(paths []string) (*Config, []string, error) {
	merged := &Config{Servers: make(map[string]ServerConfig)}
	var loaded []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
		}
		cfg, err := ParseConfig(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		for name, sc := range cfg.Servers {
			merged.Servers[name] = sc
		}
		loaded = append(loaded, path)
	}
	if len(loaded) == 0 {
		return nil, nil, fmt.Errorf("no MCP configuration found in %v", paths)
	}
	return merged, loaded, nil
}

// ParseConfig decodes one mcp.json document. ${VAR} references are replaced
// by set environment variables; unset ones are left as written.
func ParseConfig(data []byte) (*Config, error) {
	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		if value := os.Getenv(match[2 : len(match)-1]); value != "" {
			return value
		}
		return match
	})

	var cfg Config
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if cfg.Servers == nil {
		return nil, fmt.Errorf("mcpServers section is required")
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("at least one MCP server must be configured")
	}
	for name, sc := range cfg.Servers {
		if err := normalizeServer(name, &sc); err != nil {
			return nil, fmt.Errorf("invalid server configuration for %s: %w", name, err)
		}
		cfg.Servers[name] = sc
	}
	return &cfg, nil
}

// normalizeServer defaults the transport to stdio and folds its aliases.
// Disabled servers are kept without checking their transport settings.
func normalizeServer(name string, sc *ServerConfig) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	sc.Type = strings.ToLower(strings.TrimSpace(sc.Type))
	switch sc.Type {
	case "":
		sc.Type = "stdio"
	case "streamable_http", "streamable":
		sc.Type = "http"
	}
	if sc.Disabled {
		return nil
	}

	switch sc.Type {
	case "stdio":
		if sc.Command == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
	case "http", "sse":
		if sc.URL == "" {
			return fmt.Errorf("URL is required for %s transport", sc.Type)
		}
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, http, sse)", sc.Type)
	}
	return nil
}
