package mcp

import (
	"time"
)

// Config represents the MCP configuration structure
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig defines configuration for an individual MCP server
type ServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env,omitempty"`
	Type     string            `json:"type,omitempty"`    // stdio, http, sse
	URL      string            `json:"url,omitempty"`     // for http/sse
	Headers  map[string]string `json:"headers,omitempty"` // for http/sse
	Disabled bool              `json:"disabled,omitempty"`
}

// ServerStatus represents the current status of an MCP server
type ServerStatus struct {
	Name      string
	State     State
	Error     error
	StartedAt time.Time
	Transport string
	ToolCount int
}

// State represents the current state of an MCP server
type State int

const (
	StateStarting State = iota
	StateRunning
	StateError
	StateStopped
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateError:
		return "Error"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ToolInfo represents information about an available tool
type ToolInfo struct {
	ServerName  string         `json:"serverName"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}
