package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientName and ClientVersion identify chatpipe to MCP servers.
const (
	ClientName    = "chatpipe"
	ClientVersion = "1.0.0"
)

// Manager owns MCP server sessions and answers tool and enablement queries.
type Manager struct {
	mu           sync.RWMutex
	config       *Config
	configPaths  []string
	servers      map[string]*serverInstance
	conversation map[string][]string
	global       []string
	connect      connector
	logger       *log.Logger
}

// serverInstance is one configured server and its live session.
type serverInstance struct {
	name    string
	config  ServerConfig
	status  ServerStatus
	session session
	tools   []ToolInfo
	mu      sync.RWMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// withConnector replaces the SDK connector.
func withConnector(c connector) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.connect = c
		}
	}
}

// NewManager creates a new MCP Manager instance
func NewManager(logger *log.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    ClientName,
		Version: ClientVersion,
	}, nil)

	m := &Manager{
		servers:      make(map[string]*serverInstance),
		conversation: make(map[string][]string),
		connect:      sdkConnector(client),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadConfig merges the MCP server files found among paths. With no paths
// the default locations are searched.
func (m *Manager) LoadConfig(paths []string) error {
	// Use default paths if none provided
	if len(paths) == 0 {
		paths = DefaultConfigPaths()
	}

	config, loaded, err := LoadConfigFiles(paths)
	if err != nil {
		return fmt.Errorf("failed to load MCP configuration: %w", err)
	}

	m.mu.Lock()
	m.config = config
	m.configPaths = loaded
	m.mu.Unlock()

	m.logger.Info("Loaded MCP configuration", "files", loaded, "servers", len(config.Servers))
	return nil
}

// SetConfig installs cfg directly.
func (m *Manager) SetConfig(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.configPaths = nil
	m.mu.Unlock()
}

// ConfigPaths returns the files the configuration was merged from.
func (m *Manager) ConfigPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.configPaths...)
}

// StartServer connects to a configured server and caches its tool list.
func (m *Manager) StartServer(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.config == nil {
		m.mu.Unlock()
		return fmt.Errorf("no configuration loaded")
	}
	serverConfig, exists := m.config.Servers[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("server %s not found in configuration", name)
	}
	// Check if server is already running
	if instance, exists := m.servers[name]; exists {
		instance.mu.RLock()
		state := instance.status.State
		instance.mu.RUnlock()
		if state == StateRunning || state == StateStarting {
			m.mu.Unlock()
			return fmt.Errorf("server %s is already running or starting", name)
		}
	}

	// Create new server instance
	instance := &serverInstance{
		name:   name,
		config: serverConfig,
		status: ServerStatus{
			Name:      name,
			State:     StateStarting,
			StartedAt: time.Now(),
			Transport: serverConfig.Type,
		},
	}
	m.servers[name] = instance
	m.mu.Unlock()

	m.logger.Info("Starting MCP server", "name", name, "transport", serverConfig.Type)

	// Create transport and initialize connection
	s, err := m.connect(ctx, name, serverConfig)
	if err != nil {
		instance.fail(err)
		m.logger.Error("Failed to connect to MCP server", "server", name, "error", err)
		return err
	}

	tools, err := listAllTools(ctx, name, s)
	if err != nil {
		_ = s.Close()
		err = fmt.Errorf("list tools from %s: %w", name, err)
		instance.fail(err)
		m.logger.Error("Failed to list MCP tools", "server", name, "error", err)
		return err
	}

	// Update status to running
	instance.mu.Lock()
	instance.session = s
	instance.tools = tools
	instance.status.State = StateRunning
	instance.status.Error = nil
	instance.status.ToolCount = len(tools)
	instance.mu.Unlock()

	m.logger.Info("MCP server started successfully", "server", name, "tools", len(tools))
	return nil
}

func (si *serverInstance) fail(err error) {
	si.mu.Lock()
	si.status.State = StateError
	si.status.Error = err
	si.mu.Unlock()
}

// StartAll starts every configured server that is not disabled. Servers that
// fail stay in the error state; the others keep running.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	if m.config == nil {
		m.mu.RUnlock()
		return fmt.Errorf("no configuration loaded")
	}
	var names []string
	for name, sc := range m.config.Servers {
		if !sc.Disabled {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := m.StartServer(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("failed to start server %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// StopServer stops a specific MCP server
func (m *Manager) StopServer(name string) error {
	m.mu.Lock()
	instance, exists := m.servers[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("server %s not found", name)
	}
	delete(m.servers, name)
	m.mu.Unlock()

	// Update status
	instance.mu.Lock()
	s := instance.session
	instance.session = nil
	instance.status.State = StateStopped
	instance.mu.Unlock()

	// Clean shutdown
	if s != nil {
		if err := s.Close(); err != nil {
			m.logger.Error("Error closing session", "server", name, "error", err)
		}
	}

	m.logger.Info("Stopped MCP server", "name", name)
	return nil
}

// StopAll stops all running MCP servers
func (m *Manager) StopAll() error {
	m.mu.RLock()
	serverNames := make([]string, 0, len(m.servers))
	for name := range m.servers {
		serverNames = append(serverNames, name)
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range serverNames {
		if err := m.StopServer(name); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop server %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// GetServerStatus returns the status of a specific server
func (m *Manager) GetServerStatus(name string) ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if instance, exists := m.servers[name]; exists {
		instance.mu.RLock()
		defer instance.mu.RUnlock()
		return instance.status
	}

	// Return stopped status for unknown servers
	return ServerStatus{
		Name:  name,
		State: StateStopped,
	}
}

// GetAllStatuses returns the status of all configured or running servers
func (m *Manager) GetAllStatuses() map[string]ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]ServerStatus)

	// Add status for all running servers
	for name, instance := range m.servers {
		instance.mu.RLock()
		statuses[name] = instance.status
		instance.mu.RUnlock()
	}

	// Add status for configured but not running servers
	if m.config != nil {
		for name := range m.config.Servers {
			if _, exists := statuses[name]; !exists {
				statuses[name] = ServerStatus{
					Name:  name,
					State: StateStopped,
				}
			}
		}
	}
	return statuses
}

// ListTools returns the tools of every running server.
func (m *Manager) ListTools() []ToolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []ToolInfo
	for _, instance := range m.servers {
		instance.mu.RLock()
		tools = append(tools, instance.tools...)
		instance.mu.RUnlock()
	}
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].ServerName != tools[j].ServerName {
			return tools[i].ServerName < tools[j].ServerName
		}
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// ServerTools returns the tools of one running server.
func (m *Manager) ServerTools(_ context.Context, server string) ([]ToolInfo, error) {
	instance, err := m.running(server)
	if err != nil {
		return nil, err
	}
	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return append([]ToolInfo(nil), instance.tools...), nil
}

// Invoke calls tool on server. Text content is returned as a string, or
// decoded when it holds a JSON object or array. A result flagged as an error
// is returned as an error carrying its text.
func (m *Manager) Invoke(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	instance, err := m.running(server)
	if err != nil {
		return nil, err
	}
	instance.mu.RLock()
	s := instance.session
	instance.mu.RUnlock()
	if s == nil {
		return nil, fmt.Errorf("MCP server %s is not running", server)
	}

	if args == nil {
		args = map[string]any{}
	}
	m.logger.Debug("Calling MCP tool", "server", server, "tool", tool)
	result, err := s.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s.%s: %w", server, tool, err)
	}

	text := formatContent(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("tool %s.%s returned error: %s", server, tool, text)
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	return decodeJSONText(text), nil
}

func (m *Manager) running(server string) (*serverInstance, error) {
	m.mu.RLock()
	instance, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("MCP server %s is not running", server)
	}
	instance.mu.RLock()
	state := instance.status.State
	instance.mu.RUnlock()
	if state != StateRunning {
		return nil, fmt.Errorf("MCP server %s is %s", server, strings.ToLower(state.String()))
	}
	return instance, nil
}

// SetConversationServers enables servers for one conversation. An empty list
// clears the override.
func (m *Manager) SetConversationServers(conversationID string, servers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(servers) == 0 {
		delete(m.conversation, conversationID)
		return
	}
	m.conversation[conversationID] = append([]string(nil), servers...)
}

// SetGlobalServers sets the servers enabled for every conversation.
func (m *Manager) SetGlobalServers(servers []string) {
	m.mu.Lock()
	m.global = append([]string(nil), servers...)
	m.mu.Unlock()
}

// ConversationServers implements compose.ServerDirectory.
func (m *Manager) ConversationServers(_ context.Context, conversationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.conversation[conversationID]...), nil
}

// GlobalServers implements compose.ServerDirectory.
func (m *Manager) GlobalServers(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.global...), nil
}

// ConnectedServers implements compose.ServerDirectory.
func (m *Manager) ConnectedServers(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, instance := range m.servers {
		instance.mu.RLock()
		if instance.status.State == StateRunning {
			names = append(names, name)
		}
		instance.mu.RUnlock()
	}
	sort.Strings(names)
	return names, nil
}

// ConfiguredServers implements compose.ServerDirectory.
func (m *Manager) ConfiguredServers(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}
	names := make([]string, 0, len(m.config.Servers))
	for name := range m.config.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func listAllTools(ctx context.Context, server string, s session) ([]ToolInfo, error) {
	var tools []ToolInfo
	cursor := ""
	for {
		params := &mcpsdk.ListToolsParams{}
		if cursor != "" {
			params.Cursor = cursor
		}
		res, err := s.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			schema := map[string]any{}
			if m, ok := t.InputSchema.(map[string]any); ok {
				schema = m
			} else if t.InputSchema != nil {
				if data, err := json.Marshal(t.InputSchema); err == nil {
					_ = json.Unmarshal(data, &schema)
				}
			}
			tools = append(tools, ToolInfo{
				ServerName:  server,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			})
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return tools, nil
}

// formatContent converts MCP content to a string.
func formatContent(content []mcpsdk.Content) string {
	var sb strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			sb.WriteString(v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				sb.Write(data)
			}
		}
	}
	return sb.String()
}

func decodeJSONText(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return text
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return text
	}
	return v
}
