package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu     sync.Mutex
	tools  []*mcpsdk.Tool
	pages  int
	calls  []*mcpsdk.CallToolParams
	result *mcpsdk.CallToolResult
	err    error
	closed bool
}

func (s *fakeSession) ListTools(_ context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error) {
	if s.pages > 0 && params.Cursor == "" {
		return &mcpsdk.ListToolsResult{Tools: s.tools[:1], NextCursor: "2"}, nil
	}
	if s.pages > 0 {
		return &mcpsdk.ListToolsResult{Tools: s.tools[1:]}, nil
	}
	return &mcpsdk.ListToolsResult{Tools: s.tools}, nil
}

func (s *fakeSession) CallTool(_ context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, params)
	return s.result, s.err
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const twoServers = `{
	"mcpServers": {
		"filesystem": {"command": "fs-server", "args": ["--root", "${TEST_MCP_ROOT}"]},
		"web": {"type": "http", "url": "http://localhost:1/mcp"},
		"off": {"command": "x", "disabled": true}
	}
}`

func newTestManager(t *testing.T, sessions map[string]*fakeSession) *Manager {
	t.Helper()
	m := NewManager(log.New(io.Discard), withConnector(func(_ context.Context, name string, _ ServerConfig) (session, error) {
		s, ok := sessions[name]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return s, nil
	}))
	require.NoError(t, m.LoadConfig([]string{writeConfig(t, twoServers)}))
	return m
}

func TestManagerLoadConfig(t *testing.T) {
	t.Setenv("TEST_MCP_ROOT", "/data")
	m := NewManager(log.New(io.Discard))
	path := writeConfig(t, twoServers)

	require.NoError(t, m.LoadConfig([]string{"/nonexistent/mcp.json", path}))
	assert.Equal(t, []string{path}, m.ConfigPaths())
	assert.Equal(t, "stdio", m.config.Servers["filesystem"].Type, "type defaults to stdio")
	assert.Equal(t, []string{"--root", "/data"}, m.config.Servers["filesystem"].Args)

	assert.Error(t, NewManager(log.New(io.Discard)).LoadConfig([]string{"/nonexistent/path.json"}))
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no servers section", `{}`, "mcpServers section is required"},
		{"empty servers", `{"mcpServers": {}}`, "at least one"},
		{"stdio without command", `{"mcpServers": {"a": {}}}`, "command is required"},
		{"http without url", `{"mcpServers": {"a": {"type": "http"}}}`, "URL is required"},
		{"unknown type", `{"mcpServers": {"a": {"type": "grpc", "url": "x"}}}`, "unsupported transport"},
		{"bad json", `{"mcpServers": `, "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg, err := ParseConfig([]byte(`{"mcpServers": {"a": {"type": "Streamable", "url": "http://x"}, "b": {"disabled": true}}}`))
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Servers["a"].Type)
	assert.Equal(t, "stdio", cfg.Servers["b"].Type, "disabled servers skip transport checks")
}

func TestLoadConfigFiles_Merge(t *testing.T) {
	user := writeConfig(t, `{"mcpServers": {"web": {"type": "http", "url": "http://user/mcp"}, "git": {"command": "git-mcp"}}}`)
	project := writeConfig(t, `{"mcpServers": {"web": {"type": "sse", "url": "http://project/sse"}}}`)

	cfg, loaded, err := LoadConfigFiles([]string{user, "/nonexistent/mcp.json", project})
	require.NoError(t, err)
	assert.Equal(t, []string{user, project}, loaded)
	assert.Equal(t, "sse", cfg.Servers["web"].Type, "later file wins")
	assert.Equal(t, "git-mcp", cfg.Servers["git"].Command)

	bad := writeConfig(t, `{"mcpServers": {"a": {}}}`)
	_, _, err = LoadConfigFiles([]string{user, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
}

func TestManagerStartAndInvoke(t *testing.T) {
	fs := &fakeSession{
		tools: []*mcpsdk.Tool{
			{Name: "read_file", InputSchema: map[string]any{"type": "object", "properties": map[string]any{"path": map[string]any{"type": "string"}}}},
			{Name: "dir", Description: "list a directory"},
		},
		pages:  1,
		result: &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: `[{"name":"a.txt"}]`}}},
	}
	m := newTestManager(t, map[string]*fakeSession{"filesystem": fs})

	err := m.StartAll(context.Background())
	require.Error(t, err, "web cannot connect")
	assert.Contains(t, err.Error(), "web")

	assert.Equal(t, StateRunning, m.GetServerStatus("filesystem").State)
	assert.Equal(t, 2, m.GetServerStatus("filesystem").ToolCount)
	assert.Equal(t, StateError, m.GetServerStatus("web").State)
	assert.Equal(t, StateStopped, m.GetServerStatus("off").State)
	assert.Len(t, m.GetAllStatuses(), 3)

	tools, err := m.ServerTools(context.Background(), "filesystem")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "string", tools[0].InputSchema["properties"].(map[string]any)["path"].(map[string]any)["type"])
	assert.Len(t, m.ListTools(), 2)

	_, err = m.ServerTools(context.Background(), "web")
	assert.ErrorContains(t, err, "error")

	out, err := m.Invoke(context.Background(), "filesystem", "dir", map[string]any{"path": "/"})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "a.txt"}}, out)
	require.Len(t, fs.calls, 1)
	assert.Equal(t, "dir", fs.calls[0].Name)

	assert.ErrorContains(t, m.StartServer(context.Background(), "filesystem"), "already running")

	require.NoError(t, m.StopAll())
	assert.True(t, fs.closed)
	assert.Equal(t, StateStopped, m.GetServerStatus("filesystem").State)
	_, err = m.Invoke(context.Background(), "filesystem", "dir", nil)
	assert.Error(t, err)
}

func TestManagerInvokeErrors(t *testing.T) {
	fs := &fakeSession{result: &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "permission denied"}},
	}}
	m := newTestManager(t, map[string]*fakeSession{"filesystem": fs})
	require.NoError(t, m.StartServer(context.Background(), "filesystem"))

	_, err := m.Invoke(context.Background(), "filesystem", "read_file", nil)
	assert.ErrorContains(t, err, "permission denied")
	assert.Equal(t, map[string]any{}, fs.calls[0].Arguments)

	fs.result, fs.err = nil, errors.New("broken pipe")
	_, err = m.Invoke(context.Background(), "filesystem", "read_file", nil)
	assert.ErrorContains(t, err, "broken pipe")

	fs.result, fs.err = &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "plain text"}}}, nil
	out, err := m.Invoke(context.Background(), "filesystem", "read_file", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestManagerStartNonExistentServer(t *testing.T) {
	m := NewManager(log.New(io.Discard))
	err := m.StartServer(context.Background(), "nonexistent")
	assert.ErrorContains(t, err, "no configuration loaded")

	m = newTestManager(t, nil)
	err = m.StartServer(context.Background(), "nonexistent")
	assert.ErrorContains(t, err, "server nonexistent not found")
	assert.Error(t, m.StopServer("nonexistent"))
}

func TestManagerServerDirectory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, map[string]*fakeSession{"web": {}})
	require.NoError(t, m.StartServer(ctx, "web"))

	configured, err := m.ConfiguredServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"filesystem", "off", "web"}, configured)

	connected, err := m.ConnectedServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, connected)

	m.SetConversationServers("c1", []string{"filesystem"})
	conv, _ := m.ConversationServers(ctx, "c1")
	assert.Equal(t, []string{"filesystem"}, conv)
	m.SetConversationServers("c1", nil)
	conv, _ = m.ConversationServers(ctx, "c1")
	assert.Empty(t, conv)

	m.SetGlobalServers([]string{"web"})
	global, _ := m.GlobalServers(ctx)
	assert.Equal(t, []string{"web"}, global)

	_, err = NewManager(log.New(io.Discard)).ConfiguredServers(ctx)
	assert.Error(t, err)
}

func TestManagerWithInMemoryServer(t *testing.T) {
	ctx := context.Background()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "echo-server", Version: "v0.0.1"}, nil)
	server.AddTool(&mcpsdk.Tool{
		Name:        "echo",
		Description: "echo text back",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		},
	}, func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo: " + args.Text}}}, nil
	})

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: ClientName, Version: ClientVersion}, nil)
	m := NewManager(log.New(io.Discard), withConnector(func(ctx context.Context, _ string, _ ServerConfig) (session, error) {
		return client.Connect(ctx, clientTransport, nil)
	}))
	m.SetConfig(&Config{Servers: map[string]ServerConfig{"echo": {Type: "stdio", Command: "unused"}}})

	require.NoError(t, m.StartServer(ctx, "echo"))
	defer m.StopAll()

	tools, err := m.ServerTools(ctx, "echo")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Contains(t, tools[0].InputSchema, "properties")

	out, err := m.Invoke(ctx, "echo", "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestNewTransport(t *testing.T) {
	_, err := newTransport(ServerConfig{Type: "stdio"})
	assert.Error(t, err)

	tr, err := newTransport(ServerConfig{Type: "stdio", Command: "echo", Env: map[string]string{"A": "1"}})
	require.NoError(t, err)
	cmd := tr.(*mcpsdk.CommandTransport).Command
	assert.Contains(t, cmd.Env, "A=1")

	tr, err = newTransport(ServerConfig{Type: "http", URL: "http://x", Headers: map[string]string{"Authorization": "Bearer t"}})
	require.NoError(t, err)
	assert.NotNil(t, tr.(*mcpsdk.StreamableClientTransport).HTTPClient)

	tr, err = newTransport(ServerConfig{Type: "sse", URL: "http://x"})
	require.NoError(t, err)
	assert.Nil(t, tr.(*mcpsdk.SSEClientTransport).HTTPClient)

	_, err = newTransport(ServerConfig{Type: "ws"})
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}
