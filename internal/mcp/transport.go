package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// session is the part of *mcpsdk.ClientSession the manager uses.
type session interface {
	ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Close() error
}

// connector opens a session to a configured server.
type connector func(ctx context.Context, name string, cfg ServerConfig) (session, error)

// TransportError represents transport-specific errors
type TransportError struct {
	Message   string
	Transport string
	Cause     error
}

// NewTransportError creates a new TransportError
func NewTransportError(message, transport string, cause error) *TransportError {
	return &TransportError{
		Message:   message,
		Transport: transport,
		Cause:     cause,
	}
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return e.Message + " (" + e.Transport + "): " + e.Cause.Error()
	}
	return e.Message + " (" + e.Transport + ")"
}

// Unwrap returns the underlying cause error
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// sdkConnector returns a connector backed by client.
func sdkConnector(client *mcpsdk.Client) connector {
	return func(ctx context.Context, name string, cfg ServerConfig) (session, error) {
		transport, err := newTransport(cfg)
		if err != nil {
			return nil, err
		}
		s, err := client.Connect(ctx, transport, nil)
		if err != nil {
			return nil, NewTransportError("failed to connect to MCP server "+name, cfg.Type, err)
		}
		return s, nil
	}
}

// newTransport creates the SDK transport for cfg.
func newTransport(cfg ServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Type {
	case "", "stdio":
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, NewTransportError("command is required for stdio transport", "stdio", nil)
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for key, value := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", key, value))
			}
			cmd.Env = env
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case "http":
		if cfg.URL == "" {
			return nil, NewTransportError("URL is required", "http", nil)
		}
		return &mcpsdk.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClientWithHeaders(cfg.Headers),
		}, nil
	case "sse":
		if cfg.URL == "" {
			return nil, NewTransportError("URL is required", "sse", nil)
		}
		return &mcpsdk.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClientWithHeaders(cfg.Headers),
		}, nil
	default:
		return nil, NewTransportError("unsupported transport type", cfg.Type, nil)
	}
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		if strings.TrimSpace(k) == "" {
			continue
		}
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return h.base.RoundTrip(req)
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return nil
	}
	return &http.Client{
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: headers,
		},
	}
}
