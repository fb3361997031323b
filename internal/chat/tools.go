package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/common-creation/chatpipe/internal/mcp"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

// ToolInvoker lists and calls tools on the configured servers. *mcp.Manager
// implements it.
type ToolInvoker interface {
	ServerTools(ctx context.Context, server string) ([]mcp.ToolInfo, error)
	Invoke(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// Error codes carried in follow-up prompts when a call does not produce a result.
const (
	CodeToolNotFound        = "TOOL_NOT_FOUND"
	CodeCallFailed          = "CALL_TOOL_FAILED"
	CodeAuthorizationDenied = "AUTHORIZATION_DENIED"
)

// DefaultPreviewLimit is the number of runes of a result kept on its card.
const DefaultPreviewLimit = 2000

// ToolOutcome is what a single directive produced: the card fields and the
// value handed to the follow-up prompt.
type ToolOutcome struct {
	Server       string
	Tool         string
	Args         map[string]any
	OK           bool
	Preview      string
	ErrorMessage string
	SchemaHint   string
	Result       any
}

// ToolExecutor runs detected directives against a ToolInvoker.
type ToolExecutor struct {
	invoker      ToolInvoker
	normalizer   *toolcall.Normalizer
	previewLimit int
	logger       *log.Logger
}

// NewToolExecutor creates an executor. A nil normalizer uses the built-in
// argument rules and a non-positive limit uses DefaultPreviewLimit.
func NewToolExecutor(invoker ToolInvoker, normalizer *toolcall.Normalizer, previewLimit int, logger *log.Logger) *ToolExecutor {
	if normalizer == nil {
		normalizer = toolcall.NewNormalizer()
	}
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &ToolExecutor{
		invoker:      invoker,
		normalizer:   normalizer,
		previewLimit: previewLimit,
		logger:       logger,
	}
}

// EffectiveTool maps tool names models commonly get wrong onto the real ones.
func EffectiveTool(server, tool string) string {
	if server == "filesystem" && tool == "list" {
		return "dir"
	}
	return tool
}

// Execute resolves, validates and calls one tool. Failures are reported in the
// outcome, never as an error, so the conversation can continue from them.
func (e *ToolExecutor) Execute(ctx context.Context, server, tool string, args map[string]any) ToolOutcome {
	out := ToolOutcome{
		Server: server,
		Tool:   EffectiveTool(server, tool),
		Args:   e.normalizer.Normalize(server, args),
	}
	if e.invoker == nil {
		return failed(out, CodeCallFailed, "no tool servers are available", "")
	}

	var schema map[string]any
	available, err := e.invoker.ServerTools(ctx, server)
	if err != nil {
		// the call below reports the real failure
		e.logger.Debug("tool list unavailable", "server", server, "error", err)
	} else if info, ok := findTool(available, out.Tool); ok {
		out.Tool = info.Name
		schema = info.InputSchema
	} else {
		names := toolNames(available)
		nf := toolcall.NotFound(server, out.Tool, names)
		out.ErrorMessage = nf.Hint
		out.SchemaHint = nf.Hint
		out.Result = map[string]any{
			"error":          nf.Code,
			"message":        nf.Hint,
			"availableTools": names,
		}
		return out
	}

	e.logger.Debug("calling tool", "server", server, "tool", out.Tool)
	result, err := e.invoker.Invoke(ctx, server, out.Tool, out.Args)
	if err != nil {
		e.logger.Warn("tool call failed", "server", server, "tool", out.Tool, "error", err)
		return failed(out, CodeCallFailed, err.Error(), toolcall.SchemaHint(out.Tool, schema))
	}

	out.OK = true
	out.Preview = Preview(result, e.previewLimit)
	out.Result = result
	return out
}

// Rejected builds the outcome of a call that was not authorized.
func Rejected(server, tool string, args map[string]any, reason string) ToolOutcome {
	out := ToolOutcome{Server: server, Tool: EffectiveTool(server, tool), Args: args}
	return failed(out, CodeAuthorizationDenied, reason, "")
}

func failed(out ToolOutcome, code, message, hint string) ToolOutcome {
	out.OK = false
	out.ErrorMessage = message
	out.SchemaHint = hint
	result := map[string]any{"error": code, "message": message}
	if hint != "" {
		result["schemaHint"] = hint
	}
	out.Result = result
	return out
}

// Preview renders result for a tool card, cut to limit runes.
func Preview(result any, limit int) string {
	var text string
	switch v := result.(type) {
	case string:
		text = v
	case nil:
		text = ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprint(v)
		} else {
			text = string(data)
		}
	}
	return toolcall.TruncateRunes(text, limit)
}

func findTool(tools []mcp.ToolInfo, name string) (mcp.ToolInfo, bool) {
	for _, t := range tools {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return mcp.ToolInfo{}, false
}

func toolNames(tools []mcp.ToolInfo) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return names
}
