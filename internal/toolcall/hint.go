package toolcall

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrToolNotFound is returned when a directive names a tool the server does not
// expose.
var ErrToolNotFound = errors.New("tool not found")

// InvocationError describes a failed tool call along with guidance the model can
// use to correct it.
type InvocationError struct {
	Server string
	Tool   string
	Code   string
	Hint   string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s.%s: %s: %v", e.Server, e.Tool, e.Code, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// NotFound builds the TOOL_NOT_FOUND error listing the tools that do exist.
func NotFound(server, tool string, available []string) *InvocationError {
	names := append([]string(nil), available...)
	sort.Strings(names)
	hint := fmt.Sprintf("Server %q has no tool %q.", server, tool)
	if len(names) > 0 {
		hint += fmt.Sprintf(" Available tools: %s.", strings.Join(names, ", "))
	}
	return &InvocationError{Server: server, Tool: tool, Code: "TOOL_NOT_FOUND", Hint: hint, Err: ErrToolNotFound}
}

// SchemaHint summarizes a JSON input schema so the model can fix its arguments.
// It returns "" when the schema says nothing useful.
func SchemaHint(tool string, schema map[string]any) string {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return ""
	}
	required := map[string]bool{}
	if list, ok := schema["required"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				required[s] = true
			}
		}
	}
	if list, ok := schema["required"].([]string); ok {
		for _, s := range list {
			required[s] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Arguments for %s:", tool)
	for _, name := range names {
		typ := "any"
		if p, ok := props[name].(map[string]any); ok {
			if t, ok := p["type"].(string); ok {
				typ = t
			}
		}
		fmt.Fprintf(&sb, " %s (%s", name, typ)
		if required[name] {
			sb.WriteString(", required")
		}
		sb.WriteString(");")
	}
	return strings.TrimSuffix(sb.String(), ";")
}
