package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"text/template"

	"github.com/common-creation/chatpipe/internal/mcp"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

// DefaultSystemPrompt opens every conversation unless replaced.
const DefaultSystemPrompt = `You are a helpful assistant. Answer accurately and concisely.`

// NudgePrompt asks for an answer after a follow-up produced no text.
const NudgePrompt = `Based on all of the tool results above, answer the original question.
1. If the results are sufficient, give the complete answer now.
2. If they are wrong or incomplete, call another tool.
3. To call a tool, use ` + toolcall.DirectiveFormat + `.`

var toolPromptTemplate = template.Must(template.New("tools").Funcs(template.FuncMap{
	"schema": compactSchema,
}).Parse(`{{.Base}}
{{if .Servers}}
You can call tools on the following servers. To call one, reply with
{{.Directive}}
and then stop; the result is sent back to you.
{{range .Servers}}
Server: {{.Name}}
{{range .Tools}}- {{.Name}}{{if .Description}}: {{.Description}}{{end}}{{with schema .InputSchema}}
  arguments: {{.}}{{end}}
{{end}}{{end}}{{end}}`))

type promptServer struct {
	Name  string
	Tools []mcp.ToolInfo
}

// BuildSystemPrompt renders base followed by the tool catalogue of servers.
// Servers whose tools cannot be listed are left out.
func BuildSystemPrompt(ctx context.Context, base string, servers []string, tools ToolInvoker) (string, error) {
	data := struct {
		Base      string
		Directive string
		Servers   []promptServer
	}{Base: strings.TrimSpace(base), Directive: toolcall.DirectiveFormat}

	if tools != nil {
		for _, name := range servers {
			list, err := tools.ServerTools(ctx, name)
			if err != nil || len(list) == 0 {
				continue
			}
			sorted := append([]mcp.ToolInfo(nil), list...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
			data.Servers = append(data.Servers, promptServer{Name: name, Tools: sorted})
		}
	}

	var buf bytes.Buffer
	if err := toolPromptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func compactSchema(schema map[string]any) string {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return ""
	}
	data, err := json.Marshal(props)
	if err != nil {
		return ""
	}
	return string(data)
}
