package toolcall

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/common-creation/chatpipe/internal/ai"
)

// MaxResultRunes bounds the tool output carried into a follow-up prompt.
const MaxResultRunes = 12000

// DirectiveFormat is the tool-call syntax models are told to use. The detector
// recognizes it.
const DirectiveFormat = `<use_mcp_tool><server_name>...</server_name><tool_name>...</tool_name><arguments>{...}</arguments></use_mcp_tool>`

// ToolResultToNextMessage turns a tool result into the user turn that continues
// the conversation. The original question is repeated so the model stays
// grounded. The wording is currently the same for every provider.
func ToolResultToNextMessage(_, server, tool string, result any, originalUserContent string) ai.Message {
	var formatted string
	if server == "web_search" && tool == "search" {
		formatted = formatWebSearchResult(result)
	} else {
		formatted = stringify(result)
	}
	text := TruncateRunes(formatted, MaxResultRunes)

	var sb strings.Builder
	if originalUserContent != "" {
		fmt.Fprintf(&sb, "Original question: %s\n\n", originalUserContent)
	}
	fmt.Fprintf(&sb, "Result of %s.%s (may be truncated):\n%s\n\n", server, tool, text)
	sb.WriteString("Read the result carefully and continue:\n")
	sb.WriteString("1. If the result answers the question, reply with a complete, direct answer.\n")
	sb.WriteString("2. If the result looks wrong (an error, empty, or malformed), retry the tool or try a different one.\n")
	sb.WriteString("3. If more information is needed to answer fully, call further tools.\n")
	fmt.Fprintf(&sb, "4. To call a tool, emit %s.\n", DirectiveFormat)
	sb.WriteString("\nFinish with an answer rather than a plan.")

	return ai.Message{Role: ai.RoleUser, Content: sb.String()}
}

// FollowUpSystemPrompt is the system prompt for a turn that follows a tool call.
func FollowUpSystemPrompt(originalUserContent string) string {
	return fmt.Sprintf(`You are an assistant answering a question using tool results.

Guidelines:
- Read the tool results carefully before answering.
- Answer the user's original question directly and stay on topic.
- If a result is an error, empty, or malformed, try another tool or call the same tool again.
- If results are insufficient, call further tools.
- To call a tool, use %s.
- If the results are sufficient, give the complete answer.

User question: %s`, DirectiveFormat, originalUserContent)
}

// BuildFollowUpHistory assembles the messages for a follow-up provider call. The
// original user turn is dropped from history because next restates it.
func BuildFollowUpHistory(history []ai.Message, originalUserContent string, next ai.Message) []ai.Message {
	out := make([]ai.Message, 0, len(history)+2)
	out = append(out, ai.Message{Role: ai.RoleSystem, Content: FollowUpSystemPrompt(originalUserContent)})
	for _, m := range history {
		if m.Role == ai.RoleUser && m.Content == originalUserContent {
			continue
		}
		out = append(out, m)
	}
	return append(out, next)
}

// TruncateRunes cuts s to at most n runes without splitting a UTF-8 sequence.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

var (
	mdImageRe  = regexp.MustCompile(`!\[\]\([^)]+\)`)
	mdLinkRe   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	manySpaces = regexp.MustCompile(`\s{3,}`)
)

// formatWebSearchResult condenses a search result list to its first three hits.
func formatWebSearchResult(result any) string {
	items, ok := result.([]any)
	if !ok || len(items) == 0 {
		return stringify(result)
	}
	top := items
	if len(top) > 3 {
		top = top[:3]
	}

	parts := make([]string, 0, len(top))
	for i, raw := range top {
		item, _ := raw.(map[string]any)
		title := firstString(item, "source_title", "title")
		if title == "" {
			title = "Untitled"
		}
		url := firstString(item, "url")
		snippet, _ := item["snippet"].(string)
		snippet = mdImageRe.ReplaceAllString(snippet, "")
		snippet = mdLinkRe.ReplaceAllString(snippet, "$1")
		snippet = manySpaces.ReplaceAllString(snippet, " ")
		snippet = TruncateRunes(snippet, 500)

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
		if url != "" {
			fmt.Fprintf(&sb, "Link: %s\n", url)
		}
		fmt.Fprintf(&sb, "Summary: %s\n", snippet)
		parts = append(parts, sb.String())
	}
	return fmt.Sprintf("Search returned %d results, showing the first %d:\n\n%s",
		len(items), len(top), strings.Join(parts, "\n---\n\n"))
}
