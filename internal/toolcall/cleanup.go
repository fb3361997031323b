package toolcall

import (
	"regexp"
	"strings"
)

var (
	closedDirectiveRe = regexp.MustCompile(`(?is)<use_mcp_tool>.*?</use_mcp_tool>|<tool_call>.*?</tool_call>`)
	openDirectiveRe   = regexp.MustCompile(`(?is)<(?:use_mcp_tool|tool_call)>.*$`)
	emptyFenceRe      = regexp.MustCompile("```[A-Za-z]*\\s*```")
	blankRunRe        = regexp.MustCompile(`\n{3,}`)
)

// StripDirectives removes tool-call directives from model text: closed
// <tool_call> and <use_mcp_tool> blocks, JSON objects the detector would accept
// as bare directives, a trailing block that is still open, and code fences
// left empty by the removal. Runs of blank lines collapse to one.
func StripDirectives(text string) string {
	if text == "" {
		return ""
	}
	out := closedDirectiveRe.ReplaceAllString(text, "")
	out = stripBareDirectives(out)
	out = openDirectiveRe.ReplaceAllString(out, "")
	out = emptyFenceRe.ReplaceAllString(out, "")
	return blankRunRe.ReplaceAllString(out, "\n\n")
}

func stripBareDirectives(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	var b strings.Builder
	from := 0
	for {
		start, end, ok := scanObject(s, from)
		if !ok {
			break
		}
		if parseDirective(s[start:end], true) != nil {
			b.WriteString(s[from:start])
		} else {
			b.WriteString(s[from:end])
		}
		from = end
	}
	b.WriteString(s[from:])
	return b.String()
}
