// Package toolcall detects model-emitted tool-call directives, normalizes their
// arguments and turns tool results into follow-up prompts.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// DefaultTailWindow bounds the fenced strategy when no code fence has been seen.
const DefaultTailWindow = 8000

// Encoding names the directive format a hit was recognized in.
type Encoding string

const (
	EncodingXML        Encoding = "xml"
	EncodingUseMCPTool Encoding = "use_mcp_tool"
	EncodingFenced     Encoding = "fenced"
	EncodingBareJSON   Encoding = "bare_json"
)

// Hit is a complete tool-call directive. Raw is the directive text exactly as
// it appeared in the stream.
type Hit struct {
	Server   string
	Tool     string
	Args     map[string]any
	Encoding Encoding
	Raw      string
}

var (
	xmlToolCallRe = regexp.MustCompile(`(?is)<tool_call>(.*?)</tool_call>`)
	useMCPToolRe  = regexp.MustCompile(`(?is)<use_mcp_tool>(.*?)</use_mcp_tool>`)
	serverNameRe  = regexp.MustCompile(`(?is)<server_name>(.*?)</server_name>`)
	toolNameRe    = regexp.MustCompile(`(?is)<tool_name>(.*?)</tool_name>`)
	argumentsRe   = regexp.MustCompile(`(?is)<arguments>(.*?)</arguments>`)
)

const codeFence = "```"

// Detector scans a growing stream for tool-call directives. Text before the last
// hit, or before a candidate that can never match, is dropped, so every push
// only looks at unconsumed input and a directive is reported once.
//
// Detector is not safe for concurrent use.
type Detector struct {
	buf        string
	lastFence  int // offset in buf of the last fence marker, -1 if none
	bareFrom   int // offset in buf where the bare JSON strategy resumes
	tailWindow int
	disabled   bool
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithTailWindow overrides DefaultTailWindow.
func WithTailWindow(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.tailWindow = n
		}
	}
}

// NewDetector creates an empty detector.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{lastFence: -1, tailWindow: DefaultTailWindow}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Disable stops all further detection. Used once a message is terminal.
func (d *Detector) Disable() {
	d.disabled = true
	d.buf = ""
}

// Push appends chunk and returns the first complete directive, or nil.
func (d *Detector) Push(chunk string) *Hit {
	if chunk == "" || d.disabled {
		return nil
	}
	prevLen := len(d.buf)
	d.buf += chunk

	// a fence marker may straddle the previous push
	scanFrom := prevLen - (len(codeFence) - 1)
	if scanFrom < 0 {
		scanFrom = 0
	}
	if i := strings.LastIndex(d.buf[scanFrom:], codeFence); i >= 0 {
		d.lastFence = scanFrom + i
	}

	if hit := d.detectXML(); hit != nil {
		return hit
	}
	if hit := d.detectUseMCPTool(); hit != nil {
		return hit
	}
	if hit := d.detectFenced(); hit != nil {
		return hit
	}
	if hit := d.detectBareJSON(); hit != nil {
		return hit
	}
	if len(d.buf) > 2*d.tailWindow {
		d.compact()
	}
	return nil
}

// compact drops the prefix no strategy can still match against: text before the
// bare-JSON resume point, before the fenced tail, and before any wrapper tag that
// is still open.
func (d *Detector) compact() {
	safe := d.bareFrom
	fence := d.lastFence
	if fence < 0 {
		fence = len(d.buf) - d.tailWindow
	}
	if fence < safe {
		safe = fence
	}
	lower := strings.ToLower(d.buf)
	for _, tag := range []string{"<tool_call", "<use_mcp_tool"} {
		if i := strings.LastIndex(lower, tag); i >= 0 && i < safe {
			safe = i
		}
	}
	if partial := len(d.buf) - len("<use_mcp_tool>"); partial < safe {
		safe = partial
	}
	if safe > 0 {
		d.consume(safe)
	}
}

// Pending returns the unconsumed buffer.
func (d *Detector) Pending() string {
	return d.buf
}

func (d *Detector) detectXML() *Hit {
	for {
		loc := xmlToolCallRe.FindStringSubmatchIndex(d.buf)
		if loc == nil {
			return nil
		}
		inner := d.buf[loc[2]:loc[3]]
		end := loc[1]
		if hit := parseDirective(strings.TrimSpace(inner), false); hit != nil {
			hit.Raw = d.buf[loc[0]:end]
			d.consume(end)
			hit.Encoding = EncodingXML
			return hit
		}
		// a closed wrapper with an unusable payload will never improve
		d.consume(end)
	}
}

func (d *Detector) detectUseMCPTool() *Hit {
	for {
		loc := useMCPToolRe.FindStringSubmatchIndex(d.buf)
		if loc == nil {
			return nil
		}
		inner := d.buf[loc[2]:loc[3]]
		end := loc[1]
		if hit := parseUseMCPTool(inner); hit != nil {
			hit.Raw = d.buf[loc[0]:end]
			d.consume(end)
			return hit
		}
		d.consume(end)
	}
}

func (d *Detector) detectFenced() *Hit {
	tailStart := d.lastFence
	if tailStart < 0 {
		tailStart = len(d.buf) - d.tailWindow
		if tailStart < 0 {
			tailStart = 0
		}
	}
	tail := d.buf[tailStart:]
	if !strings.Contains(tail, `"type"`) || !strings.Contains(strings.ToLower(stripSpace(tail)), `"tool_call"`) {
		return nil
	}
	start, end, ok := scanObject(d.buf, tailStart)
	if !ok {
		return nil
	}
	if hit := parseDirective(d.buf[start:end], false); hit != nil {
		hit.Raw = d.buf[start:end]
		d.consume(end)
		hit.Encoding = EncodingFenced
		return hit
	}
	return nil
}

func (d *Detector) detectBareJSON() *Hit {
	for {
		start, end, ok := scanObject(d.buf, d.bareFrom)
		if !ok {
			if start > d.bareFrom {
				// nothing before the open brace can start an object
				d.bareFrom = start
			} else if start < 0 {
				d.bareFrom = len(d.buf)
			}
			return nil
		}
		if hit := parseDirective(d.buf[start:end], true); hit != nil {
			hit.Raw = d.buf[start:end]
			d.consume(end)
			hit.Encoding = EncodingBareJSON
			return hit
		}
		d.bareFrom = end
	}
}

// consume drops buf[:n] and shifts the tracked offsets.
func (d *Detector) consume(n int) {
	d.buf = d.buf[n:]
	d.lastFence -= n
	if d.lastFence < 0 {
		d.lastFence = -1
	}
	d.bareFrom -= n
	if d.bareFrom < 0 {
		d.bareFrom = 0
	}
}

// parseDirective decodes a JSON tool-call payload. With bare set, the object must
// also look like a directive: type tool_call or an explicit tool field.
func parseDirective(raw string, bare bool) *Hit {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	if bare {
		typ, _ := obj["type"].(string)
		_, hasTool := obj["tool"]
		_, hasToolName := obj["tool_name"]
		if !strings.EqualFold(strings.TrimSpace(typ), "tool_call") && !hasTool && !hasToolName {
			return nil
		}
	}
	return pickFields(obj)
}

func parseUseMCPTool(inner string) *Hit {
	server := submatch(serverNameRe, inner)
	tool := submatch(toolNameRe, inner)
	if server == "" || tool == "" {
		return nil
	}
	hit := &Hit{Server: server, Tool: tool, Args: map[string]any{}, Encoding: EncodingUseMCPTool}
	if rawArgs := submatch(argumentsRe, inner); rawArgs != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil
		}
		hit.Args = args
	}
	return hit
}

func pickFields(obj map[string]any) *Hit {
	server := firstString(obj, "server", "mcp", "provider")
	tool := firstString(obj, "tool", "tool_name", "name")
	if server == "" || tool == "" {
		return nil
	}
	hit := &Hit{Server: server, Tool: tool}
	for _, key := range []string{"args", "parameters", "params"} {
		if args, ok := obj[key].(map[string]any); ok {
			hit.Args = args
			break
		}
	}
	if hit.Args == nil {
		hit.Args = map[string]any{}
	}
	return hit
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func submatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
