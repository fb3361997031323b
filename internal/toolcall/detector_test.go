package toolcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushAll(d *Detector, chunks ...string) []*Hit {
	var hits []*Hit
	for _, c := range chunks {
		if h := d.Push(c); h != nil {
			hits = append(hits, h)
		}
	}
	return hits
}

func TestDetector_XMLOnceRegardlessOfSplit(t *testing.T) {
	directive := `<tool_call>{"server":"fs","tool":"list","args":{}}</tool_call>`

	splits := [][]string{{directive}}
	for i := 1; i < len(directive); i++ {
		splits = append(splits, []string{directive[:i], directive[i:]})
	}

	for _, chunks := range splits {
		hits := pushAll(NewDetector(), chunks...)
		require.Len(t, hits, 1, "chunks=%q", chunks)
		assert.Equal(t, "fs", hits[0].Server)
		assert.Equal(t, "list", hits[0].Tool)
		assert.Equal(t, map[string]any{}, hits[0].Args)
	}
}

func TestDetector_Encodings(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		server   string
		tool     string
		args     map[string]any
		encoding Encoding
	}{
		{
			name:     "xml wrapper case insensitive",
			chunks:   []string{"Sure. <TOOL_CALL> {\"mcp\":\"web\",\"tool_name\":\"search\",\"parameters\":{\"q\":\"go\"}} </Tool_Call>"},
			server:   "web",
			tool:     "search",
			args:     map[string]any{"q": "go"},
			encoding: EncodingXML,
		},
		{
			name: "use_mcp_tool directive",
			chunks: []string{
				"<use_mcp_tool>\n<server_name>filesystem</server_name>\n",
				"<tool_name>read</tool_name>\n<arguments>{\"path\":\"a.txt\"}</arguments>\n</use_mcp_tool>",
			},
			server:   "filesystem",
			tool:     "read",
			args:     map[string]any{"path": "a.txt"},
			encoding: EncodingUseMCPTool,
		},
		{
			name: "fenced json with type marker",
			chunks: []string{
				"Calling now:\n```json\n{\n  \"type\": \"tool_call\",\n",
				"  \"provider\": \"calc\",\n  \"name\": \"add\",\n  \"params\": {\"a\": 1, \"b\": 2}\n}\n",
				"```",
			},
			server:   "calc",
			tool:     "add",
			args:     map[string]any{"a": float64(1), "b": float64(2)},
			encoding: EncodingFenced,
		},
		{
			name:     "bare json with tool field",
			chunks:   []string{`text {"server":"db","tool":"query","args":{"sql":"select 1"}} more`},
			server:   "db",
			tool:     "query",
			args:     map[string]any{"sql": "select 1"},
			encoding: EncodingBareJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := pushAll(NewDetector(), tt.chunks...)
			require.Len(t, hits, 1)
			assert.Equal(t, tt.server, hits[0].Server)
			assert.Equal(t, tt.tool, hits[0].Tool)
			assert.Equal(t, tt.args, hits[0].Args)
			assert.Equal(t, tt.encoding, hits[0].Encoding)
		})
	}
}

func TestDetector_RejectsIncompleteCandidates(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
	}{
		{"missing server", []string{`<tool_call>{"tool":"list"}</tool_call>`}},
		{"missing tool", []string{`{"type":"tool_call","server":"fs"}`}},
		{"malformed json in wrapper", []string{`<tool_call>{"server":"fs",</tool_call>`}},
		{"plain object is not a directive", []string{`config: {"server":"fs","mode":"fast"}`}},
		{"unbalanced object", []string{`{"server":"fs","tool":"list","args":{"a":1}`}},
		{"empty chunk", []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, pushAll(NewDetector(), tt.chunks...))
		})
	}
}

func TestDetector_SequentialDirectives(t *testing.T) {
	d := NewDetector()
	hits := pushAll(d,
		`first <tool_call>{"server":"a","tool":"one"}</tool_call>`,
		` then {"note":"ignored"} and `,
		`<tool_call>{"server":"b","tool":"two"}</tool_call>`,
		` trailing text`,
	)

	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Server)
	assert.Equal(t, "b", hits[1].Server)
}

func TestDetector_BraceInsideString(t *testing.T) {
	hits := pushAll(NewDetector(), `{"server":"fs","tool":"write","args":{"text":"a } b { c"}}`)

	require.Len(t, hits, 1)
	assert.Equal(t, "a } b { c", hits[0].Args["text"])
}

func TestDetector_SkipsRejectedObjectsAndFindsLaterOne(t *testing.T) {
	d := NewDetector()
	assert.Nil(t, d.Push(`{"just":"data"} `))
	hit := d.Push(`{"server":"x","tool":"y"}`)

	require.NotNil(t, hit)
	assert.Equal(t, "y", hit.Tool)
}

func TestDetector_Disable(t *testing.T) {
	d := NewDetector()
	d.Disable()
	assert.Nil(t, d.Push(`<tool_call>{"server":"fs","tool":"list"}</tool_call>`))
	assert.Empty(t, d.Pending())
}

func TestDetector_CompactsLongProse(t *testing.T) {
	d := NewDetector(WithTailWindow(64))
	prose := strings.Repeat("lorem ipsum ", 200)
	assert.Nil(t, d.Push(prose))
	assert.Less(t, len(d.Pending()), len(prose))

	hit := d.Push(`<tool_call>{"server":"fs","tool":"list"}</tool_call>`)
	require.NotNil(t, hit)
	assert.Equal(t, "fs", hit.Server)
}

func TestDetector_CompactionKeepsOpenWrapper(t *testing.T) {
	d := NewDetector(WithTailWindow(16))
	assert.Nil(t, d.Push(`<use_mcp_tool><server_name>fs</server_name>`))
	assert.Nil(t, d.Push(strings.Repeat("x", 200)))

	hit := d.Push(`<tool_name>list</tool_name></use_mcp_tool>`)
	require.NotNil(t, hit)
	assert.Equal(t, "list", hit.Tool)
}

func TestExtractBalancedJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"simple", `x {"a":1} y`, `{"a":1}`, true},
		{"nested", `{"a":{"b":1}}`, `{"a":{"b":1}}`, true},
		{"unbalanced never extracts", `{"a":{"b":1}`, "", false},
		{"unbalanced with prose", `prefix {"a":{"b":1} suffix`, "", false},
		{"brace in string", `{"a":"}"}`, `{"a":"}"}`, true},
		{"escaped quote in string", `{"a":"\"}"}`, `{"a":"\"}"}`, true},
		{"no braces", `nothing here`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractBalancedJSON(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetector_RawSpan(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		raw    string
	}{
		{
			name:   "xml",
			chunks: []string{"Let me check. <tool_call>{\"server\":\"web\",", "\"tool\":\"lookup\"}</tool_call> ok"},
			raw:    `<tool_call>{"server":"web","tool":"lookup"}</tool_call>`,
		},
		{
			name:   "use_mcp_tool",
			chunks: []string{"<use_mcp_tool><server_name>fs</server_name><tool_name>dir</tool_name></use_mcp_tool>"},
			raw:    "<use_mcp_tool><server_name>fs</server_name><tool_name>dir</tool_name></use_mcp_tool>",
		},
		{
			name:   "bare json",
			chunks: []string{`see {"server":"db","tool":"query"} after`},
			raw:    `{"server":"db","tool":"query"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := pushAll(NewDetector(), tt.chunks...)
			require.Len(t, hits, 1)
			assert.Equal(t, tt.raw, hits[0].Raw)
			assert.Contains(t, strings.Join(tt.chunks, ""), hits[0].Raw)
		})
	}
}

func TestDetector_BareTypeIgnoresCase(t *testing.T) {
	hits := pushAll(NewDetector(), `{"type":"Tool_Call","server":"db","name":"query"}`)
	require.Len(t, hits, 1)
	assert.Equal(t, "db", hits[0].Server)
	assert.Equal(t, "query", hits[0].Tool)
	assert.Equal(t, EncodingBareJSON, hits[0].Encoding)
}
