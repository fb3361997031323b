package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

// StreamPrinter writes a message to a terminal while it streams. Text is
// written as it grows, minus tool-call directives; thinking spans and tool
// cards are written once they close.
type StreamPrinter struct {
	mu       sync.Mutex
	w        io.Writer
	renderer *Renderer

	// segments before done are fully written
	done     int
	printed  string
	announce bool
}

// NewStreamPrinter creates a printer writing to w.
func NewStreamPrinter(w io.Writer, r *Renderer) *StreamPrinter {
	return &StreamPrinter{w: w, renderer: r}
}

// Update writes whatever segs adds to the previous snapshot.
func (p *StreamPrinter) Update(segs []segment.Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.done < len(segs) {
		last := p.done == len(segs)-1
		switch s := segs[p.done].(type) {
		case segment.TextSegment:
			p.writeText(visibleText(s.Text, last))
			if last {
				return
			}
			if p.printed != "" {
				fmt.Fprintln(p.w)
			}
		case segment.ThinkSegment:
			if s.Open() {
				p.announceOnce(s)
				return
			}
			fmt.Fprintln(p.w, p.renderer.RenderSegment(s))
		case segment.ToolCardSegment:
			if s.Status == segment.StatusRunning {
				p.announceOnce(s)
				return
			}
			fmt.Fprintln(p.w, p.renderer.RenderSegment(s))
		}
		p.next()
	}
}

// Finish writes the remaining segments and ends the line.
func (p *StreamPrinter) Finish(segs []segment.Segment) {
	p.Update(segs)

	p.mu.Lock()
	defer p.mu.Unlock()
	for ; p.done < len(segs); p.next() {
		if s, ok := segs[p.done].(segment.TextSegment); ok {
			p.writeText(visibleText(s.Text, false))
			if p.printed != "" {
				fmt.Fprintln(p.w)
			}
			continue
		}
		fmt.Fprintln(p.w, p.renderer.RenderSegment(segs[p.done]))
	}
}

func (p *StreamPrinter) announceOnce(s segment.Segment) {
	if p.announce {
		return
	}
	p.announce = true
	fmt.Fprintln(p.w, p.renderer.RenderSegment(s))
}

// writeText prints what text adds to the printed prefix. Text that no longer
// extends it was rewritten by a directive cut and is left as printed.
func (p *StreamPrinter) writeText(text string) {
	if len(text) > len(p.printed) && strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.w, text[len(p.printed):])
		p.printed = text
	}
}

func (p *StreamPrinter) next() {
	p.done++
	p.printed = ""
	p.announce = false
}

var directiveTags = []string{"<tool_call>", "<use_mcp_tool>"}

// visibleText strips directives from text. While the segment is still growing
// a trailing prefix of a directive tag is held back too.
func visibleText(text string, growing bool) string {
	text = toolcall.StripDirectives(text)
	if !growing {
		return text
	}
	i := strings.LastIndexByte(text, '<')
	if i < 0 {
		return text
	}
	tail := strings.ToLower(text[i:])
	for _, tag := range directiveTags {
		if strings.HasPrefix(tag, tail) {
			return text[:i]
		}
	}
	return text
}
