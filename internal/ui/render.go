// Package ui prints assistant messages to the terminal and asks the user to
// approve tool calls.
package ui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"

	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/styles"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

const (
	maxPreviewLines = 8
	maxArgsRunes    = 200
)

// Renderer turns segment lists into styled terminal text.
type Renderer struct {
	styles       styles.Styles
	spinner      spinner.Spinner
	frame        int
	showThinking bool
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithThinking prints the body of thinking spans, not only their header.
func WithThinking(show bool) RendererOption {
	return func(r *Renderer) {
		r.showThinking = show
	}
}

// WithSpinner replaces the animation shown next to running work.
func WithSpinner(s spinner.Spinner) RendererOption {
	return func(r *Renderer) {
		if len(s.Frames) > 0 {
			r.spinner = s
		}
	}
}

// NewRenderer creates a renderer using st.
func NewRenderer(st styles.Styles, opts ...RendererOption) *Renderer {
	r := &Renderer{styles: st, spinner: spinner.Dot}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Advance moves running indicators to their next frame.
func (r *Renderer) Advance() {
	r.frame = (r.frame + 1) % len(r.spinner.Frames)
}

// Render joins every segment of a message.
func (r *Renderer) Render(segs []segment.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		if out := r.RenderSegment(seg); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n")
}

// RenderSegment renders one segment. Empty text renders as nothing.
func (r *Renderer) RenderSegment(seg segment.Segment) string {
	switch s := seg.(type) {
	case segment.TextSegment:
		text := toolcall.StripDirectives(s.Text)
		if strings.TrimSpace(text) == "" {
			return ""
		}
		return r.styles.AIMessage.Render(strings.TrimRight(text, "\n"))
	case segment.ThinkSegment:
		return r.renderThink(s)
	case segment.ToolCardSegment:
		return r.renderCard(s)
	}
	return ""
}

func (r *Renderer) indicator() string {
	return r.spinner.Frames[r.frame%len(r.spinner.Frames)]
}

func (r *Renderer) renderThink(s segment.ThinkSegment) string {
	var header string
	if s.Open() {
		header = r.styles.ThinkHeader.Render(r.indicator() + " Thinking...")
	} else {
		header = r.styles.ThinkHeader.Render(fmt.Sprintf("Thought for %.1fs", s.Seconds()))
	}
	body := strings.TrimSpace(s.Text)
	if !r.showThinking || body == "" {
		return header
	}
	return header + "\n" + r.styles.ThinkBody.Render(body)
}

func (r *Renderer) renderCard(s segment.ToolCardSegment) string {
	var b strings.Builder

	b.WriteString(r.styles.CardTitle.Render(s.Server + "." + s.Tool))
	b.WriteString(" ")
	b.WriteString(r.status(s.Status))

	if args := formatArgs(s.Args); args != "" {
		b.WriteString("\n")
		b.WriteString(r.styles.Muted.Render("args: ") + r.styles.Code.Render(args))
	}

	switch s.Status {
	case segment.StatusSuccess:
		if preview := previewLines(s.ResultPreview); preview != "" {
			b.WriteString("\n")
			b.WriteString(preview)
		}
	case segment.StatusError:
		if s.ErrorMessage != "" {
			b.WriteString("\n")
			b.WriteString(r.styles.StatusError.Render(s.ErrorMessage))
		}
		if s.SchemaHint != "" && s.SchemaHint != s.ErrorMessage {
			b.WriteString("\n")
			b.WriteString(r.styles.Hint.Render(s.SchemaHint))
		}
	}

	return r.styles.Card.Render(b.String())
}

func (r *Renderer) status(status segment.CardStatus) string {
	switch status {
	case segment.StatusSuccess:
		return r.styles.StatusSuccess.Render("✓ done")
	case segment.StatusError:
		return r.styles.StatusError.Render("✗ failed")
	default:
		return r.styles.StatusRunning.Render(r.indicator() + " running")
	}
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return toolcall.TruncateRunes(string(data), maxArgsRunes)
}

func previewLines(preview string) string {
	preview = strings.TrimSpace(preview)
	if preview == "" {
		return ""
	}
	lines := strings.Split(preview, "\n")
	if len(lines) > maxPreviewLines {
		lines = append(lines[:maxPreviewLines], "...")
	}
	return strings.Join(lines, "\n")
}
