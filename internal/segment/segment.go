// Package segment models a message as an ordered list of renderable segments and
// the state machine that builds it.
//
// All functions are pure: they return a new slice and leave their input intact.
package segment

import (
	"math"
	"strings"
	"time"
)

// Kind identifies a segment variant.
type Kind string

const (
	KindText     Kind = "text"
	KindThink    Kind = "think"
	KindToolCard Kind = "toolCard"
)

// CardStatus is the lifecycle position of a tool card.
type CardStatus string

const (
	StatusRunning CardStatus = "running"
	StatusSuccess CardStatus = "success"
	StatusError   CardStatus = "error"
)

// Segment is one renderable unit of a message. The set of implementations is
// closed: TextSegment, ThinkSegment and ToolCardSegment.
type Segment interface {
	Kind() Kind
	isSegment()
}

// TextSegment is plain streamed text.
type TextSegment struct {
	Text string
}

// ThinkSegment is model reasoning shown apart from the answer.
type ThinkSegment struct {
	Text      string
	StartedAt time.Time
	// Duration is zero while the span is open.
	Duration time.Duration
}

// ToolCardSegment records one tool invocation.
type ToolCardSegment struct {
	ID            string
	Server        string
	Tool          string
	Status        CardStatus
	Args          map[string]any
	ResultPreview string
	ErrorMessage  string
	SchemaHint    string
	MessageID     string
}

func (TextSegment) Kind() Kind     { return KindText }
func (ThinkSegment) Kind() Kind    { return KindThink }
func (ToolCardSegment) Kind() Kind { return KindToolCard }

func (TextSegment) isSegment()     {}
func (ThinkSegment) isSegment()    {}
func (ToolCardSegment) isSegment() {}

// Open reports whether the thinking span has not been closed.
func (s ThinkSegment) Open() bool {
	return s.Duration == 0
}

// Seconds returns the duration in seconds rounded to one decimal.
func (s ThinkSegment) Seconds() float64 {
	return math.Round(s.Duration.Seconds()*10) / 10
}

func clone(segs []Segment) []Segment {
	out := make([]Segment, len(segs), len(segs)+1)
	copy(out, segs)
	return out
}

// EnsureTextTail guarantees the list ends in a text segment, appending one
// holding seed if it does not.
func EnsureTextTail(segs []Segment, seed string) []Segment {
	out := clone(segs)
	if n := len(out); n > 0 {
		if _, ok := out[n-1].(TextSegment); ok {
			return out
		}
	}
	return append(out, TextSegment{Text: seed})
}

// AppendText adds chunk to the trailing text segment, creating one when the tail
// is another kind. An empty chunk leaves the list unchanged.
func AppendText(segs []Segment, chunk string) []Segment {
	if chunk == "" {
		return clone(segs)
	}
	out := clone(segs)
	if n := len(out); n > 0 {
		if tail, ok := out[n-1].(TextSegment); ok {
			tail.Text += chunk
			out[n-1] = tail
			return out
		}
	}
	return append(out, TextSegment{Text: chunk})
}

// CutText removes the last occurrence of span from the trailing text segment.
// Segments before the tail are never touched.
func CutText(segs []Segment, span string) []Segment {
	out := clone(segs)
	n := len(out)
	if span == "" || n == 0 {
		return out
	}
	tail, ok := out[n-1].(TextSegment)
	if !ok {
		return out
	}
	if i := strings.LastIndex(tail.Text, span); i >= 0 {
		tail.Text = tail.Text[:i] + tail.Text[i+len(span):]
		out[n-1] = tail
	}
	return out
}

// AppendThinkText adds chunk to the trailing open thinking segment, or starts a
// new one at at.
func AppendThinkText(segs []Segment, chunk string, at time.Time) []Segment {
	out := clone(segs)
	if n := len(out); n > 0 {
		if tail, ok := out[n-1].(ThinkSegment); ok && tail.Open() {
			tail.Text += chunk
			out[n-1] = tail
			return out
		}
	}
	return append(out, ThinkSegment{Text: chunk, StartedAt: at})
}

// FinishThink closes the trailing open thinking segment at at.
func FinishThink(segs []Segment, at time.Time) []Segment {
	out := clone(segs)
	for i := len(out) - 1; i >= 0; i-- {
		think, ok := out[i].(ThinkSegment)
		if !ok || !think.Open() {
			continue
		}
		d := at.Sub(think.StartedAt)
		if d <= 0 {
			d = time.Millisecond
		}
		think.Duration = d
		out[i] = think
		break
	}
	return out
}

// InsertRunningCard appends card with status running. It does not deduplicate;
// callers supply a fresh ID for every invocation.
func InsertRunningCard(segs []Segment, card ToolCardSegment) []Segment {
	card.Status = StatusRunning
	return append(clone(segs), card)
}

// CardMatch selects a running card by ID, or by server and tool when ID is empty.
type CardMatch struct {
	ID     string
	Server string
	Tool   string
}

func (m CardMatch) matches(card ToolCardSegment) bool {
	if card.Status != StatusRunning {
		return false
	}
	if m.ID != "" {
		return card.ID == m.ID
	}
	return card.Server == m.Server && card.Tool == m.Tool
}

// CardPatch holds the fields UpdateCardStatus writes. Empty strings leave the
// existing value alone.
type CardPatch struct {
	Status        CardStatus
	ResultPreview string
	ErrorMessage  string
	SchemaHint    string
}

// UpdateCardStatus patches the first running card selected by match. Resolved
// cards are never matched, so a repeated patch cannot overwrite an outcome.
func UpdateCardStatus(segs []Segment, match CardMatch, patch CardPatch) []Segment {
	out, _ := updateCard(segs, match, patch)
	return out
}

func updateCard(segs []Segment, match CardMatch, patch CardPatch) ([]Segment, bool) {
	out := clone(segs)
	for i, s := range out {
		card, ok := s.(ToolCardSegment)
		if !ok || !match.matches(card) {
			continue
		}
		if patch.Status != "" {
			card.Status = patch.Status
		}
		if patch.ResultPreview != "" {
			card.ResultPreview = patch.ResultPreview
		}
		if patch.ErrorMessage != "" {
			card.ErrorMessage = patch.ErrorMessage
		}
		if patch.SchemaHint != "" {
			card.SchemaHint = patch.SchemaHint
		}
		out[i] = card
		return out, true
	}
	return out, false
}

// PlainText joins the text segments, skipping thinking and tool cards.
func PlainText(segs []Segment) string {
	var n int
	for _, s := range segs {
		if t, ok := s.(TextSegment); ok {
			n += len(t.Text)
		}
	}
	buf := make([]byte, 0, n)
	for _, s := range segs {
		if t, ok := s.(TextSegment); ok {
			buf = append(buf, t.Text...)
		}
	}
	return string(buf)
}
