// Package stream splits provider output into plain and thinking content.
package stream

import "strings"

// Inline markers delimiting a thinking span.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

// ThinkEventKind identifies a tokenizer event.
type ThinkEventKind int

const (
	EventText ThinkEventKind = iota
	EventThinkStart
	EventThinkChunk
	EventThinkEnd
)

// String returns the string representation of a ThinkEventKind
func (k ThinkEventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventThinkStart:
		return "think_start"
	case EventThinkChunk:
		return "think_chunk"
	case EventThinkEnd:
		return "think_end"
	default:
		return "unknown"
	}
}

// ThinkEvent is one unit of tokenizer output. Chunk is empty for start/end markers.
type ThinkEvent struct {
	Kind  ThinkEventKind
	Chunk string
}

// ThinkTokenizer incrementally separates <think>...</think> spans from plain text.
// It is not safe for concurrent use; each message owns its own tokenizer.
type ThinkTokenizer struct {
	buf     string
	inThink bool
}

// NewThinkTokenizer creates a tokenizer positioned outside a thinking span.
func NewThinkTokenizer() *ThinkTokenizer {
	return &ThinkTokenizer{}
}

// InThink reports whether the tokenizer is inside a thinking span.
func (t *ThinkTokenizer) InThink() bool {
	return t.inThink
}

// Push consumes a token and returns the events it completes. Everything except a
// possible partial marker at the tail is emitted before Push returns.
func (t *ThinkTokenizer) Push(token string) []ThinkEvent {
	if token == "" {
		return nil
	}
	t.buf += token

	var events []ThinkEvent
	for {
		marker := t.marker()
		idx := strings.Index(t.buf, marker)
		if idx < 0 {
			break
		}
		if idx > 0 {
			events = append(events, ThinkEvent{Kind: t.chunkKind(), Chunk: t.buf[:idx]})
		}
		if t.inThink {
			events = append(events, ThinkEvent{Kind: EventThinkEnd})
		} else {
			events = append(events, ThinkEvent{Kind: EventThinkStart})
		}
		t.inThink = !t.inThink
		t.buf = t.buf[idx+len(marker):]
	}

	keep := partialSuffix(t.buf, t.marker())
	if emit := t.buf[:len(t.buf)-keep]; emit != "" {
		events = append(events, ThinkEvent{Kind: t.chunkKind(), Chunk: emit})
	}
	t.buf = t.buf[len(t.buf)-keep:]
	return events
}

// Flush emits whatever partial marker text is still held back. Call it once the
// stream has ended.
func (t *ThinkTokenizer) Flush() []ThinkEvent {
	if t.buf == "" {
		return nil
	}
	ev := ThinkEvent{Kind: t.chunkKind(), Chunk: t.buf}
	t.buf = ""
	return []ThinkEvent{ev}
}

// Reset returns the tokenizer to its initial state.
func (t *ThinkTokenizer) Reset() {
	t.buf = ""
	t.inThink = false
}

func (t *ThinkTokenizer) marker() string {
	if t.inThink {
		return ThinkClose
	}
	return ThinkOpen
}

func (t *ThinkTokenizer) chunkKind() ThinkEventKind {
	if t.inThink {
		return EventThinkChunk
	}
	return EventText
}

// partialSuffix returns the length of the longest suffix of s that is a proper
// prefix of marker.
func partialSuffix(s, marker string) int {
	n := len(marker) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
