package stream

import (
	"strings"
	"sync"
	"time"
)

// ParserState is the MessageStreamParser position.
type ParserState int

const (
	StateRegular ParserState = iota
	StateThink
)

// StreamedMessage is a consolidated view of a message after the latest chunk.
type StreamedMessage struct {
	ThinkingContent string
	RegularContent  string
	IsThinking      bool
	ElapsedTime     time.Duration
	IsFinished      bool
}

// MessageStreamParser accumulates totals for callers that want a running snapshot
// rather than discrete tokenizer events. Snapshot may be called from any
// goroutine while another feeds chunks.
type MessageStreamParser struct {
	mu       sync.Mutex
	tok      *ThinkTokenizer
	timer    *ThinkingTimer
	thinking strings.Builder
	regular  strings.Builder
	finished bool
}

// NewMessageStreamParser creates a parser with its own thinking timer.
func NewMessageStreamParser() *MessageStreamParser {
	return NewMessageStreamParserWithTimer(NewThinkingTimer())
}

// NewMessageStreamParserWithTimer creates a parser that reports elapsed thinking
// time from timer.
func NewMessageStreamParserWithTimer(timer *ThinkingTimer) *MessageStreamParser {
	return &MessageStreamParser{
		tok:   NewThinkTokenizer(),
		timer: timer,
	}
}

// State returns the current parser state.
func (p *MessageStreamParser) State() ParserState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tok.InThink() {
		return StateThink
	}
	return StateRegular
}

// Process consumes a chunk and returns the updated snapshot. A nil chunk marks
// end of stream: held-back text joins the content of the current state and the
// timer is stopped. Chunks after the end are ignored.
func (p *MessageStreamParser) Process(chunk *string) StreamedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.finished:
	case chunk == nil:
		p.apply(p.tok.Flush())
		p.timer.Stop()
		p.finished = true
	default:
		p.apply(p.tok.Push(*chunk))
	}
	return p.snapshot()
}

// Finish is Process(nil).
func (p *MessageStreamParser) Finish() StreamedMessage {
	return p.Process(nil)
}

// ForceStop closes the thinking timer without ending the stream. Used on
// cancellation.
func (p *MessageStreamParser) ForceStop() {
	p.timer.Stop()
}

// Snapshot returns the current totals.
func (p *MessageStreamParser) Snapshot() StreamedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *MessageStreamParser) snapshot() StreamedMessage {
	return StreamedMessage{
		ThinkingContent: p.thinking.String(),
		RegularContent:  p.regular.String(),
		IsThinking:      p.tok.InThink() && !p.finished,
		ElapsedTime:     p.timer.Elapsed(),
		IsFinished:      p.finished,
	}
}

// Reset clears content and timer state for reuse.
func (p *MessageStreamParser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tok.Reset()
	p.timer.Reset()
	p.thinking.Reset()
	p.regular.Reset()
	p.finished = false
}

func (p *MessageStreamParser) apply(events []ThinkEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case EventText:
			p.regular.WriteString(ev.Chunk)
		case EventThinkChunk:
			p.thinking.WriteString(ev.Chunk)
		case EventThinkStart:
			p.timer.Start()
		case EventThinkEnd:
			p.timer.Stop()
		}
	}
}
