package ai

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrScriptExhausted is returned when a ScriptedClient has no turns left.
var ErrScriptExhausted = errors.New("scripted client: no turns left")

// ScriptedClient replays prerecorded streams. Each ChatCompletionStream call
// consumes the next turn. It records the requests it receives.
type ScriptedClient struct {
	mu       sync.Mutex
	turns    [][]StreamEvent
	next     int
	delay    time.Duration
	requests []ChatRequest
}

// NewScriptedClient creates a client that replays turns in order.
func NewScriptedClient(turns ...[]StreamEvent) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

// WithDelay spaces events of every replayed stream by d.
func (s *ScriptedClient) WithDelay(d time.Duration) *ScriptedClient {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
	return s
}

// Tokens builds a turn of visible tokens.
func Tokens(chunks ...string) []StreamEvent {
	events := make([]StreamEvent, 0, len(chunks))
	for _, c := range chunks {
		events = append(events, StreamEvent{Kind: EventToken, Text: c})
	}
	return events
}

// ChatCompletionStream implements Client.
func (s *ScriptedClient) ChatCompletionStream(ctx context.Context, req ChatRequest) (StreamReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.next >= len(s.turns) {
		return nil, ErrScriptExhausted
	}
	turn := s.turns[s.next]
	s.next++
	return &scriptedStreamReader{ctx: ctx, events: turn, delay: s.delay}, nil
}

// Ping implements Client.
func (s *ScriptedClient) Ping(ctx context.Context) error {
	return nil
}

// Requests returns the requests received so far.
func (s *ScriptedClient) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

type scriptedStreamReader struct {
	ctx    context.Context
	events []StreamEvent
	index  int
	delay  time.Duration
	done   bool
}

func (r *scriptedStreamReader) Recv() (StreamEvent, error) {
	if r.done {
		return StreamEvent{}, io.EOF
	}
	if r.delay > 0 {
		select {
		case <-r.ctx.Done():
			return StreamEvent{}, r.ctx.Err()
		case <-time.After(r.delay):
		}
	} else if err := r.ctx.Err(); err != nil {
		return StreamEvent{}, err
	}

	if r.index >= len(r.events) {
		r.done = true
		return StreamEvent{Kind: EventDone, FinishReason: "stop"}, nil
	}
	ev := r.events[r.index]
	r.index++
	if ev.Kind == EventDone {
		r.done = true
	}
	return ev, nil
}

func (r *scriptedStreamReader) Close() error {
	return nil
}
