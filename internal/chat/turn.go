package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/common-creation/chatpipe/internal/ai"
	"github.com/common-creation/chatpipe/internal/auth"
	"github.com/common-creation/chatpipe/internal/persist"
	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/store"
	"github.com/common-creation/chatpipe/internal/stream"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

// ErrTurnStarted is returned when Run is called twice.
var ErrTurnStarted = errors.New("turn already started")

// Turn produces one assistant message. Tool directives found in the stream are
// executed after the stream that contains them ends, and each result starts a
// follow-up request whose output extends the same message.
type Turn struct {
	h              *Handler
	id             string
	conversationID string
	userContent    string
	request        ai.ChatRequest
	history        []ai.Message
	createdAt      time.Time
	logger         *log.Logger

	tools  *ToolExecutor
	saver  *persist.AutoSaver
	parser *stream.MessageStreamParser

	mu       sync.Mutex
	model    segment.Model
	detector *toolcall.Detector
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	err      error
	usage    ai.Usage
	rounds   int
}

// pendingCall is the first directive of a round.
type pendingCall struct {
	cardID string
	hit    toolcall.Hit
}

// round is the per-request streaming state.
type round struct {
	tok       *stream.ThinkTokenizer
	reasoning bool
	text      strings.Builder
	call      *pendingCall
}

func newTurn(h *Handler, conversationID, userContent string, request ai.ChatRequest, history []ai.Message) *Turn {
	id := uuid.NewString()
	t := &Turn{
		h:              h,
		id:             id,
		conversationID: conversationID,
		userContent:    userContent,
		request:        request,
		history:        history,
		createdAt:      h.now(),
		logger:         h.logger.With("message", id),
		tools:          NewToolExecutor(h.tools, h.normalizer, h.pipeline.ResultTruncate, h.logger),
		parser:         stream.NewMessageStreamParser(),
		model:          segment.NewModel(id),
	}
	t.saver = persist.NewAutoSaver(t.save,
		persist.WithInterval(h.pipeline.AutoSaveInterval),
		persist.WithLogger(t.logger),
	)
	if h.updates != nil && h.onProgress != nil {
		notify := func(content string) {
			segs, _, err := segment.Decode([]byte(content))
			if err != nil {
				t.logger.Debug("undecodable snapshot", "error", err)
				return
			}
			h.onProgress(id, segs)
		}
		h.updates.OnUpdate(id, notify)
		h.updates.OnSave(id, func(_ context.Context, content string) error {
			notify(content)
			return nil
		})
	}
	return t
}

// ID returns the assistant message id.
func (t *Turn) ID() string {
	return t.id
}

// ConversationID returns the conversation the turn belongs to.
func (t *Turn) ConversationID() string {
	return t.conversationID
}

// Model returns a copy of the current message model.
func (t *Turn) Model() segment.Model {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.model
	m.Segments = append([]segment.Segment(nil), m.Segments...)
	return m
}

// Progress returns the running thinking/answer totals.
func (t *Turn) Progress() stream.StreamedMessage {
	return t.parser.Snapshot()
}

// Usage returns the token usage summed over every request of the turn.
func (t *Turn) Usage() ai.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Rounds returns the number of provider requests made so far.
func (t *Turn) Rounds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rounds
}

// Run streams the answer until it completes, fails or is stopped, and returns
// the stored message. A stopped turn is not an error.
func (t *Turn) Run(ctx context.Context) (store.Message, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return store.Message{}, ErrTurnStarted
	}
	t.started = true
	t.cancel = cancel
	stopped := t.stopped
	t.mu.Unlock()
	defer t.h.resetDepth(t.conversationID)

	if stopped {
		return t.finish(ctx, nil)
	}

	messages := t.history
	nudged := false
	for {
		call, text, err := t.streamRound(ctx, messages)
		if err != nil {
			return t.finish(ctx, err)
		}
		if t.isStopped() {
			break
		}

		if call == nil {
			// a follow-up that produced nothing gets one nudge toward an answer
			if t.Rounds() > 1 && strings.TrimSpace(text) == "" && !nudged {
				nudged = true
				messages = appendMessages(messages, ai.Message{Role: ai.RoleUser, Content: NudgePrompt})
				continue
			}
			break
		}

		outcome := t.runTool(ctx, call)
		if t.isStopped() {
			break
		}
		t.reduce(segment.StreamResume{})

		limit := t.h.policy.MaxRecursionDepth(call.hit.Server, t.h.pipeline.MaxToolRecursionDepth)
		if !t.h.nextDepth(t.conversationID, limit) {
			t.logger.Warn("tool recursion limit reached", "conversation", t.conversationID, "limit", limit)
			break
		}
		next := toolcall.ToolResultToNextMessage(t.h.provider, outcome.Server, outcome.Tool, outcome.Result, t.userContent)
		messages = followUp(messages, text, t.userContent, next)
		nudged = false
	}
	return t.finish(ctx, nil)
}

// Stop cancels the turn: the thinking timer is closed, pending content is
// saved, and the message is aborted so no further events or directives are
// accepted. Run returns shortly after.
func (t *Turn) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	if t.detector != nil {
		t.detector.Disable()
	}
	cancel := t.cancel
	t.mu.Unlock()

	t.parser.ForceStop()
	t.saver.Flush(context.Background())
	t.reduce(segment.Abort{Reason: "stopped by user"})
	t.h.gate.RemoveForMessage(t.id)
	if cancel != nil {
		cancel()
	}
}

func (t *Turn) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// streamRound sends messages and feeds the response through the pipeline. It
// returns the first directive seen and the visible text of the round.
func (t *Turn) streamRound(ctx context.Context, messages []ai.Message) (*pendingCall, string, error) {
	req := t.request
	req.Messages = messages

	t.mu.Lock()
	t.rounds++
	t.detector = toolcall.NewDetector()
	if t.stopped {
		t.detector.Disable()
	}
	t.mu.Unlock()

	reader, err := t.h.client.ChatCompletionStream(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer reader.Close()

	r := &round{tok: stream.NewThinkTokenizer()}
	for {
		ev, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, r.text.String(), err
		}
		switch ev.Kind {
		case ai.EventToken:
			t.feed(r, ev.Text)
		case ai.EventThinkingToken:
			// out-of-band reasoning joins the stream as an inline span
			if !r.reasoning {
				r.reasoning = true
				t.feed(r, stream.ThinkOpen)
			}
			t.feed(r, ev.Text)
		case ai.EventThinkingEnd:
			if r.reasoning {
				r.reasoning = false
				t.feed(r, stream.ThinkClose)
			}
		case ai.EventDone:
			if ev.Usage != nil {
				t.addUsage(*ev.Usage)
			}
		}
	}
	if r.reasoning {
		t.feed(r, stream.ThinkClose)
	}
	t.apply(r, r.tok.Flush())
	return r.call, r.text.String(), nil
}

func (t *Turn) feed(r *round, chunk string) {
	t.parser.Process(&chunk)
	t.apply(r, r.tok.Push(chunk))
}

func (t *Turn) apply(r *round, events []stream.ThinkEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case stream.EventText:
			if ev.Chunk == "" {
				continue
			}
			t.reduce(segment.TokenAppend{Chunk: ev.Chunk})
			r.text.WriteString(ev.Chunk)
			if r.call == nil {
				r.call = t.detect(ev.Chunk)
			}
		case stream.EventThinkStart:
			t.reduce(segment.ThinkStart{At: t.h.now()})
		case stream.EventThinkChunk:
			t.reduce(segment.ThinkAppend{Chunk: ev.Chunk, At: t.h.now()})
		case stream.EventThinkEnd:
			t.reduce(segment.ThinkEnd{At: t.h.now()})
		}
	}
}

// detect pushes visible text to the detector and opens a running card for the
// first directive of the round.
func (t *Turn) detect(chunk string) *pendingCall {
	t.mu.Lock()
	hit := t.detector.Push(chunk)
	t.mu.Unlock()
	if hit == nil {
		return nil
	}
	call := &pendingCall{cardID: uuid.NewString(), hit: *hit}
	if !t.reduce(segment.ToolHit{CardID: call.cardID, Server: hit.Server, Tool: hit.Tool, Args: hit.Args, Raw: hit.Raw}) {
		return nil
	}
	t.logger.Info("tool directive detected", "server", hit.Server, "tool", hit.Tool, "encoding", hit.Encoding)
	return call
}

func (t *Turn) runTool(ctx context.Context, call *pendingCall) ToolOutcome {
	hit := call.hit
	var outcome ToolOutcome
	if approved, reason := t.authorize(ctx, call); approved {
		outcome = t.tools.Execute(ctx, hit.Server, hit.Tool, hit.Args)
	} else {
		outcome = Rejected(hit.Server, hit.Tool, hit.Args, reason)
	}
	t.reduce(segment.ToolResult{
		CardID:        call.cardID,
		Server:        hit.Server,
		Tool:          outcome.Tool,
		OK:            outcome.OK,
		ResultPreview: outcome.Preview,
		ErrorMessage:  outcome.ErrorMessage,
		SchemaHint:    outcome.SchemaHint,
	})
	return outcome
}

// authorize applies the policy and, when it requires a decision, waits on the
// gate. Every outcome is recorded.
func (t *Turn) authorize(ctx context.Context, call *pendingCall) (bool, string) {
	hit := call.hit
	policy := t.h.policy

	var decision auth.Decision
	var reason string
	switch {
	case policy.Denied():
		decision, reason = auth.Rejected, "tool calls are disabled"
	case policy.ShouldAutoAuthorize(hit.Server):
		decision, reason = auth.Approved, "auto-authorized"
	default:
		d, err := t.h.gate.Await(ctx, auth.PendingAuthorization{
			ID:        call.cardID,
			MessageID: t.id,
			Server:    hit.Server,
			Tool:      hit.Tool,
			Args:      hit.Args,
			CreatedAt: t.h.now(),
		})
		decision = d
		switch {
		case err != nil:
			reason = fmt.Sprintf("authorization cancelled: %v", err)
		case d == auth.Approved:
			reason = "approved by user"
		default:
			reason = "rejected by user"
		}
	}

	policy.Record(auth.ApprovalRecord{
		Timestamp: t.h.now(),
		Server:    hit.Server,
		Tool:      hit.Tool,
		Args:      hit.Args,
		Approved:  decision == auth.Approved,
		Reason:    reason,
	})
	t.logger.Debug("authorization decided", "server", hit.Server, "tool", hit.Tool, "decision", decision, "reason", reason)
	return decision == auth.Approved, reason
}

// reduce applies ev and mirrors the accepted model into the savers.
func (t *Turn) reduce(ev segment.Event) bool {
	t.mu.Lock()
	next, ok := segment.Reduce(t.model, ev)
	if !ok {
		state := t.model.State
		t.mu.Unlock()
		t.logger.Debug("event rejected", "event", fmt.Sprintf("%T", ev), "state", state)
		return false
	}
	t.model = next
	if next.State.Terminal() && t.detector != nil {
		t.detector.Disable()
	}
	t.mu.Unlock()

	t.publish(next.Segments)
	if t.h.onEvent != nil {
		t.h.onEvent(t.id, ev, next)
	}
	return true
}

func (t *Turn) publish(segs []segment.Segment) {
	data, err := segment.Encode(segs)
	if err != nil {
		t.logger.Error("failed to encode segments", "error", err)
		return
	}
	content := string(data)
	t.saver.Update(content)
	if t.h.updates != nil {
		t.h.updates.Update(t.id, content)
	}
}

// finish completes the model, writes the final message and releases the
// schedulers.
func (t *Turn) finish(ctx context.Context, runErr error) (store.Message, error) {
	t.parser.Finish()
	if t.isStopped() {
		runErr = nil
	}

	if runErr != nil {
		t.mu.Lock()
		t.err = runErr
		t.mu.Unlock()
		t.logger.Error("turn failed", "error", runErr)
		t.reduce(segment.Abort{Reason: runErr.Error()})
	} else {
		t.reduce(segment.StreamResume{})
		t.reduce(segment.StreamEnd{})
	}

	m := t.Model()
	if !m.State.Terminal() {
		// a card still running can only end through Abort
		t.reduce(segment.Abort{})
		m = t.Model()
	}

	final := context.WithoutCancel(ctx)
	t.publish(m.Segments)
	t.saver.Flush(final)
	t.saver.Stop()
	if t.h.updates != nil {
		t.h.updates.FlushMessage(final, t.id)
		t.h.updates.Forget(t.id)
	}
	return t.message(m.Segments), runErr
}

func (t *Turn) save(ctx context.Context, content string) error {
	if t.h.store == nil {
		return nil
	}
	segs, _, err := segment.Decode([]byte(content))
	if err != nil {
		return fmt.Errorf("decode segments: %w", err)
	}
	return t.h.store.SaveMessage(ctx, t.message(segs))
}

func (t *Turn) message(segs []segment.Segment) store.Message {
	t.mu.Lock()
	state, failed := t.model.State, t.err
	t.mu.Unlock()

	status := store.StatusStreaming
	if state == segment.StateComplete {
		status = store.StatusComplete
		if failed != nil {
			status = store.StatusError
		}
	}
	return store.Message{
		ID:             t.id,
		ConversationID: t.conversationID,
		Role:           ai.RoleAssistant,
		Content:        toolcall.StripDirectives(segment.PlainText(segs)),
		Segments:       segs,
		Status:         status,
		CreatedAt:      t.createdAt,
	}
}

func (t *Turn) addUsage(u ai.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.PromptTokens += u.PromptTokens
	t.usage.CompletionTokens += u.CompletionTokens
	t.usage.TotalTokens += u.TotalTokens
}

// followUp builds the next request: the previous messages minus the original
// question and earlier follow-up system prompts, the assistant's text for the
// round, and the tool result turn.
func followUp(prev []ai.Message, roundText, original string, next ai.Message) []ai.Message {
	system := toolcall.FollowUpSystemPrompt(original)
	history := make([]ai.Message, 0, len(prev)+1)
	for _, m := range prev {
		if m.Role == ai.RoleSystem && m.Content == system {
			continue
		}
		history = append(history, m)
	}
	if text := strings.TrimSpace(toolcall.StripDirectives(roundText)); text != "" {
		history = append(history, ai.Message{Role: ai.RoleAssistant, Content: text})
	}
	return toolcall.BuildFollowUpHistory(history, original, next)
}

func appendMessages(prev []ai.Message, extra ...ai.Message) []ai.Message {
	out := make([]ai.Message, 0, len(prev)+len(extra))
	out = append(out, prev...)
	return append(out, extra...)
}
