package segment

import "time"

// State is the control position of a message.
type State string

const (
	StateStreaming   State = "STREAMING"
	StateToolRunning State = "TOOL_RUNNING"
	StateToolDone    State = "TOOL_DONE"
	StateToolError   State = "TOOL_ERROR"
	StateComplete    State = "COMPLETE"
)

// Terminal reports whether no further events are accepted.
func (s State) Terminal() bool {
	return s == StateComplete
}

// Model is a message under construction. It is a value; Reduce returns a new one.
type Model struct {
	ID       string
	Segments []Segment
	State    State
}

// NewModel creates an empty streaming message.
func NewModel(id string) Model {
	return Model{ID: id, State: StateStreaming}
}

// Event is an input to Reduce. The set of implementations is closed.
type Event interface {
	isEvent()
}

// TokenAppend carries streamed answer text.
type TokenAppend struct {
	Chunk string
}

// ThinkStart opens a thinking span.
type ThinkStart struct {
	At time.Time
}

// ThinkAppend carries streamed reasoning text.
type ThinkAppend struct {
	Chunk string
	At    time.Time
}

// ThinkEnd closes the thinking span.
type ThinkEnd struct {
	At time.Time
}

// ToolHit reports a detected tool-call directive. Raw, when set, is cut from
// the trailing text so the directive is shown only as its card.
type ToolHit struct {
	CardID string
	Server string
	Tool   string
	Args   map[string]any
	Raw    string
}

// ToolResult reports the outcome of the running tool.
type ToolResult struct {
	CardID        string
	Server        string
	Tool          string
	OK            bool
	ResultPreview string
	ErrorMessage  string
	SchemaHint    string
}

// StreamResume starts a follow-up provider turn in the same message.
type StreamResume struct{}

// StreamEnd reports that the provider stream finished.
type StreamEnd struct{}

// Abort ends the message early. Running cards become errors carrying Reason.
type Abort struct {
	Reason string
}

func (TokenAppend) isEvent()  {}
func (ThinkStart) isEvent()   {}
func (ThinkAppend) isEvent()  {}
func (ThinkEnd) isEvent()     {}
func (ToolHit) isEvent()      {}
func (ToolResult) isEvent()   {}
func (StreamResume) isEvent() {}
func (StreamEnd) isEvent()    {}
func (Abort) isEvent()        {}

// Reduce applies ev to m. It returns the new model and whether the event was
// accepted; a rejected event returns m unchanged.
//
//	STREAMING                        TokenAppend   -> STREAMING
//	STREAMING, TOOL_DONE, TOOL_ERROR ToolHit       -> TOOL_RUNNING
//	TOOL_RUNNING                     ToolResult ok -> TOOL_DONE
//	TOOL_RUNNING                     ToolResult    -> TOOL_ERROR
//	TOOL_DONE, TOOL_ERROR            StreamResume  -> STREAMING
//	STREAMING                        StreamEnd     -> COMPLETE
//	any other                        StreamEnd     -> unchanged
//	any but COMPLETE                 Abort         -> COMPLETE
//
// Text and thinking events outside STREAMING still extend the segments without
// moving the state. COMPLETE accepts nothing.
func Reduce(m Model, ev Event) (Model, bool) {
	if m.State.Terminal() {
		return m, false
	}

	switch e := ev.(type) {
	case TokenAppend:
		m.Segments = AppendText(m.Segments, e.Chunk)
		return m, true

	case ThinkStart:
		m.Segments = AppendThinkText(m.Segments, "", e.At)
		return m, true

	case ThinkAppend:
		m.Segments = AppendThinkText(m.Segments, e.Chunk, e.At)
		return m, true

	case ThinkEnd:
		m.Segments = EnsureTextTail(FinishThink(m.Segments, e.At), "")
		return m, true

	case ToolHit:
		switch m.State {
		case StateStreaming, StateToolDone, StateToolError:
		default:
			return m, false
		}
		segs := EnsureTextTail(CutText(m.Segments, e.Raw), "")
		m.Segments = InsertRunningCard(segs, ToolCardSegment{
			ID:        e.CardID,
			Server:    e.Server,
			Tool:      e.Tool,
			Args:      e.Args,
			MessageID: m.ID,
		})
		m.State = StateToolRunning
		return m, true

	case ToolResult:
		if m.State != StateToolRunning {
			return m, false
		}
		patch := CardPatch{
			ResultPreview: e.ResultPreview,
			ErrorMessage:  e.ErrorMessage,
			SchemaHint:    e.SchemaHint,
		}
		next := StateToolDone
		patch.Status = StatusSuccess
		if !e.OK {
			next = StateToolError
			patch.Status = StatusError
		}
		segs, found := updateCard(m.Segments, CardMatch{ID: e.CardID, Server: e.Server, Tool: e.Tool}, patch)
		if !found {
			return m, false
		}
		m.Segments = segs
		m.State = next
		return m, true

	case StreamResume:
		if m.State != StateToolDone && m.State != StateToolError {
			return m, false
		}
		m.Segments = EnsureTextTail(m.Segments, "")
		m.State = StateStreaming
		return m, true

	case StreamEnd:
		if m.State != StateStreaming {
			return m, false
		}
		m.State = StateComplete
		return m, true

	case Abort:
		reason := e.Reason
		if reason == "" {
			reason = "cancelled"
		}
		segs := clone(m.Segments)
		for i, s := range segs {
			if card, ok := s.(ToolCardSegment); ok && card.Status == StatusRunning {
				card.Status = StatusError
				card.ErrorMessage = reason
				segs[i] = card
			}
		}
		m.Segments = segs
		m.State = StateComplete
		return m, true

	default:
		return m, false
	}
}
