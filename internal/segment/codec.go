package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SchemaVersion is written into every encoded segment list.
const SchemaVersion = 1

type envelope struct {
	Version  int           `json:"version"`
	Segments []wireSegment `json:"segments"`
}

// wireSegment is the persisted shape of any segment. Think timing is stored as
// unix milliseconds and seconds to match what the chat UI reads.
type wireSegment struct {
	Kind          Kind           `json:"kind"`
	Text          string         `json:"text,omitempty"`
	StartTime     int64          `json:"startTime,omitempty"`
	Duration      float64        `json:"duration,omitempty"`
	ID            string         `json:"id,omitempty"`
	Server        string         `json:"server,omitempty"`
	Tool          string         `json:"tool,omitempty"`
	Status        CardStatus     `json:"status,omitempty"`
	Args          map[string]any `json:"args,omitempty"`
	ResultPreview string         `json:"resultPreview,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	SchemaHint    string         `json:"schemaHint,omitempty"`
	MessageID     string         `json:"messageId,omitempty"`
}

// Encode serializes segments into the versioned envelope.
func Encode(segs []Segment) ([]byte, error) {
	env := envelope{Version: SchemaVersion, Segments: make([]wireSegment, 0, len(segs))}
	for _, s := range segs {
		w, err := toWire(s)
		if err != nil {
			return nil, err
		}
		env.Segments = append(env.Segments, w)
	}
	return json.Marshal(env)
}

// Decode parses an envelope. A bare JSON array, as written before versioning, is
// read as version 0.
func Decode(data []byte) ([]Segment, int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, SchemaVersion, nil
	}

	var env envelope
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &env.Segments); err != nil {
			return nil, 0, fmt.Errorf("decode legacy segments: %w", err)
		}
	} else {
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, 0, fmt.Errorf("decode segments: %w", err)
		}
		if env.Version > SchemaVersion {
			return nil, env.Version, fmt.Errorf("unsupported segment schema version %d", env.Version)
		}
	}

	segs := make([]Segment, 0, len(env.Segments))
	for i, w := range env.Segments {
		s, err := fromWire(w)
		if err != nil {
			return nil, env.Version, fmt.Errorf("segment %d: %w", i, err)
		}
		segs = append(segs, s)
	}
	return segs, env.Version, nil
}

func toWire(s Segment) (wireSegment, error) {
	switch v := s.(type) {
	case TextSegment:
		return wireSegment{Kind: KindText, Text: v.Text}, nil
	case ThinkSegment:
		w := wireSegment{Kind: KindThink, Text: v.Text, Duration: v.Seconds()}
		if !v.Open() && w.Duration == 0 {
			// zero duration means still open on decode
			w.Duration = 0.1
		}
		if !v.StartedAt.IsZero() {
			w.StartTime = v.StartedAt.UnixMilli()
		}
		return w, nil
	case ToolCardSegment:
		return wireSegment{
			Kind:          KindToolCard,
			ID:            v.ID,
			Server:        v.Server,
			Tool:          v.Tool,
			Status:        v.Status,
			Args:          v.Args,
			ResultPreview: v.ResultPreview,
			ErrorMessage:  v.ErrorMessage,
			SchemaHint:    v.SchemaHint,
			MessageID:     v.MessageID,
		}, nil
	default:
		return wireSegment{}, fmt.Errorf("unknown segment type %T", s)
	}
}

func fromWire(w wireSegment) (Segment, error) {
	switch w.Kind {
	case KindText:
		return TextSegment{Text: w.Text}, nil
	case KindThink:
		s := ThinkSegment{Text: w.Text}
		if w.StartTime != 0 {
			s.StartedAt = time.UnixMilli(w.StartTime)
		}
		s.Duration = time.Duration(math.Round(w.Duration * float64(time.Second)))
		return s, nil
	case KindToolCard:
		return ToolCardSegment{
			ID:            w.ID,
			Server:        w.Server,
			Tool:          w.Tool,
			Status:        w.Status,
			Args:          w.Args,
			ResultPreview: w.ResultPreview,
			ErrorMessage:  w.ErrorMessage,
			SchemaHint:    w.SchemaHint,
			MessageID:     w.MessageID,
		}, nil
	default:
		return nil, fmt.Errorf("unknown segment kind %q", w.Kind)
	}
}
