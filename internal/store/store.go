// Package store persists chat messages and their segment lists.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/common-creation/chatpipe/internal/segment"
)

var (
	// ErrNotFound is returned when a message id is unknown.
	ErrNotFound = errors.New("message not found")
	// ErrCorrupted is returned when stored data fails its checksum.
	ErrCorrupted = errors.New("message data corrupted")
)

// Message status values.
const (
	StatusStreaming = "streaming"
	StatusComplete  = "complete"
	StatusError     = "error"
)

// Message is one stored chat message.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Segments       []segment.Segment
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Conversation summarizes the messages sharing a conversation id.
type Conversation struct {
	ID           string
	MessageCount int
	UpdatedAt    time.Time
}

// Store is implemented by the file and SQLite backends.
type Store interface {
	SaveMessage(ctx context.Context, msg Message) error
	LoadMessage(ctx context.Context, id string) (Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	ListConversations(ctx context.Context) ([]Conversation, error)
	DeleteMessage(ctx context.Context, id string) error
	Close() error
}

// Open creates the store selected by driver ("file" or "sqlite") rooted at path.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "file":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// wireMessage is the JSON form shared by both backends.
type wireMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Segments       json.RawMessage `json:"segments,omitempty"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func toWire(msg Message) (wireMessage, error) {
	w := wireMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		Status:         msg.Status,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}
	if len(msg.Segments) > 0 {
		data, err := segment.Encode(msg.Segments)
		if err != nil {
			return wireMessage{}, fmt.Errorf("encode segments: %w", err)
		}
		w.Segments = data
	}
	return w, nil
}

func fromWire(w wireMessage) (Message, error) {
	msg := Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		Role:           w.Role,
		Content:        w.Content,
		Status:         w.Status,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
	if len(w.Segments) > 0 {
		segs, _, err := segment.Decode(w.Segments)
		if err != nil {
			return Message{}, fmt.Errorf("decode segments: %w", err)
		}
		msg.Segments = segs
	}
	return msg, nil
}

func stamp(msg *Message, now time.Time) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if msg.Status == "" {
		msg.Status = StatusStreaming
	}
	if msg.Role == "" {
		msg.Role = "assistant"
	}
}

func validate(msg Message) error {
	if msg.ID == "" {
		return errors.New("message id is required")
	}
	if strings.ContainsAny(msg.ID, `/\`) {
		return fmt.Errorf("invalid message id: %q", msg.ID)
	}
	return nil
}
