package compose

import (
	"strings"

	"github.com/common-creation/chatpipe/internal/ai"
	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/store"
)

// HistoryBuilder accumulates provider-facing turns.
type HistoryBuilder struct {
	messages []ai.Message
}

// NewHistoryBuilder returns an empty builder.
func NewHistoryBuilder() *HistoryBuilder {
	return &HistoryBuilder{}
}

// AddSystem appends a system turn. Whitespace-only prompts are skipped.
func (b *HistoryBuilder) AddSystem(content string) *HistoryBuilder {
	if strings.TrimSpace(content) == "" {
		return b
	}
	b.messages = append(b.messages, ai.Message{Role: ai.RoleSystem, Content: content})
	return b
}

// AddUser appends a user turn with docContext attached when non-empty.
func (b *HistoryBuilder) AddUser(content, docContext string) *HistoryBuilder {
	if strings.TrimSpace(docContext) != "" {
		content = content + "\n\n" + docContext
	}
	b.messages = append(b.messages, ai.Message{Role: ai.RoleUser, Content: content})
	return b
}

// AddAssistant appends an assistant turn.
func (b *HistoryBuilder) AddAssistant(content string) *HistoryBuilder {
	b.messages = append(b.messages, ai.Message{Role: ai.RoleAssistant, Content: content})
	return b
}

// AddMany appends msgs as they are.
func (b *HistoryBuilder) AddMany(msgs []ai.Message) *HistoryBuilder {
	b.messages = append(b.messages, msgs...)
	return b
}

// AddConversation converts stored messages. Assistant messages contribute the
// text of their text segments; think and tool card segments are left out.
// Messages with nothing to say are skipped.
func (b *HistoryBuilder) AddConversation(msgs []store.Message) *HistoryBuilder {
	for _, m := range msgs {
		switch m.Role {
		case ai.RoleSystem:
			b.AddSystem(m.Content)
		case ai.RoleUser:
			if strings.TrimSpace(m.Content) != "" {
				b.AddUser(m.Content, "")
			}
		case ai.RoleAssistant:
			text := m.Content
			if len(m.Segments) > 0 {
				text = segment.PlainText(m.Segments)
			}
			if strings.TrimSpace(text) != "" {
				b.AddAssistant(text)
			}
		}
	}
	return b
}

// Len returns the number of accumulated turns.
func (b *HistoryBuilder) Len() int {
	return len(b.messages)
}

// Take returns the accumulated turns and resets the builder.
func (b *HistoryBuilder) Take() []ai.Message {
	out := append([]ai.Message(nil), b.messages...)
	b.messages = nil
	return out
}
