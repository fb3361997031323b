// Package ai provides types and interfaces for AI service interactions.
package ai

import "time"

// Role constants define the different roles in a chat conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Default values for various parameters.
const (
	DefaultModel           = "gpt-4o"
	DefaultTimeout         = 120 * time.Second
	DefaultAzureAPIVersion = "2024-06-01"
)

// Message is one provider-facing turn.
type Message struct {
	// Role of the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content of the message
	Content string `json:"content"`

	// Name of the message sender (optional)
	Name string `json:"name,omitempty"`
}

// ChatRequest represents a request to generate a streamed chat completion.
//
// Example:
//
//	req := ChatRequest{
//	    Model: "gpt-4o",
//	    Messages: []Message{
//	        {Role: RoleSystem, Content: "You are a helpful assistant."},
//	        {Role: RoleUser, Content: "Hello!"},
//	    },
//	    Temperature: FloatPtr(0.8),
//	}
type ChatRequest struct {
	// Model ID to use for completion
	Model string `json:"model"`

	// Messages in the conversation
	Messages []Message `json:"messages"`

	// Sampling temperature (0-2)
	Temperature *float32 `json:"temperature,omitempty"`

	// Maximum tokens to generate
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Top-p sampling parameter
	TopP *float32 `json:"top_p,omitempty"`

	// Stop sequences
	Stop []string `json:"stop,omitempty"`

	// Reasoning effort for reasoning models: "minimal", "low", "medium", "high"
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// Provider-specific parameters produced by the parameter policy. Keys the
	// OpenAI wire format does not know are ignored.
	Extra map[string]any `json:"extra,omitempty"`
}

// StreamEventKind classifies events produced by a StreamReader.
type StreamEventKind string

const (
	// EventToken carries visible answer text.
	EventToken StreamEventKind = "token"
	// EventThinkingToken carries reasoning text reported out of band.
	EventThinkingToken StreamEventKind = "thinking_token"
	// EventThinkingEnd marks the end of out-of-band reasoning.
	EventThinkingEnd StreamEventKind = "thinking_end"
	// EventDone is the last event of a stream.
	EventDone StreamEventKind = "done"
)

// StreamEvent is one decoded unit of a streaming response.
type StreamEvent struct {
	Kind         StreamEventKind `json:"kind"`
	Text         string          `json:"text,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamReader defines the interface for reading streaming responses.
type StreamReader interface {
	// Recv returns the next event. It returns io.EOF after EventDone.
	Recv() (StreamEvent, error)

	// Close releases any resources associated with the stream.
	Close() error
}

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int {
	return &i
}

// FloatPtr returns a pointer to the given float32.
func FloatPtr(f float32) *float32 {
	return &f
}
