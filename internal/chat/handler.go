// Package chat runs assistant turns: it streams provider output into segments,
// executes tool directives behind the authorization gate and continues the
// conversation from their results.
package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/common-creation/chatpipe/internal/ai"
	"github.com/common-creation/chatpipe/internal/auth"
	"github.com/common-creation/chatpipe/internal/compose"
	"github.com/common-creation/chatpipe/internal/config"
	"github.com/common-creation/chatpipe/internal/persist"
	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/store"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

// ErrEmptyInput is returned by Send for blank messages.
var ErrEmptyInput = errors.New("empty input")

// EventHook observes every event accepted for a message, with the model after it.
// It runs on the turn goroutine and must not block.
type EventHook func(messageID string, ev segment.Event, m segment.Model)

// ProgressFunc receives debounced segment snapshots of a streaming message.
type ProgressFunc func(messageID string, segs []segment.Segment)

// Handler creates turns that share a provider client, tool servers, the
// authorization gate and storage.
type Handler struct {
	client     ai.Client
	tools      ToolInvoker
	gate       *auth.Gate
	policy     *auth.Policy
	store      store.Store
	updates    *persist.UpdateManager
	composer   *compose.Composer
	normalizer *toolcall.Normalizer
	logger     *log.Logger

	provider     string
	model        string
	params       compose.Params
	systemPrompt string
	pipeline     config.PipelineConfig

	onEvent    EventHook
	onProgress ProgressFunc
	now        func() time.Time

	mu     sync.Mutex
	depths map[string]int
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithToolInvoker sets the tool servers directives are dispatched to.
func WithToolInvoker(inv ToolInvoker) HandlerOption {
	return func(h *Handler) {
		h.tools = inv
	}
}

// WithGate sets the authorization gate.
func WithGate(g *auth.Gate) HandlerOption {
	return func(h *Handler) {
		if g != nil {
			h.gate = g
		}
	}
}

// WithPolicy sets the authorization policy.
func WithPolicy(p *auth.Policy) HandlerOption {
	return func(h *Handler) {
		if p != nil {
			h.policy = p
		}
	}
}

// WithStore persists user and assistant messages to s.
func WithStore(s store.Store) HandlerOption {
	return func(h *Handler) {
		h.store = s
	}
}

// WithUpdateManager routes segment snapshots through m before they reach the
// progress callback.
func WithUpdateManager(m *persist.UpdateManager) HandlerOption {
	return func(h *Handler) {
		h.updates = m
	}
}

// WithComposer replaces the option composer.
func WithComposer(c *compose.Composer) HandlerOption {
	return func(h *Handler) {
		h.composer = c
	}
}

// WithNormalizer replaces the argument normalizer.
func WithNormalizer(n *toolcall.Normalizer) HandlerOption {
	return func(h *Handler) {
		h.normalizer = n
	}
}

// WithModel sets the provider and model names used for composing requests.
func WithModel(provider, model string) HandlerOption {
	return func(h *Handler) {
		h.provider = provider
		h.model = model
	}
}

// WithParams sets the base request parameters.
func WithParams(p compose.Params) HandlerOption {
	return func(h *Handler) {
		h.params = p
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) HandlerOption {
	return func(h *Handler) {
		h.systemPrompt = prompt
	}
}

// WithPipeline sets persistence and recursion tuning.
func WithPipeline(cfg config.PipelineConfig) HandlerOption {
	return func(h *Handler) {
		h.pipeline = cfg
	}
}

// WithEventHook registers fn for every accepted event.
func WithEventHook(fn EventHook) HandlerOption {
	return func(h *Handler) {
		h.onEvent = fn
	}
}

// WithProgress registers fn for debounced snapshots.
func WithProgress(fn ProgressFunc) HandlerOption {
	return func(h *Handler) {
		h.onProgress = fn
	}
}

func withClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a handler streaming from client.
func NewHandler(client ai.Client, opts ...HandlerOption) *Handler {
	h := &Handler{
		client:       client,
		provider:     "openai",
		model:        ai.DefaultModel,
		systemPrompt: DefaultSystemPrompt,
		pipeline:     config.NewDefaultConfig().Pipeline,
		now:          time.Now,
		depths:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = log.New(os.Stderr)
	}
	if h.gate == nil {
		h.gate = auth.NewGate()
	}
	if h.policy == nil {
		h.policy = auth.NewPolicy()
	}
	if h.composer == nil {
		dir, _ := h.tools.(compose.ServerDirectory)
		h.composer = compose.NewComposer(dir, compose.WithLogger(h.logger))
	}
	return h
}

// NewHandlerFromConfig wires a handler from the loaded configuration.
func NewHandlerFromConfig(client ai.Client, cfg *config.Config, opts ...HandlerOption) *Handler {
	params := compose.Params{}
	if cfg.AI.Temperature > 0 {
		params["temperature"] = cfg.AI.Temperature
	}
	if cfg.AI.ReasoningEffort != "" {
		params["reasoning_effort"] = cfg.AI.ReasoningEffort
	}
	base := []HandlerOption{
		WithModel(cfg.AI.Provider, cfg.AI.Model),
		WithParams(params),
		WithPipeline(cfg.Pipeline),
		WithPolicy(cfg.Authorization.Policy()),
	}
	return NewHandler(client, append(base, opts...)...)
}

// Gate returns the authorization gate turns wait on.
func (h *Handler) Gate() *auth.Gate {
	return h.gate
}

// Policy returns the authorization policy.
func (h *Handler) Policy() *auth.Policy {
	return h.policy
}

// Request is one user message to answer.
type Request struct {
	// Empty starts a new conversation
	ConversationID string
	Content        string
	// Attached document text, appended to the user turn
	Document string
}

// Send stores the user message and prepares the turn answering it. The turn
// does nothing until Run is called.
func (h *Handler) Send(ctx context.Context, req Request) (*Turn, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyInput
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	var prior []store.Message
	if h.store != nil {
		msgs, err := h.store.ListMessages(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		prior = msgs
	}

	opts := h.composer.Compose(ctx, h.provider, h.model, h.params, conversationID, content)
	system, err := BuildSystemPrompt(ctx, h.systemPrompt, opts.Servers(), h.tools)
	if err != nil {
		return nil, fmt.Errorf("failed to build system prompt: %w", err)
	}
	history := compose.NewHistoryBuilder().
		AddSystem(system).
		AddConversation(prior).
		AddUser(content, req.Document).
		Take()

	if n, err := compose.EstimateTokens(history, h.model); err == nil {
		h.logger.Debug("request prepared", "conversation", conversationID, "tokens", n, "servers", opts.Servers())
	}

	if h.store != nil {
		user := store.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           ai.RoleUser,
			Content:        content,
			Status:         store.StatusComplete,
			CreatedAt:      h.now(),
		}
		if err := h.store.SaveMessage(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to save user message: %w", err)
		}
	}

	request := ai.ChatRequest{Model: h.model, Extra: opts.Params()}
	return newTurn(h, conversationID, content, request, history), nil
}

// nextDepth counts a follow-up for conversationID. It reports false, and resets
// the count, once limit follow-ups have run. A limit of 0 never stops.
func (h *Handler) nextDepth(conversationID string, limit int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	current := h.depths[conversationID]
	if limit > 0 && current >= limit {
		delete(h.depths, conversationID)
		return false
	}
	h.depths[conversationID] = current + 1
	return true
}

func (h *Handler) resetDepth(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.depths, conversationID)
}
