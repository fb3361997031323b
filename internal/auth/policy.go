package auth

import (
	"strings"
	"sync"
	"time"
)

// ApprovalMode defines the global approval behavior
type ApprovalMode int

const (
	// Interactive consults per-server settings and prompts otherwise
	Interactive ApprovalMode = iota
	// ApproveAll automatically approves every tool call
	ApproveAll
	// ApproveNone rejects every tool call without prompting
	ApproveNone
)

// ParseApprovalMode maps a config string onto a mode. Unknown values fall back
// to Interactive.
func ParseApprovalMode(s string) ApprovalMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "approve_all":
		return ApproveAll
	case "none", "approve_none":
		return ApproveNone
	default:
		return Interactive
	}
}

// ServerPolicy overrides the defaults for one server. Nil fields inherit.
type ServerPolicy struct {
	AutoAuthorize     *bool `yaml:"auto_authorize,omitempty" json:"autoAuthorize,omitempty"`
	MaxRecursionDepth *int  `yaml:"max_recursion_depth,omitempty" json:"maxRecursionDepth,omitempty"`
}

// sensitiveServers always prompt unless explicitly overridden.
var sensitiveServers = map[string]bool{
	"filesystem":  true,
	"file-system": true,
	"fs":          true,
}

// ApprovalRecord is one decision kept for auditing.
type ApprovalRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Approved  bool           `json:"approved"`
	Reason    string         `json:"reason,omitempty"`
}

// Policy decides which tool calls bypass the gate.
type Policy struct {
	mu                   sync.RWMutex
	mode                 ApprovalMode
	defaultAutoAuthorize bool
	servers              map[string]ServerPolicy
	history              []ApprovalRecord
	historyLimit         int
}

// NewPolicy creates an interactive policy that prompts for everything.
func NewPolicy() *Policy {
	return &Policy{
		servers:      make(map[string]ServerPolicy),
		historyLimit: 1000,
	}
}

// SetMode sets the approval mode
func (p *Policy) SetMode(mode ApprovalMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
}

// Mode returns the approval mode
func (p *Policy) Mode() ApprovalMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// SetDefaultAutoAuthorize sets the fallback for servers without an override.
func (p *Policy) SetDefaultAutoAuthorize(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultAutoAuthorize = v
}

// SetServer replaces the override for server.
func (p *Policy) SetServer(server string, sp ServerPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers[server] = sp
}

// Server returns the override for server.
func (p *Policy) Server(server string) ServerPolicy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.servers[server]
}

// ShouldAutoAuthorize reports whether calls to server skip the prompt. A server
// override wins; sensitive servers otherwise always prompt; everything else uses
// the default.
func (p *Policy) ShouldAutoAuthorize(server string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.mode {
	case ApproveAll:
		return true
	case ApproveNone:
		return false
	}
	if sp, ok := p.servers[server]; ok && sp.AutoAuthorize != nil {
		return *sp.AutoAuthorize
	}
	if sensitiveServers[strings.ToLower(server)] {
		return false
	}
	return p.defaultAutoAuthorize
}

// Denied reports whether the mode rejects calls outright.
func (p *Policy) Denied() bool {
	return p.Mode() == ApproveNone
}

// MaxRecursionDepth returns the follow-up depth limit for server, or def.
func (p *Policy) MaxRecursionDepth(server string, def int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if sp, ok := p.servers[server]; ok && sp.MaxRecursionDepth != nil {
		return *sp.MaxRecursionDepth
	}
	return def
}

// Record appends a decision to the bounded history.
func (p *Policy) Record(rec ApprovalRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, rec)
	if over := len(p.history) - p.historyLimit; over > 0 {
		p.history = append([]ApprovalRecord(nil), p.history[over:]...)
	}
}

// History returns a copy of recorded decisions, oldest first.
func (p *Policy) History() []ApprovalRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ApprovalRecord(nil), p.history...)
}
