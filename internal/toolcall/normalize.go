package toolcall

import (
	"strings"
	"sync"
)

// ArgRule rewrites the arguments for one server. Rules receive a copy and may
// modify it in place.
type ArgRule func(args map[string]any) map[string]any

// Normalizer canonicalizes tool arguments per target server before dispatch.
type Normalizer struct {
	mu    sync.RWMutex
	rules map[string][]ArgRule
}

// NewNormalizer creates a normalizer with the built-in rules registered.
func NewNormalizer() *Normalizer {
	n := &Normalizer{rules: make(map[string][]ArgRule)}
	n.RegisterRule("filesystem", forwardSlashPaths)
	return n
}

// RegisterRule appends a rule for server.
func (n *Normalizer) RegisterRule(server string, rule ArgRule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules[server] = append(n.rules[server], rule)
}

// Normalize returns canonical arguments for server. The input map is never
// modified. Servers without rules get their arguments back unchanged.
func (n *Normalizer) Normalize(server string, args map[string]any) map[string]any {
	n.mu.RLock()
	rules := n.rules[server]
	n.mu.RUnlock()

	if len(rules) == 0 || args == nil {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, rule := range rules {
		out = rule(out)
	}
	return out
}

var defaultNormalizer = NewNormalizer()

// NormalizeArgs applies the built-in rules.
func NormalizeArgs(server string, args map[string]any) map[string]any {
	return defaultNormalizer.Normalize(server, args)
}

var pathKeys = []string{"path", "source", "destination", "target", "directory"}

func forwardSlashPaths(args map[string]any) map[string]any {
	for _, key := range pathKeys {
		if s, ok := args[key].(string); ok {
			args[key] = strings.ReplaceAll(s, `\`, "/")
		}
	}
	if list, ok := args["paths"].([]any); ok {
		fixed := make([]any, len(list))
		for i, item := range list {
			if s, ok := item.(string); ok {
				fixed[i] = strings.ReplaceAll(s, `\`, "/")
			} else {
				fixed[i] = item
			}
		}
		args["paths"] = fixed
	}
	return args
}
