// Package compose assembles outbound provider requests: parameter policy,
// tool server resolution and provider-facing history.
package compose

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
)

// ServerDirectory answers which tool servers exist and which are enabled.
type ServerDirectory interface {
	ConversationServers(ctx context.Context, conversationID string) ([]string, error)
	GlobalServers(ctx context.Context) ([]string, error)
	ConnectedServers(ctx context.Context) ([]string, error)
	ConfiguredServers(ctx context.Context) ([]string, error)
}

// StrategyResolver names the request strategy for a provider/model pair.
type StrategyResolver func(provider, model string) string

// ComposedOptions is the immutable result of Compose.
type ComposedOptions struct {
	params   Params
	servers  []string
	strategy string
}

// Params returns a copy of the composed parameters.
func (o *ComposedOptions) Params() Params {
	return deepMerge(nil, o.params)
}

// Servers returns the resolved tool servers, mentions first.
func (o *ComposedOptions) Servers() []string {
	out := make([]string, len(o.servers))
	copy(out, o.servers)
	return out
}

// Strategy returns the resolved strategy name, or "" when no resolver is set.
func (o *ComposedOptions) Strategy() string {
	return o.strategy
}

// Composer builds ComposedOptions.
type Composer struct {
	dir      ServerDirectory
	policy   *ParameterPolicy
	strategy StrategyResolver
	logger   *log.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithPolicy replaces the default parameter policy.
func WithPolicy(p *ParameterPolicy) Option {
	return func(c *Composer) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithStrategyResolver sets the strategy resolver.
func WithStrategyResolver(r StrategyResolver) Option {
	return func(c *Composer) {
		c.strategy = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewComposer creates a Composer. dir may be nil, in which case no servers
// are ever resolved.
func NewComposer(dir ServerDirectory, opts ...Option) *Composer {
	c := &Composer{
		dir:    dir,
		policy: NewParameterPolicy(),
		logger: log.New(os.Stderr),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]{1,64})`)

// Mentions returns the distinct @names in content, in order of appearance.
func Mentions(content string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Compose applies the parameter policy to base and resolves the tool servers
// for the turn. Directory failures degrade to an empty list.
func (c *Composer) Compose(ctx context.Context, provider, model string, base Params, conversationID, userContent string) *ComposedOptions {
	out := &ComposedOptions{
		params:  c.policy.Apply(provider, model, base),
		servers: c.resolveServers(ctx, conversationID, userContent),
	}
	if c.strategy != nil {
		out.strategy = c.strategy(provider, model)
	}
	return out
}

func (c *Composer) resolveServers(ctx context.Context, conversationID, userContent string) []string {
	if c.dir == nil {
		return nil
	}

	var enabled []string
	if conversationID != "" {
		enabled = c.list("conversation", func() ([]string, error) {
			return c.dir.ConversationServers(ctx, conversationID)
		})
	}
	if len(enabled) == 0 {
		enabled = c.list("global", func() ([]string, error) { return c.dir.GlobalServers(ctx) })
	}
	if len(enabled) == 0 {
		enabled = c.list("connected", func() ([]string, error) { return c.dir.ConnectedServers(ctx) })
	}

	mentioned := Mentions(userContent)
	if len(mentioned) == 0 {
		return dedupe(enabled)
	}

	configured := c.list("configured", func() ([]string, error) { return c.dir.ConfiguredServers(ctx) })
	canonical := make(map[string]string, len(configured))
	for _, name := range configured {
		canonical[strings.ToLower(name)] = name
	}

	var promoted []string
	for _, m := range mentioned {
		if name, ok := canonical[strings.ToLower(m)]; ok {
			promoted = append(promoted, name)
		}
	}
	return dedupe(append(promoted, enabled...))
}

func (c *Composer) list(source string, fn func() ([]string, error)) []string {
	names, err := fn()
	if err != nil {
		c.logger.Warn("resolving tool servers failed", "source", source, "error", err)
		return nil
	}
	return names
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
