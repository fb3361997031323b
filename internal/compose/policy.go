package compose

import (
	"regexp"
	"sort"
	"sync"
)

// Params are provider request options keyed by their wire names.
type Params map[string]any

// Rule injects or overrides parameters for matching provider/model pairs.
// A nil Provider or Model matches everything. Rules run in ascending
// Priority, so higher priorities win conflicts.
type Rule struct {
	ID          string
	Description string
	Priority    int
	Provider    *regexp.Regexp
	Model       *regexp.Regexp
	Apply       func(base Params) Params
}

func (r Rule) matches(provider, model string) bool {
	if r.Provider != nil && !r.Provider.MatchString(provider) {
		return false
	}
	if r.Model != nil && !r.Model.MatchString(model) {
		return false
	}
	return true
}

// ParameterPolicy applies built-in rules followed by user rules.
type ParameterPolicy struct {
	mu      sync.RWMutex
	builtin []Rule
	user    []Rule
}

// NewParameterPolicy creates a policy with the built-in rule set.
func NewParameterPolicy() *ParameterPolicy {
	return &ParameterPolicy{builtin: sortRules(BuiltinRules())}
}

// SetUserRules replaces the user rule set.
func (p *ParameterPolicy) SetUserRules(rules []Rule) {
	sorted := sortRules(rules)
	p.mu.Lock()
	p.user = sorted
	p.mu.Unlock()
}

// Apply returns base with every matching rule applied. base is not modified.
func (p *ParameterPolicy) Apply(provider, model string, base Params) Params {
	p.mu.RLock()
	rules := make([]Rule, 0, len(p.builtin)+len(p.user))
	rules = append(rules, p.builtin...)
	rules = append(rules, p.user...)
	p.mu.RUnlock()

	merged := deepMerge(Params{}, base)
	for _, rule := range rules {
		if rule.Apply == nil || !rule.matches(provider, model) {
			continue
		}
		if out := rule.Apply(deepMerge(Params{}, merged)); out != nil {
			merged = out
		}
	}
	return merged
}

func sortRules(rules []Rule) []Rule {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

var (
	geminiProvider = regexp.MustCompile(`(?i)^(google\s*ai)$`)
	geminiThinking = regexp.MustCompile(`(?i)^(gemini-2\.5-(pro|flash-thinking)(?:-[a-z]+)?|gemini-1\.5-.*-thinking|gemini-2\.0-.*-thinking|.*-thinking)$`)
)

// BuiltinRules returns the rules every policy starts with.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:          "google-gemini-thinking-required",
			Description: "non-zero thinking budget for Gemini models that only run in thinking mode",
			Priority:    100,
			Provider:    geminiProvider,
			Model:       geminiThinking,
			Apply:       geminiThinkingBudget,
		},
	}
}

// geminiThinkingBudget sets thinkingBudget to 1024 unless a positive budget is
// already present. maxTokens and stop are mapped into generationConfig only
// when the caller set them.
func geminiThinkingBudget(base Params) Params {
	gen, _ := base["generationConfig"].(map[string]any)

	patch := map[string]any{}
	if v := firstSet(base["maxOutputTokens"], base["maxTokens"], lookup(gen, "maxOutputTokens")); v != nil {
		patch["maxOutputTokens"] = v
	}
	if v := firstSet(base["stop"], lookup(gen, "stopSequences")); v != nil {
		patch["stopSequences"] = v
	}

	budget := 1024.0
	if tc, ok := lookup(gen, "thinkingConfig").(map[string]any); ok {
		if b, ok := number(tc["thinkingBudget"]); ok && b > 0 {
			budget = b
		}
	}
	patch["thinkingConfig"] = map[string]any{"thinkingBudget": budget}

	return deepMerge(base, Params{"generationConfig": patch})
}

func lookup(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func firstSet(values ...any) any {
	for _, v := range values {
		if v == nil {
			continue
		}
		if n, ok := number(v); ok && n == 0 {
			continue
		}
		return v
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// deepMerge copies target and merges source into the copy. Nested maps merge
// recursively; slices are copied; everything else overwrites.
func deepMerge(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		out[k] = cloneValue(v)
	}
	for k, v := range source {
		switch sv := v.(type) {
		case map[string]any:
			existing, _ := out[k].(map[string]any)
			out[k] = deepMerge(existing, sv)
		case Params:
			existing, _ := out[k].(map[string]any)
			out[k] = deepMerge(existing, sv)
		default:
			out[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return deepMerge(nil, x)
	case Params:
		return deepMerge(nil, x)
	case []any:
		return append([]any(nil), x...)
	case []string:
		return append([]string(nil), x...)
	}
	return v
}
