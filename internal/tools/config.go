package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// RiskLevel tells the user how much a confirmation matters.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRisk parses a risk level; an empty string means medium.
func ParseRisk(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return RiskMedium, nil
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// SummaryFunc renders a human-readable description of a pending call.
type SummaryFunc func(toolName string, args json.RawMessage) string

// SummaryTemplate returns a SummaryFunc replacing {{tool}} and {{args}} in tmpl.
func SummaryTemplate(tmpl string) SummaryFunc {
	if tmpl == "" {
		return nil
	}
	return func(toolName string, args json.RawMessage) string {
		return strings.NewReplacer("{{tool}}", toolName, "{{args}}", string(args)).Replace(tmpl)
	}
}

// DefaultSummary describes a call by its name and arguments.
func DefaultSummary(toolName string, args json.RawMessage) string {
	if len(args) == 0 || string(args) == "{}" {
		return fmt.Sprintf("Run %s", toolName)
	}
	return fmt.Sprintf("Run %s with %s", toolName, args)
}

// Rule marks a tool, or a glob of tool names, as requiring confirmation.
type Rule struct {
	Pattern string
	Risk    RiskLevel
	Summary SummaryFunc

	matcher glob.Glob // nil for exact names
}

// Describe renders the summary of a call under this rule.
func (r Rule) Describe(toolName string, args json.RawMessage) string {
	if r.Summary != nil {
		return r.Summary(toolName, args)
	}
	return DefaultSummary(toolName, args)
}

// Rules is the set of tools that need confirmation. Exact registrations
// win over patterns; patterns are tried in registration order.
type Rules struct {
	mu       sync.RWMutex
	exact    map[string]Rule
	patterns []Rule
}

// NewRules creates an empty rule set.
func NewRules() *Rules {
	return &Rules{exact: make(map[string]Rule)}
}

// RegisterConfirmable marks a single tool as requiring confirmation.
func (r *Rules) RegisterConfirmable(toolName string, risk RiskLevel, summary SummaryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[toolName] = Rule{Pattern: toolName, Risk: risk, Summary: summary}
}

// RegisterPattern marks every tool matching a glob as requiring confirmation.
func (r *Rules) RegisterPattern(pattern string, risk RiskLevel, summary SummaryFunc) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid confirmation pattern %q: %w", pattern, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, Rule{Pattern: pattern, Risk: risk, Summary: summary, matcher: g})
	return nil
}

// Add registers a rule from configuration, choosing exact or glob matching
// from the shape of tool.
func (r *Rules) Add(tool, risk, summary string) error {
	level, err := ParseRisk(risk)
	if err != nil {
		return fmt.Errorf("rule for %s: %w", tool, err)
	}
	if strings.ContainsAny(tool, "*?[{") {
		return r.RegisterPattern(tool, level, SummaryTemplate(summary))
	}
	r.RegisterConfirmable(tool, level, SummaryTemplate(summary))
	return nil
}

// Lookup returns the rule that applies to toolName.
func (r *Rules) Lookup(toolName string) (Rule, bool) {
	if r == nil {
		return Rule{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rule, ok := r.exact[toolName]; ok {
		return rule, true
	}
	for _, rule := range r.patterns {
		if rule.matcher.Match(toolName) {
			return rule, true
		}
	}
	return Rule{}, false
}

// NeedsConfirmation reports whether calls to toolName must be confirmed.
func (r *Rules) NeedsConfirmation(toolName string) bool {
	_, ok := r.Lookup(toolName)
	return ok
}

// List returns every rule, exact names first.
func (r *Rules) List() []Rule {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.exact)+len(r.patterns))
	for _, rule := range r.exact {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return append(out, r.patterns...)
}
