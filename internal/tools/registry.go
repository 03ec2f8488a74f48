package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
)

// Entry is a resolved tool.
type Entry struct {
	Name     string
	ServerID string // gateway server that executes the tool
	Category Category
	Spec     llm.ToolSpec
}

// Registry maps tool names to entries. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{entries: make(map[string]Entry), logger: logger}
}

// Register adds or replaces an entry.
func (r *Registry) Register(e Entry) {
	if e.Spec.Name == "" {
		e.Spec.Name = e.Name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Name] = e
}

// RegisterServer adds every tool a server exposes. A name already claimed
// by another server keeps its first owner.
func (r *Registry) RegisterServer(serverID string, specs []llm.ToolSpec, category Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spec := range specs {
		if prev, ok := r.entries[spec.Name]; ok && prev.ServerID != serverID {
			r.logger.Warn("duplicate tool name, keeping first", "tool", spec.Name, "server", prev.ServerID, "ignored", serverID)
			continue
		}
		r.entries[spec.Name] = Entry{Name: spec.Name, ServerID: serverID, Category: category, Spec: spec}
	}
}

// LoadGateway registers the tools of every active server of gw. In-process
// servers register as Local, the rest as Remote. A server that fails to list
// its tools is skipped and reported in the joined error.
func (r *Registry) LoadGateway(ctx context.Context, gw gateway.Gateway) error {
	var errs []error
	for _, s := range gw.Servers() {
		if !s.Active {
			continue
		}
		specs, err := gw.ListTools(ctx, s.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("list tools of %s: %w", s.ID, err))
			continue
		}
		category := Remote
		if s.Local {
			category = Local
		}
		r.RegisterServer(s.ID, specs, category)
	}
	return errors.Join(errs...)
}

// RegisterCompletion adds the attempt_completion tool.
func (r *Registry) RegisterCompletion() {
	r.Register(Entry{Name: AttemptCompletionToolName, Category: Completion, Spec: CompletionSpec()})
}

// Resolve returns the entry for name. Unknown names resolve to an
// Unregistered entry carrying only the name.
func (r *Registry) Resolve(name string) Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e
	}
	return Entry{Name: name, Category: Unregistered}
}

// Known reports whether name is registered.
func (r *Registry) Known(name string) bool {
	return r.Resolve(name).Category != Unregistered
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the specs of all registered tools, sorted by name.
func (r *Registry) Specs() []llm.ToolSpec {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, r.entries[name].Spec)
	}
	return specs
}

// Suggest returns up to limit registered names that fuzzily match name.
func (r *Registry) Suggest(name string, limit int) []string {
	names := r.Names()
	matches := fuzzy.Find(name, names)
	var out []string
	for _, m := range matches {
		out = append(out, m.Str)
		if len(out) == limit {
			break
		}
	}
	return out
}

// CompletionSpec describes the attempt_completion tool.
func CompletionSpec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        AttemptCompletionToolName,
		Description: "Call this once the task is finished. The result is shown to the user as the final answer.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"result": map[string]any{
					"type":        "string",
					"description": "Final answer for the user",
				},
			},
			"required":             []string{"result"},
			"additionalProperties": false,
		},
	}
}
