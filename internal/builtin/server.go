// Package builtin serves read-only workspace tools in process.
package builtin

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samsaffron/chatcore/internal/gateway"
)

// ServerID identifies the built-in server in the gateway.
const ServerID = "builtin"

const (
	ReadFileToolName = "read_file"
	GlobToolName     = "glob"
)

// Limits caps tool output.
type Limits struct {
	MaxLines int
	MaxBytes int64
}

// DefaultLimits returns the output limits used by the CLI.
func DefaultLimits() Limits {
	return Limits{MaxLines: 2000, MaxBytes: 50 * 1024}
}

// Workspace resolves tool paths against a root directory. Paths that leave
// the root are refused.
type Workspace struct {
	root   string
	limits Limits
}

// NewServer returns a local server exposing read_file and glob over root.
// A multi-step server puts the chat into agentic mode.
func NewServer(root string, limits Limits, multiStep bool) (*gateway.Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	w := &Workspace{root: abs, limits: limits}

	srv := gateway.NewLocal(gateway.ServerInfo{ID: ServerID, Name: "built-in tools", Active: true, MultiStep: multiStep})
	srv.Handle(readFileSpec, w.ReadFile)
	srv.Handle(globSpec, w.Glob)
	return srv, nil
}

func (w *Workspace) resolve(p string) (string, error) {
	if p == "" {
		return w.root, nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the workspace", p)
	}
	return p, nil
}

func errorResult(format string, args ...any) gateway.CallResult {
	return gateway.CallResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// warnUnknownParams returns a note, one line per key of args not in known.
func warnUnknownParams(args json.RawMessage, known ...string) string {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return ""
	}
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}
	var unknown []string
	for k := range m {
		if !set[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	var sb strings.Builder
	for _, k := range unknown {
		fmt.Fprintf(&sb, "Unknown parameter '%s' was ignored\n", k)
	}
	return sb.String()
}
