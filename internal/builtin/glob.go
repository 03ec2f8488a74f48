package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
)

const maxGlobResults = 200

type globArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

type fileEntry struct {
	path    string
	isDir   bool
	size    int64
	modTime time.Time
}

var globSpec = llm.ToolSpec{
	Name:        GlobToolName,
	Description: "Find workspace files by glob pattern (supports ** for recursive matching). Results are sorted newest first.",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern, e.g. '**/*.go' or 'src/**/*.ts'",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Base directory, relative to the workspace root",
			},
		},
		"required": []string{"pattern"},
	},
}

// Glob implements glob. Hidden files and directories are skipped.
func (w *Workspace) Glob(ctx context.Context, args json.RawMessage) (gateway.CallResult, error) {
	warning := warnUnknownParams(args, "pattern", "path")

	var a globArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if a.Pattern == "" {
		return errorResult("pattern is required"), nil
	}
	if !doublestar.ValidatePattern(a.Pattern) {
		return errorResult("invalid pattern %q", a.Pattern), nil
	}
	base, err := w.resolve(a.Path)
	if err != nil {
		return errorResult("%v", err), nil
	}

	var entries []fileEntry
	err = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if path != base && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil || rel == "." {
			return nil
		}
		if ok, _ := doublestar.Match(a.Pattern, filepath.ToSlash(rel)); !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, fileEntry{path: rel, isDir: d.IsDir(), size: info.Size(), modTime: info.ModTime()})
		if len(entries) >= maxGlobResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return gateway.CallResult{}, fmt.Errorf("walk %s: %w", base, err)
	}

	if len(entries) == 0 {
		return gateway.CallResult{Content: warning + "No files matched the pattern."}, nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].modTime.After(entries[j].modTime)
		}
		return entries[i].path < entries[j].path
	})
	return gateway.CallResult{Content: warning + formatGlobResults(entries, len(entries) >= maxGlobResults)}, nil
}

func formatGlobResults(entries []fileEntry, truncated bool) string {
	var sb strings.Builder
	for _, e := range entries {
		kind := "f"
		if e.isDir {
			kind = "d"
		}
		fmt.Fprintf(&sb, "[%s] %s  %s  %s\n", kind, formatSize(e.size), e.modTime.Format("2006-01-02 15:04"), e.path)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated at %d files]", maxGlobResults)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// formatSize formats a byte count as human-readable.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%4dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%4.0f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
