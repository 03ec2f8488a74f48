package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/samsaffron/chatcore/internal/gateway"
	"github.com/samsaffron/chatcore/internal/llm"
)

type readFileArgs struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

var readFileSpec = llm.ToolSpec{
	Name:        ReadFileToolName,
	Description: "Read a file from the workspace. Returns line-numbered output. Use start_line/end_line for pagination.",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path to the file, relative to the workspace root",
			},
			"start_line": map[string]any{
				"type":        "integer",
				"description": "1-indexed start line (default: 1)",
			},
			"end_line": map[string]any{
				"type":        "integer",
				"description": "1-indexed end line (default: EOF)",
			},
		},
		"required": []string{"file_path"},
	},
}

// ReadFile implements read_file.
func (w *Workspace) ReadFile(ctx context.Context, args json.RawMessage) (gateway.CallResult, error) {
	warning := warnUnknownParams(args, "file_path", "start_line", "end_line")

	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}
	if a.FilePath == "" {
		return errorResult("file_path is required"), nil
	}
	path, err := w.resolve(a.FilePath)
	if err != nil {
		return errorResult("%v", err), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errorResult("file not found: %s", a.FilePath), nil
		}
		return errorResult("read error: %v", err), nil
	}
	if isBinaryContent(data) {
		return errorResult("%s appears to be a binary file", a.FilePath), nil
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)

	start := 0
	if a.StartLine > 0 {
		start = a.StartLine - 1
	}
	if start >= total {
		return errorResult("start_line %d exceeds file length %d", a.StartLine, total), nil
	}
	end := total
	if a.EndLine > 0 && a.EndLine < total {
		end = a.EndLine
	}
	if start >= end {
		return gateway.CallResult{Content: warning + "No content in requested range."}, nil
	}

	selected := lines[start:end]
	truncated := false
	if w.limits.MaxLines > 0 && len(selected) > w.limits.MaxLines {
		selected = selected[:w.limits.MaxLines]
		truncated = true
	}

	var sb strings.Builder
	for i, line := range selected {
		fmt.Fprintf(&sb, "%d: %s\n", start+i+1, line)
	}
	out := strings.TrimSuffix(sb.String(), "\n")
	if w.limits.MaxBytes > 0 && int64(len(out)) > w.limits.MaxBytes {
		out = out[:w.limits.MaxBytes]
		truncated = true
	}
	if truncated {
		out += fmt.Sprintf("\n\n[Output truncated. Total lines: %d. Use start_line/end_line for pagination.]", total)
	}
	return gateway.CallResult{Content: warning + out}, nil
}

// isBinaryContent sniffs the first 512 bytes.
func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") {
		return false
	}
	if strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return false
	}
	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
