package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/chatcore/internal/gateway"
)

func newWorkspace(t *testing.T) (string, *gateway.Local) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.go":          "package main\n\nfunc main() {}\n",
		"internal/a/a.go":  "package a\n",
		"internal/a/a.txt": "notes\n",
		".git/config":      "[core]\n",
		"bin.dat":          "\x00\x01\x02binary",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	srv, err := NewServer(dir, Limits{MaxLines: 2, MaxBytes: 1024}, false)
	if err != nil {
		t.Fatal(err)
	}
	return dir, srv
}

func callTool(t *testing.T, srv *gateway.Local, name string, args any) gateway.CallResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.CallTool(context.Background(), ServerID, name, raw, time.Second)
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func TestServerListsTools(t *testing.T) {
	_, srv := newWorkspace(t)
	info := srv.Info()
	if !info.Local || !info.Active || info.MultiStep {
		t.Errorf("info = %+v", info)
	}
	specs, err := srv.ListTools(context.Background(), ServerID)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 || specs[0].Name != GlobToolName || specs[1].Name != ReadFileToolName {
		t.Errorf("specs = %+v", specs)
	}
}

func TestReadFile(t *testing.T) {
	_, srv := newWorkspace(t)

	res := callTool(t, srv, ReadFileToolName, map[string]any{"file_path": "main.go"})
	if res.IsError {
		t.Fatalf("res = %+v", res)
	}
	if !strings.HasPrefix(res.Content, "1: package main\n2: ") {
		t.Errorf("content = %q", res.Content)
	}
	if !strings.Contains(res.Content, "Output truncated. Total lines: 4") {
		t.Errorf("expected truncation note, got %q", res.Content)
	}

	res = callTool(t, srv, ReadFileToolName, map[string]any{"file_path": "main.go", "start_line": 3, "end_line": 3})
	if res.Content != "3: func main() {}" {
		t.Errorf("range content = %q", res.Content)
	}
}

func TestReadFileErrors(t *testing.T) {
	_, srv := newWorkspace(t)
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing path", map[string]any{}, "file_path is required"},
		{"not found", map[string]any{"file_path": "nope.go"}, "file not found"},
		{"outside workspace", map[string]any{"file_path": "../etc/passwd"}, "outside the workspace"},
		{"binary", map[string]any{"file_path": "bin.dat"}, "binary"},
		{"start past end", map[string]any{"file_path": "main.go", "start_line": 99}, "exceeds file length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, srv, ReadFileToolName, tt.args)
			if !res.IsError || !strings.Contains(res.Content, tt.want) {
				t.Errorf("res = %+v, want error containing %q", res, tt.want)
			}
		})
	}
}

func TestReadFileWarnsUnknownParams(t *testing.T) {
	_, srv := newWorkspace(t)
	res := callTool(t, srv, ReadFileToolName, map[string]any{"file_path": "internal/a/a.go", "mode": "fast"})
	if !strings.HasPrefix(res.Content, "Unknown parameter 'mode' was ignored\n1: package a") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestGlob(t *testing.T) {
	_, srv := newWorkspace(t)

	res := callTool(t, srv, GlobToolName, map[string]any{"pattern": "**/*.go"})
	if res.IsError {
		t.Fatalf("res = %+v", res)
	}
	for _, want := range []string{"main.go", filepath.Join("internal", "a", "a.go")} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("missing %s in %q", want, res.Content)
		}
	}
	if strings.Contains(res.Content, "a.txt") || strings.Contains(res.Content, ".git") {
		t.Errorf("unexpected match in %q", res.Content)
	}

	res = callTool(t, srv, GlobToolName, map[string]any{"pattern": "*.txt", "path": "internal/a"})
	if !strings.Contains(res.Content, "a.txt") {
		t.Errorf("scoped glob = %q", res.Content)
	}

	res = callTool(t, srv, GlobToolName, map[string]any{"pattern": "*.rs"})
	if res.IsError || res.Content != "No files matched the pattern." {
		t.Errorf("empty glob = %+v", res)
	}

	res = callTool(t, srv, GlobToolName, map[string]any{"pattern": "[", "path": "."})
	if !res.IsError {
		t.Errorf("invalid pattern accepted: %+v", res)
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		10:         "  10B",
		2048:       "   2K",
		5 << 20:    "   5M",
		1536 << 20: "   2G",
	}
	for in, want := range tests {
		if got := formatSize(in); got != want {
			t.Errorf("formatSize(%d) = %q, want %q", in, got, want)
		}
	}
}
