package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samsaffron/chatcore/internal/llm"
)

func TestParseFileSpec(t *testing.T) {
	tests := []struct {
		spec string
		want FileSpec
	}{
		{"main.go", FileSpec{Path: "main.go"}},
		{"main.go:11-22", FileSpec{Path: "main.go", StartLine: 11, EndLine: 22, HasRegion: true}},
		{"main.go:11-", FileSpec{Path: "main.go", StartLine: 11, HasRegion: true}},
		{"main.go:-22", FileSpec{Path: "main.go", EndLine: 22, HasRegion: true}},
		{"dir/a:b.txt", FileSpec{Path: "dir/a:b.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseFileSpec(tt.spec)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseFileSpec(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestReadAttachments(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	one := write("one.txt", "line1\nline2\nline3")
	write("nested/two.txt", "two")

	t.Run("literal", func(t *testing.T) {
		files, err := ReadAttachments([]string{one})
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != 1 || files[0].Content != "line1\nline2\nline3" {
			t.Errorf("files = %+v", files)
		}
	})

	t.Run("region", func(t *testing.T) {
		files, err := ReadAttachments([]string{one + ":2-3"})
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != 1 || files[0].Content != "line2\nline3" || !strings.HasSuffix(files[0].Path, ":2-3") {
			t.Errorf("files = %+v", files)
		}
	})

	t.Run("recursive glob", func(t *testing.T) {
		files, err := ReadAttachments([]string{filepath.Join(dir, "**", "*.txt")})
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != 2 {
			t.Errorf("expected 2 files, got %+v", files)
		}
	})

	t.Run("glob without matches", func(t *testing.T) {
		files, err := ReadAttachments([]string{filepath.Join(dir, "*.md")})
		if err != nil || len(files) != 0 {
			t.Errorf("files = %+v, err = %v", files, err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadAttachments([]string{filepath.Join(dir, "nope.txt")}); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestPrompt(t *testing.T) {
	msg := Prompt("  Explain this  ", []Attachment{{Path: "a.go", Content: "package a\n"}}, "log line")
	if msg.Role != llm.RoleUser {
		t.Fatalf("role = %s", msg.Role)
	}
	want := "Explain this\n\n" +
		"<<<<< FILE: a.go >>>>>\npackage a\n<<<<< END FILE >>>>>\n\n" +
		"<<<<< STDIN >>>>>\nlog line\n<<<<< END STDIN >>>>>"
	if got := msg.Parts[0].Text; got != want {
		t.Errorf("prompt =\n%s\nwant\n%s", got, want)
	}

	if got := Prompt("", nil, "only stdin").Parts[0].Text; !strings.HasPrefix(got, "<<<<< STDIN >>>>>") {
		t.Errorf("stdin-only prompt = %q", got)
	}
}

func TestReadAll(t *testing.T) {
	got, err := readAll(strings.NewReader("piped"))
	if err != nil || got != "piped" {
		t.Errorf("readAll = %q, %v", got, err)
	}
}
