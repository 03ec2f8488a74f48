// Package input assembles the user prompt from arguments, files and stdin.
package input

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/term"

	"github.com/samsaffron/chatcore/internal/llm"
)

// Attachment is file content included in the prompt.
type Attachment struct {
	Path    string // display path, with the line range when one was given
	Content string
}

// FileSpec is a path with an optional line range, such as main.go:11-22.
type FileSpec struct {
	Path      string
	StartLine int // 1-indexed, 0 means from the beginning
	EndLine   int // 1-indexed, 0 means to the end
	HasRegion bool
}

var specRe = regexp.MustCompile(`^(.+?)(?::(\d*)-(\d*))?$`)

// ParseFileSpec parses "path", "path:11-22", "path:11-" or "path:-22".
func ParseFileSpec(spec string) (FileSpec, error) {
	m := specRe.FindStringSubmatch(spec)
	if m == nil {
		return FileSpec{}, fmt.Errorf("invalid file spec: %s", spec)
	}
	fs := FileSpec{Path: m[1]}
	if len(m[1]) == len(spec) {
		return fs, nil
	}
	fs.HasRegion = true
	var err error
	if m[2] != "" {
		if fs.StartLine, err = strconv.Atoi(m[2]); err != nil {
			return FileSpec{}, fmt.Errorf("invalid start line: %s", m[2])
		}
	}
	if m[3] != "" {
		if fs.EndLine, err = strconv.Atoi(m[3]); err != nil {
			return FileSpec{}, fmt.Errorf("invalid end line: %s", m[3])
		}
	}
	return fs, nil
}

// ReadAttachments reads the files named by specs. Paths may be doublestar
// globs; a glob that matches nothing is skipped, a missing literal path is
// an error. Directories are ignored.
func ReadAttachments(specs []string) ([]Attachment, error) {
	var out []Attachment
	for _, raw := range specs {
		spec, err := ParseFileSpec(raw)
		if err != nil {
			return nil, err
		}
		path := expandHome(spec.Path)

		matches := []string{path}
		if strings.ContainsAny(path, "*?[{") {
			if matches, err = doublestar.FilepathGlob(path); err != nil {
				return nil, fmt.Errorf("invalid glob pattern %q: %w", spec.Path, err)
			}
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("failed to stat %q: %w", match, err)
			}
			if info.IsDir() {
				continue
			}
			data, err := os.ReadFile(match)
			if err != nil {
				return nil, fmt.Errorf("failed to read %q: %w", match, err)
			}
			a := Attachment{Path: match, Content: string(data)}
			if spec.HasRegion {
				a.Content = extractLines(a.Content, spec.StartLine, spec.EndLine)
				a.Path = fmt.Sprintf("%s:%d-%d", match, spec.StartLine, spec.EndLine)
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func extractLines(content string, startLine, endLine int) string {
	lines := strings.Split(content, "\n")
	start := 0
	if startLine > 0 {
		start = startLine - 1
	}
	end := len(lines)
	if endLine > 0 && endLine < end {
		end = endLine
	}
	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

// ReadStdin returns piped input, or "" when stdin is a terminal.
func ReadStdin() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	fi, err := os.Stdin.Stat()
	if err != nil || (fi.Mode()&os.ModeCharDevice) != 0 {
		return "", nil
	}
	return readAll(os.Stdin)
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

// Prompt builds the user message: the question followed by each
// attachment and stdin in delimited sections.
func Prompt(question string, files []Attachment, stdin string) llm.Message {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(question))

	section := func(header, footer, content string) {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(header)
		sb.WriteString("\n")
		sb.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(footer)
	}
	for _, f := range files {
		section("<<<<< FILE: "+f.Path+" >>>>>", "<<<<< END FILE >>>>>", f.Content)
	}
	if stdin != "" {
		section("<<<<< STDIN >>>>>", "<<<<< END STDIN >>>>>", stdin)
	}
	return llm.UserText(sb.String())
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
