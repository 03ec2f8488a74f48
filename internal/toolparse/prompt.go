package toolparse

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/samsaffron/chatcore/internal/llm"
)

// SystemPrompt describes the available tools and the markup used to call
// them, for models that are driven without native tool calling.
func SystemPrompt(specs []llm.ToolSpec) string {
	if len(specs) == 0 {
		return ""
	}
	sorted := append([]llm.ToolSpec(nil), specs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	sb.WriteString("You can use tools. To call a tool, write exactly:\n\n")
	sb.WriteString("<tool_use><name>TOOL_NAME</name><arguments>{\"param\": \"value\"}</arguments></tool_use>\n\n")
	sb.WriteString("Arguments must be a JSON object. Call one tool at a time and wait for its result, ")
	sb.WriteString("which arrives as <tool_use_result>. When the task is finished, call attempt_completion.\n\n")
	sb.WriteString("Available tools:\n")
	for _, spec := range sorted {
		fmt.Fprintf(&sb, "\n## %s\n", spec.Name)
		if spec.Description != "" {
			sb.WriteString(spec.Description)
			sb.WriteString("\n")
		}
		if len(spec.Schema) > 0 {
			if data, err := json.Marshal(spec.Schema); err == nil {
				fmt.Fprintf(&sb, "Parameters: %s\n", data)
			}
		}
	}
	return sb.String()
}

// FormatResult renders a tool result as text to feed back to the model.
func FormatResult(name, content string, isError bool) string {
	tag := "result"
	if isError {
		tag = "error"
	}
	return fmt.Sprintf("<tool_use_result>\n<name>%s</name>\n<%s>%s</%s>\n</tool_use_result>",
		html.EscapeString(name), tag, content, tag)
}
