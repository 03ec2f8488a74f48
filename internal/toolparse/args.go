package toolparse

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeArguments turns the argument text of a tool call into a JSON object.
// Strict JSON is tried first; otherwise the text is read as a relaxed object
// such as {city: Paris} or {city:Paris}. Empty input means no arguments.
func DecodeArguments(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage("{}"), nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		if obj == nil {
			return nil, fmt.Errorf("arguments must be an object")
		}
		return json.RawMessage(s), nil
	}

	if err := yaml.Unmarshal([]byte(relax(s)), &obj); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("arguments must be an object")
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	return out, nil
}

// relax adds the space YAML flow mappings need after a key's colon.
// Only the first colon after '{' or ',' is touched, so values such as
// URLs keep theirs.
func relax(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	var quote byte
	expectKey := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		sb.WriteByte(c)
		switch {
		case quote != 0:
			if c == '\\' && i+1 < len(s) {
				i++
				sb.WriteByte(s[i])
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '{' || c == ',':
			expectKey = true
		case c == ':' && expectKey:
			expectKey = false
			if i+1 < len(s) && s[i+1] != ' ' {
				sb.WriteByte(' ')
			}
		}
	}
	return sb.String()
}
