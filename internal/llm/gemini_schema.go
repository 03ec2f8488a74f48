package llm

// geminiUnsupportedKeys are JSON Schema keywords the Gemini API rejects in
// function parameters. MCP servers commonly emit them.
var geminiUnsupportedKeys = []string{
	"$schema",
	"$id",
	"format",
	"exclusiveMinimum",
	"exclusiveMaximum",
	"pattern",
	"examples",
	"const",
	"additionalProperties",
	"title",
}

// normalizeSchemaForGemini returns a copy of schema without keywords the
// Gemini API rejects. The input is not modified; it is shared with the
// registry.
func normalizeSchemaForGemini(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return normalizeGeminiSchema(geminiDeepCopyMap(schema))
}

func normalizeGeminiSchema(schema map[string]any) map[string]any {
	for _, key := range geminiUnsupportedKeys {
		delete(schema, key)
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for name, val := range props {
			if prop, ok := val.(map[string]any); ok {
				props[name] = normalizeGeminiSchema(prop)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		schema["items"] = normalizeGeminiSchema(items)
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := schema[key].([]any); ok {
			for i, item := range arr {
				if sub, ok := item.(map[string]any); ok {
					arr[i] = normalizeGeminiSchema(sub)
				}
			}
		}
	}
	return schema
}

func geminiDeepCopyMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = geminiDeepCopyValue(v)
	}
	return result
}

func geminiDeepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return geminiDeepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = geminiDeepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
