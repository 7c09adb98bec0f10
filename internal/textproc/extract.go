package textproc

import (
	"encoding/json"
)

const textField = "text"

// ExtractTexts parses text as JSON and returns the "text" values it carries.
//
// A top-level array contributes the field of every object element that has
// one; a top-level object contributes its own field. Any other shape, or a
// parse failure, yields no entries. String values are returned as-is, null is
// skipped, and other values are rendered as compact JSON.
func ExtractTexts(text string) []string {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil
	}

	var out []string
	switch value := doc.(type) {
	case []any:
		for _, entry := range value {
			if s, ok := fieldText(entry); ok {
				out = append(out, s)
			}
		}
	case map[string]any:
		if s, ok := fieldText(value); ok {
			out = append(out, s)
		}
	}
	return out
}

func fieldText(entry any) (string, bool) {
	obj, ok := entry.(map[string]any)
	if !ok {
		return "", false
	}
	raw, ok := obj[textField]
	if !ok || raw == nil {
		return "", false
	}
	if s, ok := raw.(string); ok {
		return s, true
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return "", false
	}
	return string(encoded), true
}
