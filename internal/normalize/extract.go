package normalize

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\n(.*?)```")

// ExtractStructured pulls a typed JSON payload out of provider output.
// Attempts, in order: the normalized content parsed directly (result
// envelopes rejected), fenced code blocks, an object carrying a "project"
// key nearest the end of the text, any brace-delimited object, any
// bracket-delimited array. Returns false when nothing parses.
func ExtractStructured[T any](raw string) (T, bool) {
	var zero T

	content := Normalize(raw).Content
	if content == "" {
		return zero, false
	}

	if v, ok := tryParse[T](content); ok {
		return v, true
	}

	for _, match := range fencedBlockRe.FindAllStringSubmatch(content, -1) {
		if v, ok := tryParse[T](match[1]); ok {
			return v, true
		}
	}

	if candidate := objectAroundKey(content, `"project"`); candidate != "" {
		if v, ok := tryParse[T](candidate); ok {
			return v, true
		}
	}

	if candidate := delimitedSpan(content, '{', '}'); candidate != "" {
		if v, ok := tryParse[T](candidate); ok {
			return v, true
		}
	}

	if candidate := delimitedSpan(content, '[', ']'); candidate != "" {
		if v, ok := tryParse[T](candidate); ok {
			return v, true
		}
	}

	return zero, false
}

func tryParse[T any](text string) (T, bool) {
	var zero T
	text = strings.TrimSpace(text)
	if text == "" {
		return zero, false
	}

	// A result envelope is transport framing, not payload.
	var probe map[string]any
	if err := json.Unmarshal([]byte(text), &probe); err == nil && isResultEnvelope(probe) {
		return zero, false
	}

	var v T
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return zero, false
	}
	return v, true
}

// objectAroundKey finds the innermost balanced object enclosing the last
// occurrence of key.
func objectAroundKey(text, key string) string {
	idx := strings.LastIndex(text, key)
	if idx < 0 {
		return ""
	}
	depth := 0
	for i := idx; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return balancedSpan(text[i:], '{', '}')
			}
			depth--
		}
	}
	return ""
}

// delimitedSpan returns the first balanced open..close span in text.
func delimitedSpan(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return ""
	}
	return balancedSpan(text[start:], open, close)
}

// balancedSpan scans text (which must start with open) and returns the
// prefix up to the matching close delimiter, honoring JSON string quoting.
func balancedSpan(text string, open, close byte) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return ""
}

// ExtractProviderSessionID finds the provider-native session identifier in
// raw output, for resuming a provider conversation later. It prefers a
// top-level session_id / sessionId, then falls back to a depth-first search
// (including a nested session.id) across the value and across NDJSON lines.
// Returns "" when no identifier is present.
func ExtractProviderSessionID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	var values []any
	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		values = append(values, value)
	} else {
		for _, line := range strings.Split(trimmed, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(line), &v); err == nil {
				values = append(values, v)
			}
		}
	}

	// Plain top-level field wins over anything nested.
	for _, v := range values {
		if m, ok := v.(map[string]any); ok {
			if id := sessionIDField(m); id != "" {
				return id
			}
		}
	}
	for _, v := range values {
		if id := findSessionID(v); id != "" {
			return id
		}
	}
	return ""
}

func sessionIDField(m map[string]any) string {
	if id, _ := m["session_id"].(string); id != "" {
		return id
	}
	if id, _ := m["sessionId"].(string); id != "" {
		return id
	}
	return ""
}

func findSessionID(value any) string {
	switch v := value.(type) {
	case map[string]any:
		if id := sessionIDField(v); id != "" {
			return id
		}
		if session, ok := v["session"].(map[string]any); ok {
			if id, _ := session["id"].(string); id != "" {
				return id
			}
		}
		for _, child := range v {
			if id := findSessionID(child); id != "" {
				return id
			}
		}
	case []any:
		for _, child := range v {
			if id := findSessionID(child); id != "" {
				return id
			}
		}
	}
	return ""
}
