// Package normalize turns heterogeneous provider output into displayable
// text. Providers emit anything from plain prose to single JSON envelopes,
// arrays of content blocks, or newline-delimited JSON streams; the functions
// here are pure and never fail — unparseable input degrades to verbatim text
// or a fixed human-readable message, not an error.
package normalize

import (
	"encoding/json"
	"strings"
)

// Fixed messages substituted for result envelopes that carry no text.
// Raw envelope fields (cost, usage, subtype) are never shown to the user.
const (
	MsgCompletedNoOutput = "Agent completed successfully (no textual output)."
	MsgFinishedWithError = "Agent finished with an error."
	MsgCompletedGeneric  = "Agent session completed without output."
)

// Result is the outcome of normalizing raw provider output.
type Result struct {
	Content string
	// Meta carries envelope attributes (type, subtype) when the input was a
	// recognized result envelope. Nil otherwise.
	Meta map[string]string
}

// Normalize extracts human-readable text from raw provider output.
//
// Accepted shapes: empty/whitespace, plain text, a single JSON value, an
// array of block objects, or newline-delimited JSON (non-JSON lines are
// ignored). Field precedence within a block: response, output, message,
// string content, text, string result (recursively re-normalized), object
// result, array content, candidates[].content.parts[].text.
func Normalize(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{}
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		return normalizeValue(value)
	}

	// Newline-delimited JSON: one value per line, prose lines skipped.
	var blocks []any
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(line), &v); err == nil {
			blocks = append(blocks, v)
		}
	}
	if len(blocks) > 0 {
		return normalizeValue(blocks)
	}

	// Plain non-JSON text is returned as-is.
	return Result{Content: trimmed}
}

func normalizeValue(value any) Result {
	switch v := value.(type) {
	case []any:
		var parts []string
		for _, item := range v {
			if text := extractBlockText(item); text != "" {
				parts = append(parts, text)
			}
		}
		if len(parts) > 0 {
			return Result{Content: strings.Join(parts, "\n\n")}
		}
		// An all-envelope stream still deserves the envelope treatment.
		for i := len(v) - 1; i >= 0; i-- {
			if m, ok := v[i].(map[string]any); ok && isResultEnvelope(m) {
				return envelopeResult(m)
			}
		}
		return Result{Content: prettyDump(v)}

	case map[string]any:
		if text := extractBlockText(v); text != "" {
			return Result{Content: text}
		}
		if isResultEnvelope(v) {
			return envelopeResult(v)
		}
		// Unexpected shape with no text: surface the structure so the user
		// can see what the provider actually sent.
		return Result{Content: prettyDump(v)}

	case string:
		return Result{Content: strings.TrimSpace(v)}

	default:
		return Result{Content: prettyDump(v)}
	}
}

// extractBlockText applies the field precedence order to one block.
// Returns "" when the block yields no text.
func extractBlockText(value any) string {
	block, ok := value.(map[string]any)
	if !ok {
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}

	if s := stringField(block, "response"); s != "" {
		return s
	}
	if s := stringField(block, "output"); s != "" {
		return s
	}
	switch msg := block["message"].(type) {
	case string:
		if s := strings.TrimSpace(msg); s != "" {
			return s
		}
	case map[string]any:
		if s := extractBlockText(msg); s != "" {
			return s
		}
	}
	if s, ok := block["content"].(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	if s := stringField(block, "text"); s != "" {
		return s
	}
	// Providers often nest a JSON-encoded payload inside "result", so a
	// string result goes through Normalize again.
	switch result := block["result"].(type) {
	case string:
		if s := strings.TrimSpace(result); s != "" {
			return Normalize(s).Content
		}
	case map[string]any:
		if s := extractBlockText(result); s != "" {
			return s
		}
	}
	if items, ok := block["content"].([]any); ok {
		var parts []string
		for _, item := range items {
			if s := extractBlockText(item); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	if s := extractCandidates(block); s != "" {
		return s
	}
	return ""
}

// extractCandidates handles the candidates[].content.parts[].text shape.
func extractCandidates(block map[string]any) string {
	candidates, ok := block["candidates"].([]any)
	if !ok {
		return ""
	}
	var texts []string
	for _, c := range candidates {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		content, ok := cm["content"].(map[string]any)
		if !ok {
			continue
		}
		parts, ok := content["parts"].([]any)
		if !ok {
			continue
		}
		var partTexts []string
		for _, p := range parts {
			if pm, ok := p.(map[string]any); ok {
				if s := stringField(pm, "text"); s != "" {
					partTexts = append(partTexts, s)
				}
			}
		}
		if len(partTexts) > 0 {
			texts = append(texts, strings.Join(partTexts, "\n"))
		}
	}
	return strings.Join(texts, "\n\n")
}

func isResultEnvelope(m map[string]any) bool {
	t, _ := m["type"].(string)
	return t == "result"
}

// envelopeResult maps a textless result envelope to a fixed human message.
func envelopeResult(m map[string]any) Result {
	subtype, _ := m["subtype"].(string)
	meta := map[string]string{"type": "result", "subtype": subtype}

	switch subtype {
	case "success":
		return Result{Content: MsgCompletedNoOutput, Meta: meta}
	case "error":
		content := MsgFinishedWithError
		if errText, _ := m["error"].(string); errText != "" {
			content += "\n\n" + errText
		}
		return Result{Content: content, Meta: meta}
	default:
		return Result{Content: MsgCompletedGeneric, Meta: meta}
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func prettyDump(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
