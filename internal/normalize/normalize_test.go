package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmpty(t *testing.T) {
	assert.Equal(t, "", Normalize("").Content)
	assert.Equal(t, "", Normalize("   \n\t  ").Content)
}

func TestNormalizePlainText(t *testing.T) {
	res := Normalize("  Just some prose output.\nSecond line.  ")
	assert.Equal(t, "Just some prose output.\nSecond line.", res.Content)
	assert.Nil(t, res.Meta)
}

func TestNormalizeResponseField(t *testing.T) {
	res := Normalize(`{"response": "Tech check markdown response"}`)
	assert.Equal(t, "Tech check markdown response", res.Content)
}

func TestNormalizeFieldPrecedence(t *testing.T) {
	// response beats output beats message beats text.
	res := Normalize(`{"response": "winner", "output": "loser", "message": "loser", "text": "loser"}`)
	assert.Equal(t, "winner", res.Content)

	res = Normalize(`{"output": "from output", "text": "loser"}`)
	assert.Equal(t, "from output", res.Content)

	res = Normalize(`{"message": "from message"}`)
	assert.Equal(t, "from message", res.Content)
}

func TestNormalizeNestedMessageObject(t *testing.T) {
	res := Normalize(`{"message": {"content": [{"type": "text", "text": "nested block"}]}}`)
	assert.Equal(t, "nested block", res.Content)
}

func TestNormalizeStringContent(t *testing.T) {
	res := Normalize(`{"content": "direct content"}`)
	assert.Equal(t, "direct content", res.Content)
}

func TestNormalizeArrayContentJoined(t *testing.T) {
	res := Normalize(`{"content": [{"text": "first"}, {"text": "second"}]}`)
	assert.Equal(t, "first\nsecond", res.Content)
}

func TestNormalizeStringResultRecurses(t *testing.T) {
	// A JSON-encoded payload inside "result" gets normalized again.
	res := Normalize(`{"type": "result", "subtype": "success", "result": "{\"response\": \"inner text\"}"}`)
	assert.Equal(t, "inner text", res.Content)
}

func TestNormalizeCandidates(t *testing.T) {
	raw := `{"candidates": [{"content": {"parts": [{"text": "part one"}, {"text": "part two"}]}}]}`
	res := Normalize(raw)
	assert.Equal(t, "part one\npart two", res.Content)
}

func TestNormalizeResultEnvelopeSuccess(t *testing.T) {
	raw := `{"type": "result", "subtype": "success", "duration_ms": 1200, "total_cost_usd": 0.031, "usage": {"input_tokens": 9}}`
	res := Normalize(raw)
	assert.Equal(t, MsgCompletedNoOutput, res.Content)
	// Envelope internals never leak to the user.
	assert.NotContains(t, res.Content, "{")
	assert.NotContains(t, res.Content, "cost")
	require.NotNil(t, res.Meta)
	assert.Equal(t, "success", res.Meta["subtype"])
}

func TestNormalizeResultEnvelopeError(t *testing.T) {
	res := Normalize(`{"type": "result", "subtype": "error", "error": "credit balance too low"}`)
	assert.Equal(t, MsgFinishedWithError+"\n\ncredit balance too low", res.Content)
}

func TestNormalizeResultEnvelopeUnknownSubtype(t *testing.T) {
	res := Normalize(`{"type": "result", "subtype": "interrupted"}`)
	assert.Equal(t, MsgCompletedGeneric, res.Content)
}

func TestNormalizeNDJSON(t *testing.T) {
	raw := strings.Join([]string{
		`{"type": "system", "session_id": "abc"}`,
		`{"message": {"content": [{"type": "text", "text": "streamed answer"}]}}`,
		`{"type": "result", "subtype": "success"}`,
	}, "\n")
	res := Normalize(raw)
	assert.Equal(t, "streamed answer", res.Content)
}

func TestNormalizeNDJSONAllEnvelopes(t *testing.T) {
	raw := `{"type": "result", "subtype": "success"}` + "\n" + `{"type": "result", "subtype": "error", "error": "boom"}`
	res := Normalize(raw)
	assert.Equal(t, MsgFinishedWithError+"\n\nboom", res.Content)
}

func TestNormalizeNDJSONSkipsProseLines(t *testing.T) {
	raw := "warming up...\n" + `{"output": "real output"}` + "\nnot json either"
	res := Normalize(raw)
	assert.Equal(t, "real output", res.Content)
}

func TestNormalizeUnrecognizedObjectDumped(t *testing.T) {
	res := Normalize(`{"weird": 42, "shape": true}`)
	assert.Contains(t, res.Content, `"weird"`)
	assert.Contains(t, res.Content, "42")
}

func TestNormalizeBlankFieldsSkipped(t *testing.T) {
	res := Normalize(`{"response": "   ", "output": "fallback wins"}`)
	assert.Equal(t, "fallback wins", res.Content)
}

type projectPayload struct {
	Project struct {
		Name string `json:"name"`
	} `json:"project"`
}

func TestExtractStructuredDirect(t *testing.T) {
	v, ok := ExtractStructured[projectPayload](`{"project": {"name": "orc"}}`)
	require.True(t, ok)
	assert.Equal(t, "orc", v.Project.Name)
}

func TestExtractStructuredRejectsEnvelope(t *testing.T) {
	type envelope struct {
		Type string `json:"type"`
	}
	_, ok := ExtractStructured[envelope](`{"type": "result", "subtype": "success"}`)
	assert.False(t, ok)
}

func TestExtractStructuredFencedBlock(t *testing.T) {
	raw := "Here is the plan:\n\n```json\n{\"project\": {\"name\": \"fenced\"}}\n```\n\nDone."
	v, ok := ExtractStructured[projectPayload](raw)
	require.True(t, ok)
	assert.Equal(t, "fenced", v.Project.Name)
}

func TestExtractStructuredProjectKeyNearEnd(t *testing.T) {
	raw := `Some preamble with a stray { brace. Final answer: {"project": {"name": "tail"}, "ok": true}`
	v, ok := ExtractStructured[projectPayload](raw)
	require.True(t, ok)
	assert.Equal(t, "tail", v.Project.Name)
}

func TestExtractStructuredBraceDelimited(t *testing.T) {
	type verdict struct {
		Approved bool `json:"approved"`
	}
	raw := `The verdict follows. {"approved": true} End of transmission.`
	v, ok := ExtractStructured[verdict](raw)
	require.True(t, ok)
	assert.True(t, v.Approved)
}

func TestExtractStructuredBracketDelimited(t *testing.T) {
	raw := `Items found: ["alpha", "beta"] and nothing else.`
	v, ok := ExtractStructured[[]string](raw)
	require.True(t, ok)
	assert.Equal(t, []string{"alpha", "beta"}, v)
}

func TestExtractStructuredNothing(t *testing.T) {
	_, ok := ExtractStructured[projectPayload]("plain prose with no structure at all")
	assert.False(t, ok)
}

func TestExtractStructuredQuotedBraces(t *testing.T) {
	type payload struct {
		Note string `json:"note"`
	}
	raw := `prefix {"note": "braces in strings } are fine"} suffix`
	v, ok := ExtractStructured[payload](raw)
	require.True(t, ok)
	assert.Equal(t, "braces in strings } are fine", v.Note)
}

func TestExtractProviderSessionIDTopLevel(t *testing.T) {
	assert.Equal(t, "sess-1", ExtractProviderSessionID(`{"session_id": "sess-1"}`))
	assert.Equal(t, "sess-2", ExtractProviderSessionID(`{"sessionId": "sess-2"}`))
}

func TestExtractProviderSessionIDNested(t *testing.T) {
	assert.Equal(t, "deep", ExtractProviderSessionID(`{"meta": {"session_id": "deep"}}`))
	assert.Equal(t, "dotted", ExtractProviderSessionID(`{"session": {"id": "dotted"}}`))
}

func TestExtractProviderSessionIDPrefersTopLevel(t *testing.T) {
	raw := `{"nested": {"session_id": "inner"}, "session_id": "outer"}`
	assert.Equal(t, "outer", ExtractProviderSessionID(raw))
}

func TestExtractProviderSessionIDNDJSON(t *testing.T) {
	raw := `{"type": "tool_use"}` + "\n" + `{"type": "system", "session_id": "from-stream"}`
	assert.Equal(t, "from-stream", ExtractProviderSessionID(raw))
}

func TestExtractProviderSessionIDMissing(t *testing.T) {
	assert.Equal(t, "", ExtractProviderSessionID(`{"no": "id here"}`))
	assert.Equal(t, "", ExtractProviderSessionID("plain text"))
	assert.Equal(t, "", ExtractProviderSessionID(""))
}
