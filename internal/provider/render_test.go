package provider

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPaperMarkdown(t *testing.T) {
	md := PaperMarkdown(Paper{
		Title:          "Attention Is All You Need",
		Year:           2017,
		CitationCount:  90000,
		ReferenceCount: 42,
		IsOpenAccess:   true,
		Authors:        []string{"Vaswani", "Shazeer"},
		URL:            "https://example.org/paper",
		Abstract:       "We propose the Transformer.",
	})

	for _, want := range []string{
		"**Year:** 2017",
		"**Citations:** 90000",
		"**References:** 42",
		"**Open access:** yes",
		"**Authors:** Vaswani, Shazeer",
		"[Link](https://example.org/paper)",
		"We propose the Transformer.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestRenderQAMarkdownSession(t *testing.T) {
	raw := json.RawMessage(`{
		"question": "What is attention?",
		"answer": "A weighting mechanism.",
		"evidence": [{"text": "Attention weighs tokens.", "paper": "Vaswani 2017"}]
	}`)

	md := RenderQAMarkdown(raw)
	if !strings.Contains(md, "**Question:** What is attention?") {
		t.Errorf("missing question:\n%s", md)
	}
	if !strings.Contains(md, "A weighting mechanism.") {
		t.Errorf("missing answer:\n%s", md)
	}
	if !strings.Contains(md, "> Attention weighs tokens.") {
		t.Errorf("missing evidence quote:\n%s", md)
	}
}

func TestRenderQAMarkdownPairFallback(t *testing.T) {
	raw := json.RawMessage(`[
		{"key": "context", "value": "ignored"},
		{"key": "Answer", "value": "From the pair array."}
	]`)

	if got := RenderQAMarkdown(raw); got != "From the pair array." {
		t.Fatalf("pair fallback = %q", got)
	}
}

func TestRenderQAMarkdownRawDump(t *testing.T) {
	raw := json.RawMessage(`{"unexpected": true}`)

	md := RenderQAMarkdown(raw)
	if !strings.HasPrefix(md, "```json") || !strings.Contains(md, `"unexpected"`) {
		t.Fatalf("raw dump fallback wrong:\n%s", md)
	}
}
