package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PaperMarkdown renders one search hit with the fixed card template the
// canvas shows for papers.
func PaperMarkdown(p Paper) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Year:** %d\n\n", p.Year)
	fmt.Fprintf(&b, "**Citations:** %d\n\n", p.CitationCount)
	fmt.Fprintf(&b, "**References:** %d\n\n", p.ReferenceCount)

	access := "no"
	if p.IsOpenAccess {
		access = "yes"
	}
	fmt.Fprintf(&b, "**Open access:** %s\n\n", access)

	if len(p.Authors) > 0 {
		fmt.Fprintf(&b, "**Authors:** %s\n\n", strings.Join(p.Authors, ", "))
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "[Link](%s)\n\n", p.URL)
	}
	if p.Abstract != "" {
		fmt.Fprintf(&b, "%s\n", p.Abstract)
	}
	return strings.TrimRight(b.String(), "\n")
}

// qaSession is the structured shape the Q&A provider answers with when it
// behaves.
type qaSession struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Evidence []struct {
		Text  string `json:"text"`
		Paper string `json:"paper"`
	} `json:"evidence"`
}

// RenderQAMarkdown turns a Q&A provider response into markdown. Three
// layers: the structured session shape, then a generic key/value-pair
// array scanned for an "answer" entry, then a raw JSON dump. Each layer
// only fires when the previous one cannot read the payload.
func RenderQAMarkdown(raw json.RawMessage) string {
	var session qaSession
	if err := json.Unmarshal(raw, &session); err == nil && session.Answer != "" {
		var b strings.Builder
		if session.Question != "" {
			fmt.Fprintf(&b, "**Question:** %s\n\n", session.Question)
		}
		fmt.Fprintf(&b, "%s\n", session.Answer)
		for _, ev := range session.Evidence {
			if ev.Text == "" {
				continue
			}
			fmt.Fprintf(&b, "\n> %s", ev.Text)
			if ev.Paper != "" {
				fmt.Fprintf(&b, "\n> — %s", ev.Paper)
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}

	var pairs []struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &pairs); err == nil {
		for _, p := range pairs {
			if !strings.EqualFold(p.Key, "answer") {
				continue
			}
			var s string
			if err := json.Unmarshal(p.Value, &s); err == nil && s != "" {
				return s
			}
			return string(p.Value)
		}
	}

	var pretty strings.Builder
	pretty.WriteString("```json\n")
	var buf json.RawMessage = raw
	if indented, err := json.MarshalIndent(buf, "", "  "); err == nil {
		pretty.Write(indented)
	} else {
		pretty.Write(raw)
	}
	pretty.WriteString("\n```")
	return pretty.String()
}
