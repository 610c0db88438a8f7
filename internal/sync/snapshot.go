package sync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mindloom/mindloom/internal/docname"
	"github.com/mindloom/mindloom/internal/replica"
	"github.com/mindloom/mindloom/internal/richtext"
)

// Snapshot derives the queryable JSON projection persisted next to the
// binary replica state. The shape depends on the document kind.
func Snapshot(ref docname.Ref, doc *replica.Doc) ([]byte, error) {
	switch ref.Kind {
	case docname.KindSpace:
		return snapshotSpace(doc)
	case docname.KindCanvas:
		return snapshotCanvas(doc)
	case docname.KindEditor:
		return snapshotEditor(doc)
	case docname.KindSkill, docname.KindSkillRun:
		return snapshotSkill(doc)
	}
	return nil, fmt.Errorf("no snapshot projection for kind %q", ref.Kind)
}

// snapshotSpace projects the space's title map: node id to title.
func snapshotSpace(doc *replica.Doc) ([]byte, error) {
	titles := make(map[string]string)
	m := doc.Map("nodes")
	for _, key := range m.Keys() {
		var entry struct {
			Title string `json:"title"`
		}
		ok, err := m.GetJSON(key, &entry)
		if err != nil {
			return nil, err
		}
		if ok {
			titles[key] = entry.Title
		}
	}
	return json.Marshal(map[string]any{"nodes": titles})
}

// snapshotCanvas projects the nodes and edges maps verbatim.
func snapshotCanvas(doc *replica.Doc) ([]byte, error) {
	out := make(map[string]any, 2)
	for _, name := range []string{"nodes", "edges"} {
		entries, err := mapEntries(doc.Map(name))
		if err != nil {
			return nil, err
		}
		out[name] = entries
	}
	return json.Marshal(out)
}

// snapshotEditor parses the page body into its rich-text tree.
func snapshotEditor(doc *replica.Doc) ([]byte, error) {
	raw, err := doc.GetText("document")
	if err != nil {
		raw = ""
	}
	tree, err := richtext.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("editor body is not valid rich text: %w", err)
	}
	return json.Marshal(map[string]any{"document": tree})
}

// snapshotSkill walks every root key of the skill document: maps become
// JSON objects, text fragments become strings. Empty page bodies are
// omitted.
func snapshotSkill(doc *replica.Doc) ([]byte, error) {
	out := make(map[string]any)
	for _, key := range doc.Keys() {
		switch doc.KindOf(key) {
		case replica.EntryMap:
			entries, err := mapEntries(doc.Map(key))
			if err != nil {
				return nil, err
			}
			out[key] = entries
		case replica.EntryText:
			text, err := doc.GetText(key)
			if err != nil {
				return nil, err
			}
			if strings.HasSuffix(key, "-document") && text == "" {
				continue
			}
			out[key] = text
		}
	}
	return json.Marshal(out)
}

// mapEntries decodes every value of a replica map, keeping each as raw
// JSON so the projection mirrors the stored shape.
func mapEntries(m *replica.Map) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for _, key := range m.Keys() {
		raw, ok, err := m.Raw(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if json.Valid([]byte(raw)) {
			out[key] = json.RawMessage(raw)
			continue
		}
		quoted, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		out[key] = quoted
	}
	return out, nil
}
