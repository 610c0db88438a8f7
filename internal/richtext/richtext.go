// Package richtext models the page-body content format as an opaque JSON
// node tree. Only the subset the executor and snapshotter touch is given
// structure; unknown node types pass through untouched.
package richtext

import (
	"encoding/json"
	"strings"
)

// Node is one node of the rich-text document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is a text formatting annotation.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Parse decodes a serialized document. Empty input yields an empty doc
// rather than an error, since fresh pages have no body yet.
func Parse(raw string) (Node, error) {
	if strings.TrimSpace(raw) == "" {
		return NewDoc(), nil
	}
	var n Node
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return Node{}, err
	}
	if n.Type == "" {
		n.Type = "doc"
	}
	return n, nil
}

// NewDoc returns an empty document root.
func NewDoc() Node {
	return Node{Type: "doc"}
}

// Marshal serializes the document.
func (n Node) Marshal() (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PlainText flattens every text leaf under n, joining block-level nodes
// with newlines.
func (n Node) PlainText() string {
	var b strings.Builder
	n.appendText(&b)
	return strings.TrimSpace(b.String())
}

func (n Node) appendText(b *strings.Builder) {
	if n.Text != "" {
		b.WriteString(n.Text)
	}
	for _, c := range n.Content {
		c.appendText(b)
	}
	switch n.Type {
	case "paragraph", "heading", "tableRow", "listItem", "codeBlock":
		b.WriteString("\n")
	}
}

// Paragraph builds a single-paragraph block from plain text.
func Paragraph(text string) Node {
	if text == "" {
		return Node{Type: "paragraph"}
	}
	return Node{
		Type:    "paragraph",
		Content: []Node{{Type: "text", Text: text}},
	}
}

// Headers returns the text of each header cell in the table's first row,
// or nil if the node is not a table with a header row.
func (n Node) Headers() []string {
	if n.Type != "table" || len(n.Content) == 0 {
		return nil
	}
	row := n.Content[0]
	if row.Type != "tableRow" {
		return nil
	}
	headers := make([]string, 0, len(row.Content))
	for _, cell := range row.Content {
		if cell.Type != "tableHeader" && cell.Type != "tableCell" {
			return nil
		}
		headers = append(headers, cell.PlainText())
	}
	return headers
}

// FindTable locates the first table under the document root whose header
// row matches headers exactly, in order. Returns its index in the root's
// content, or -1.
func FindTable(doc Node, headers []string) int {
	for i, child := range doc.Content {
		if child.Type != "table" {
			continue
		}
		got := child.Headers()
		if len(got) != len(headers) {
			continue
		}
		match := true
		for j := range headers {
			if got[j] != headers[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// BuildTable constructs a table node with a header row and one row per
// entry in rows. Short rows are padded with empty cells.
func BuildTable(headers []string, rows [][]string) Node {
	table := Node{Type: "table"}

	header := Node{Type: "tableRow"}
	for _, h := range headers {
		header.Content = append(header.Content, cell("tableHeader", h))
	}
	table.Content = append(table.Content, header)

	for _, row := range rows {
		table.Content = append(table.Content, buildRow(row, len(headers)))
	}
	return table
}

// AppendRows adds data rows to an existing table node, padding or
// trimming each row to the table's column count.
func AppendRows(table *Node, rows [][]string) {
	width := len(table.Headers())
	for _, row := range rows {
		table.Content = append(table.Content, buildRow(row, width))
	}
}

func buildRow(values []string, width int) Node {
	row := Node{Type: "tableRow"}
	for i := 0; i < width; i++ {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		row.Content = append(row.Content, cell("tableCell", v))
	}
	return row
}

func cell(kind, text string) Node {
	c := Node{Type: kind}
	if text != "" {
		c.Content = []Node{Paragraph(text)}
	} else {
		c.Content = []Node{{Type: "paragraph"}}
	}
	return c
}
