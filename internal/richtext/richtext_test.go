package richtext

import "testing"

func TestParseEmpty(t *testing.T) {
	doc, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Type != "doc" || len(doc.Content) != 0 {
		t.Fatalf("expected empty doc, got %+v", doc)
	}
}

func TestParseRoundTrip(t *testing.T) {
	doc := NewDoc()
	doc.Content = append(doc.Content, Paragraph("hello"))

	raw, err := doc.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := back.PlainText(); got != "hello" {
		t.Fatalf("PlainText = %q, want %q", got, "hello")
	}
}

func TestBuildTableHeaders(t *testing.T) {
	table := BuildTable([]string{"Title", "Year"}, [][]string{{"A", "2001"}})
	got := table.Headers()
	if len(got) != 2 || got[0] != "Title" || got[1] != "Year" {
		t.Fatalf("Headers = %v", got)
	}
	if len(table.Content) != 2 {
		t.Fatalf("expected header row + 1 data row, got %d rows", len(table.Content))
	}
}

func TestFindTableExactHeaderMatch(t *testing.T) {
	doc := NewDoc()
	doc.Content = append(doc.Content,
		Paragraph("intro"),
		BuildTable([]string{"Name"}, nil),
		BuildTable([]string{"Title", "Year"}, nil),
	)

	if idx := FindTable(doc, []string{"Title", "Year"}); idx != 2 {
		t.Fatalf("FindTable = %d, want 2", idx)
	}
	if idx := FindTable(doc, []string{"Title"}); idx != -1 {
		t.Fatalf("partial header match should miss, got %d", idx)
	}
	if idx := FindTable(doc, []string{"Year", "Title"}); idx != -1 {
		t.Fatalf("order must matter, got %d", idx)
	}
}

func TestAppendRowsPadsShortRows(t *testing.T) {
	table := BuildTable([]string{"A", "B", "C"}, nil)
	AppendRows(&table, [][]string{{"1"}, {"1", "2", "3", "4"}})

	if len(table.Content) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(table.Content))
	}
	for i, row := range table.Content[1:] {
		if len(row.Content) != 3 {
			t.Fatalf("row %d has %d cells, want 3", i, len(row.Content))
		}
	}
}
