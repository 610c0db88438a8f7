package docname

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		wantKind Kind
		wantID   string
	}{
		{"space-abc123", KindSpace, "abc123"},
		{"node-graph-n1", KindCanvas, "n1"},
		{"node-editor-n1", KindEditor, "n1"},
		{"method-m1", KindSkill, "m1"},
		{"method-run-r1", KindSkillRun, "r1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := Parse(tt.name)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.name, err)
			}
			if ref.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", ref.Kind, tt.wantKind)
			}
			if ref.PublicID != tt.wantID {
				t.Errorf("public id = %q, want %q", ref.PublicID, tt.wantID)
			}
			if ref.Name() != tt.name {
				t.Errorf("Name() = %q, want %q", ref.Name(), tt.name)
			}
		})
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	for _, name := range []string{"", "bogus-abc", "space-", "method-", "spacex-1"} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(name)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", name)
			}
			var unknown *ErrUnknownName
			if !errors.As(err, &unknown) {
				t.Errorf("error type = %T, want *ErrUnknownName", err)
			}
		})
	}
}

func TestMethodRunBeforeMethod(t *testing.T) {
	ref, err := Parse("method-run-55")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ref.Kind != KindSkillRun {
		t.Errorf("kind = %q, want %q", ref.Kind, KindSkillRun)
	}
	if ref.PublicID != "55" {
		t.Errorf("public id = %q, want %q", ref.PublicID, "55")
	}
}
