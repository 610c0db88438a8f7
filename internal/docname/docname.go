// Package docname parses logical document names into typed references.
//
// Clients address documents by string name ("space-<id>", "method-<id>", ...).
// The name is parsed exactly once at the connection boundary; everything past
// that point works with a Ref.
package docname

import (
	"fmt"
	"strings"
)

// Kind identifies the type of a replicated document.
type Kind string

const (
	KindSpace    Kind = "SPACE"
	KindCanvas   Kind = "CANVAS"
	KindEditor   Kind = "EDITOR"
	KindSkill    Kind = "SKILL"
	KindSkillRun Kind = "SKILL_RUN"
)

// Ref is a parsed document reference.
type Ref struct {
	Kind     Kind
	PublicID string
}

// Name renders the canonical document name for the ref.
func (r Ref) Name() string {
	switch r.Kind {
	case KindSpace:
		return "space-" + r.PublicID
	case KindCanvas:
		return "node-graph-" + r.PublicID
	case KindEditor:
		return "node-editor-" + r.PublicID
	case KindSkill:
		return "method-" + r.PublicID
	case KindSkillRun:
		return "method-run-" + r.PublicID
	}
	return r.PublicID
}

// String implements fmt.Stringer.
func (r Ref) String() string { return r.Name() }

// ResourceKind returns the backend resource segment used in permission
// lookups for this document kind.
func (r Ref) ResourceKind() string {
	switch r.Kind {
	case KindSpace:
		return "spaces"
	case KindSkill, KindSkillRun:
		return "methods"
	default:
		return "nodes"
	}
}

// ErrUnknownName is returned for document names with no recognized prefix.
type ErrUnknownName struct {
	Name string
}

func (e *ErrUnknownName) Error() string {
	return fmt.Sprintf("unknown document name %q", e.Name)
}

// Parse converts a document name into a Ref. Connections naming an unknown
// document are rejected before any load or store is attempted.
func Parse(name string) (Ref, error) {
	// method-run- must be checked before method-.
	prefixes := []struct {
		prefix string
		kind   Kind
	}{
		{"space-", KindSpace},
		{"node-graph-", KindCanvas},
		{"node-editor-", KindEditor},
		{"method-run-", KindSkillRun},
		{"method-", KindSkill},
	}

	for _, p := range prefixes {
		if strings.HasPrefix(name, p.prefix) {
			id := strings.TrimPrefix(name, p.prefix)
			if id == "" {
				return Ref{}, &ErrUnknownName{Name: name}
			}
			return Ref{Kind: p.kind, PublicID: id}, nil
		}
	}

	return Ref{}, &ErrUnknownName{Name: name}
}
