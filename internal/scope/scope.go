// Package scope computes which names are visible where, and resolves
// cross-references against those names.
package scope

import (
	"strings"

	"github.com/jward/trellis/internal/ast"
)

// Scope is a chained lookup over symbol descriptions.
type Scope interface {
	// Element returns the first description named name, consulting outer
	// scopes on a miss.
	Element(name string) *ast.Description
	// All returns every visible description, innermost first.
	All() []*ast.Description
}

type emptyScope struct{}

func (emptyScope) Element(string) *ast.Description { return nil }
func (emptyScope) All() []*ast.Description         { return nil }

// Empty is the scope containing nothing.
var Empty Scope = emptyScope{}

// StreamScope checks its elements in order before deferring to outer.
type StreamScope struct {
	elements        []*ast.Description
	outer           Scope
	caseInsensitive bool
}

// NewScope returns a scope over elements. outer may be nil.
func NewScope(elements []*ast.Description, outer Scope, caseInsensitive bool) *StreamScope {
	return &StreamScope{elements: elements, outer: outer, caseInsensitive: caseInsensitive}
}

func (s *StreamScope) Element(name string) *ast.Description {
	for _, d := range s.elements {
		if s.match(d.Name, name) {
			return d
		}
	}
	if s.outer != nil {
		return s.outer.Element(name)
	}
	return nil
}

func (s *StreamScope) All() []*ast.Description {
	out := append([]*ast.Description(nil), s.elements...)
	if s.outer != nil {
		out = append(out, s.outer.All()...)
	}
	return out
}

func (s *StreamScope) match(a, b string) bool {
	if s.caseInsensitive {
		return strings.EqualFold(a, b)
	}
	return a == b
}
