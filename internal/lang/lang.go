// Package lang describes the languages a workspace can analyze and maps file
// extensions to them.
package lang

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/validation"
)

// Language bundles the grammar-specific collaborators of the analysis core.
type Language struct {
	ID         string
	Extensions []string
	Parser     document.Parser
	Reflection *ast.Reflection

	// CaseInsensitive selects case-insensitive name lookup.
	CaseInsensitive bool
	// IsNamespace marks containers whose contents are re-exposed under
	// qualified names. Nil means none.
	IsNamespace func(n *ast.Node) bool
	// RegisterChecks installs the language's built-in validation checks.
	RegisterChecks func(reg *validation.Registry)
}

// Registry maps language IDs and file extensions to languages.
type Registry struct {
	byID  map[string]*Language
	byExt map[string]*Language
}

// NewRegistry returns a registry of the given languages. Extensions claimed
// by more than one language are an error.
func NewRegistry(langs ...*Language) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]*Language, len(langs)),
		byExt: make(map[string]*Language),
	}
	for _, l := range langs {
		if _, dup := r.byID[l.ID]; dup {
			return nil, fmt.Errorf("lang: duplicate language %q", l.ID)
		}
		r.byID[l.ID] = l
		for _, ext := range l.Extensions {
			ext = strings.ToLower(ext)
			if other, dup := r.byExt[ext]; dup {
				return nil, fmt.Errorf("lang: extension %s claimed by %s and %s", ext, other.ID, l.ID)
			}
			r.byExt[ext] = l
		}
	}
	return r, nil
}

// ByID returns the language with the given ID.
func (r *Registry) ByID(id string) (*Language, bool) {
	l, ok := r.byID[id]
	return l, ok
}

// ForPath returns the language for a file path based on its extension.
func (r *Registry) ForPath(path string) (*Language, bool) {
	l, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// ForURI returns the language for a document URI.
func (r *Registry) ForURI(uri string) (*Language, bool) {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		return r.ForPath(u.Path)
	}
	return r.ForPath(uri)
}

// Parser returns the parser of a language ID.
func (r *Registry) Parser(id string) (document.Parser, bool) {
	l, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return l.Parser, true
}

// All returns the registered languages sorted by ID.
func (r *Registry) All() []*Language {
	out := make([]*Language, 0, len(r.byID))
	for _, l := range r.byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reflection merges the type tables of every registered language.
func (r *Registry) Reflection() *ast.Reflection {
	var rs []*ast.Reflection
	for _, l := range r.All() {
		rs = append(rs, l.Reflection)
	}
	return ast.MergeReflections(rs...)
}

// PathToURI converts a file path to a file:// URI.
func PathToURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// URIToPath converts a file:// URI back to a path. Other URIs are returned
// unchanged.
func URIToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	return filepath.FromSlash(u.Path)
}
