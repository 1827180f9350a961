package scope

import (
	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
)

// SymbolSource is the global symbol index as seen by scope resolution.
type SymbolSource interface {
	AllSymbols(typeFilter string) []*ast.Description
}

// DocumentLookup finds tracked documents by URI.
type DocumentLookup interface {
	Get(uri string) *document.Document
}

// Provider builds the scope visible at a reference site.
type Provider struct {
	reflection      *ast.Reflection
	symbols         SymbolSource
	docs            DocumentLookup
	caseInsensitive bool
}

// NewProvider returns a Provider. caseInsensitive selects name comparison for
// the language the provider serves.
func NewProvider(reflection *ast.Reflection, symbols SymbolSource, docs DocumentLookup, caseInsensitive bool) *Provider {
	return &Provider{
		reflection:      reflection,
		symbols:         symbols,
		docs:            docs,
		caseInsensitive: caseInsensitive,
	}
}

// ScopeFor returns the scope for resolving ref. Layers are the precomputed
// local scopes of the reference's container and each of its ancestors,
// innermost first, followed by the global index. Every layer is filtered to
// the reference's expected type.
func (p *Provider) ScopeFor(ref *ast.Reference) Scope {
	refType := p.reflection.ReferenceType(ref)
	result := Scope(p.GlobalScope(refType))

	var precomputed document.LocalScopes
	if ref.Container != nil {
		if doc := p.docs.Get(ref.Container.DocumentURI()); doc != nil {
			precomputed = doc.LocalScopes
		}
	}
	if precomputed == nil {
		return result
	}

	var levels [][]*ast.Description
	for cur := ref.Container; cur != nil; cur = cur.Container {
		var level []*ast.Description
		for _, d := range precomputed[cur] {
			if p.reflection.IsSubtype(d.Type, refType) {
				level = append(level, d)
			}
		}
		if len(level) > 0 {
			levels = append(levels, level)
		}
	}
	for i := len(levels) - 1; i >= 0; i-- {
		result = NewScope(levels[i], result, p.caseInsensitive)
	}
	return result
}

// GlobalScope returns the index's symbols compatible with refType. The scope
// reads the slice the index returns without copying it.
func (p *Provider) GlobalScope(refType string) *StreamScope {
	return NewScope(p.symbols.AllSymbols(refType), nil, p.caseInsensitive)
}
