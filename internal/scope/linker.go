package scope

import (
	"context"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/cancel"
	"github.com/jward/trellis/internal/document"
)

// Linker resolves every cross-reference of a document.
type Linker struct {
	provider   *Provider
	reflection *ast.Reflection
	docs       DocumentLookup
	interrupt  *cancel.Interrupter
}

// NewLinker returns a Linker resolving through provider.
func NewLinker(provider *Provider, docs DocumentLookup, interrupt *cancel.Interrupter) *Linker {
	return &Linker{
		provider:   provider,
		reflection: provider.reflection,
		docs:       docs,
		interrupt:  interrupt,
	}
}

// Link resolves the document's references and records them on the document.
// Names that cannot be resolved become linking errors on the reference.
func (l *Linker) Link(ctx context.Context, doc *document.Document) error {
	l.Unlink(doc)
	root := doc.Root()
	if root == nil {
		return nil
	}
	var refs []*ast.Reference
	var err error
	ast.Walk(root, func(n *ast.Node) bool {
		if err != nil {
			return false
		}
		if err = l.interrupt.Check(ctx); err != nil {
			return false
		}
		for _, ref := range n.References() {
			l.link(ref)
			refs = append(refs, ref)
		}
		return true
	})
	if err != nil {
		// Leave nothing half-linked behind.
		for _, ref := range refs {
			ref.Unlink()
		}
		return err
	}
	doc.References = refs
	return nil
}

func (l *Linker) link(ref *ast.Reference) {
	desc := l.provider.ScopeFor(ref).Element(ref.Text)
	if desc == nil {
		ref.Fail(ast.NewLinkingError(l.reflection.ReferenceType(ref), ref.Text))
		return
	}
	target := desc.Node
	if target == nil {
		target = l.locate(desc)
	}
	if target == nil {
		ref.Fail(ast.NewLinkingError(l.reflection.ReferenceType(ref), ref.Text))
		return
	}
	ref.Resolve(desc, target)
}

// locate re-resolves an index description against the current parse of its
// document.
func (l *Linker) locate(desc *ast.Description) *ast.Node {
	doc := l.docs.Get(desc.DocumentURI)
	if doc == nil {
		return nil
	}
	return ast.Resolve(doc.Root(), desc.Path)
}

// Unlink discards the resolution state of every reference in the document.
func (l *Linker) Unlink(doc *document.Document) {
	for _, ref := range doc.References {
		ref.Unlink()
	}
	doc.References = nil
}
