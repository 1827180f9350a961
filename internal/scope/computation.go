package scope

import (
	"context"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/cancel"
	"github.com/jward/trellis/internal/document"
)

// NameFunc returns the name a node declares, or "" for anonymous nodes.
type NameFunc func(n *ast.Node) string

// Computation derives a document's exported symbols and its local scopes.
type Computation struct {
	name        NameFunc
	isNamespace func(n *ast.Node) bool
	separator   string
	interrupt   *cancel.Interrupter
}

// ComputationOption configures a Computation.
type ComputationOption func(*Computation)

// WithNameFunc overrides how declared names are read. The default is Node.Name.
func WithNameFunc(fn NameFunc) ComputationOption {
	return func(c *Computation) { c.name = fn }
}

// WithNamespaces marks container nodes whose contents are re-exposed to the
// enclosing container under qualified names.
func WithNamespaces(fn func(n *ast.Node) bool) ComputationOption {
	return func(c *Computation) { c.isNamespace = fn }
}

// WithSeparator sets the qualified-name separator. The default is ".".
func WithSeparator(sep string) ComputationOption {
	return func(c *Computation) { c.separator = sep }
}

// WithInterrupter installs the suspension point used between nodes.
func WithInterrupter(i *cancel.Interrupter) ComputationOption {
	return func(c *Computation) { c.interrupt = i }
}

// NewComputation returns a Computation.
func NewComputation(opts ...ComputationOption) *Computation {
	c := &Computation{
		name:        func(n *ast.Node) string { return n.Name },
		isNamespace: func(*ast.Node) bool { return false },
		separator:   ".",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExportedSymbols returns the named children of the document root, plus the
// contents of namespaces under their qualified names.
func (c *Computation) ExportedSymbols(ctx context.Context, doc *document.Document) ([]*ast.Description, error) {
	root := doc.Root()
	if root == nil {
		return nil, nil
	}
	var out []*ast.Description
	var visit func(container *ast.Node, prefix string) error
	visit = func(container *ast.Node, prefix string) error {
		for _, child := range container.Contents() {
			if err := c.interrupt.Check(ctx); err != nil {
				return err
			}
			name := c.name(child)
			if name == "" {
				continue
			}
			qualified := c.qualify(prefix, name)
			out = append(out, ast.Describe(child, qualified))
			if c.isNamespace(child) {
				if err := visit(child, qualified); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := visit(root, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// LocalScopes maps every container in the document to the descriptions of
// its named children. A namespace's own entries are additionally visible in
// its container under qualified names.
func (c *Computation) LocalScopes(ctx context.Context, doc *document.Document) (document.LocalScopes, error) {
	scopes := document.LocalScopes{}
	root := doc.Root()
	if root == nil {
		return scopes, nil
	}
	if _, err := c.processContainer(ctx, root, scopes); err != nil {
		return nil, err
	}
	return scopes, nil
}

func (c *Computation) processContainer(ctx context.Context, container *ast.Node, scopes document.LocalScopes) ([]*ast.Description, error) {
	var local []*ast.Description
	for _, child := range container.Contents() {
		if err := c.interrupt.Check(ctx); err != nil {
			return nil, err
		}
		name := c.name(child)
		if name != "" {
			local = append(local, ast.Describe(child, name))
		}
		if len(child.Contents()) == 0 {
			continue
		}
		nested, err := c.processContainer(ctx, child, scopes)
		if err != nil {
			return nil, err
		}
		if name != "" && c.isNamespace(child) {
			for _, d := range nested {
				q := *d
				q.Name = c.qualify(name, d.Name)
				local = append(local, &q)
			}
		}
	}
	if len(local) > 0 {
		scopes[container] = append(scopes[container], local...)
	}
	return local, nil
}

func (c *Computation) qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + c.separator + name
}
