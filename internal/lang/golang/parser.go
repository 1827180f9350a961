package golang

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	tsgo "github.com/smacker/go-tree-sitter/golang"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
)

// Node types produced by Parse.
const (
	TypeSourceFile = "SourceFile"
	TypeTypeSpec   = "TypeSpec"
	TypeField      = "Field"
	TypeFuncDecl   = "FuncDecl"
	TypeMethodDecl = "MethodDecl"

	TypeDecl = "Decl"
)

var predeclared = map[string]bool{
	"any": true, "bool": true, "byte": true, "comparable": true,
	"complex64": true, "complex128": true, "error": true,
	"float32": true, "float64": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"rune": true, "string": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true, "uintptr": true,
}

// Parse parses Go source with tree-sitter and lifts package-level type and
// function declarations into an AST. Type names used in signatures and
// struct fields become references. Syntax errors never abort the parse.
func Parse(text string) document.ParseResult {
	src := []byte(text)
	root := ast.NewNode(TypeSourceFile, "")

	// New parser per call; tree-sitter parsers are not safe for concurrent use.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(tsgo.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return document.ParseResult{
			Root:         root,
			ParserErrors: []document.ParseError{{Message: fmt.Sprintf("tree-sitter parse failed: %v", err)}},
		}
	}
	defer tree.Close()

	tsRoot := tree.RootNode()
	root.Range = rangeOf(tsRoot)
	b := &builder{src: src}
	b.collectErrors(tsRoot)

	for i := 0; i < int(tsRoot.NamedChildCount()); i++ {
		child := tsRoot.NamedChild(i)
		switch child.Type() {
		case "package_clause":
			if id := firstNamedOfType(child, "package_identifier"); id != nil {
				root.Name = id.Content(src)
				root.NameRange = rangeOf(id)
			}
		case "type_declaration":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() == "type_spec" || spec.Type() == "type_alias" {
					if n := b.typeSpec(spec); n != nil {
						root.Append("decls", n)
					}
				}
			}
		case "function_declaration":
			if n := b.funcDecl(child, TypeFuncDecl); n != nil {
				root.Append("decls", n)
			}
		case "method_declaration":
			if n := b.funcDecl(child, TypeMethodDecl); n != nil {
				root.Append("decls", n)
			}
		}
	}

	return document.ParseResult{Root: root, ParserErrors: b.errs}
}

type builder struct {
	src  []byte
	errs []document.ParseError
}

func (b *builder) collectErrors(n *sitter.Node) {
	if n.IsMissing() {
		b.errs = append(b.errs, document.ParseError{
			Message: fmt.Sprintf("missing %s", n.Type()),
			Range:   rangeOf(n),
		})
		return
	}
	if n.IsError() {
		b.errs = append(b.errs, document.ParseError{Message: "unexpected syntax", Range: rangeOf(n)})
		return
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		b.collectErrors(n.Child(i))
	}
}

func (b *builder) typeSpec(spec *sitter.Node) *ast.Node {
	nameNode := spec.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	n := ast.NewNode(TypeTypeSpec, nameNode.Content(b.src))
	n.Range = rangeOf(spec)
	n.NameRange = rangeOf(nameNode)

	params := typeParams(spec.ChildByFieldName("type_parameters"), b.src)
	typ := spec.ChildByFieldName("type")
	if typ == nil {
		return n
	}
	if spec.Type() == "type_alias" {
		n.SetAttr("alias", "true")
	}
	n.SetAttr("kind", typ.Type())

	if typ.Type() != "struct_type" {
		b.typeRefs(n, "type", typ, params)
		return n
	}
	list := firstNamedOfType(typ, "field_declaration_list")
	if list == nil {
		return n
	}
	for i := 0; i < int(list.NamedChildCount()); i++ {
		decl := list.NamedChild(i)
		if decl.Type() != "field_declaration" {
			continue
		}
		for _, f := range b.fields(decl, params) {
			n.Append("fields", f)
		}
	}
	return n
}

// fields returns one Field per declared name. An embedded field is named by
// its type.
func (b *builder) fields(decl *sitter.Node, params map[string]bool) []*ast.Node {
	typ := decl.ChildByFieldName("type")
	var out []*ast.Node
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		c := decl.NamedChild(i)
		if c.Type() != "field_identifier" {
			continue
		}
		f := ast.NewNode(TypeField, c.Content(b.src))
		f.Range = rangeOf(decl)
		f.NameRange = rangeOf(c)
		if typ != nil {
			b.typeRefs(f, "type", typ, params)
		}
		out = append(out, f)
	}
	if len(out) > 0 || typ == nil {
		return out
	}

	f := ast.NewNode(TypeField, embeddedName(typ, b.src))
	f.Range = rangeOf(decl)
	f.NameRange = rangeOf(typ)
	f.SetAttr("embedded", "true")
	b.typeRefs(f, "type", typ, params)
	return []*ast.Node{f}
}

func embeddedName(typ *sitter.Node, src []byte) string {
	switch typ.Type() {
	case "pointer_type":
		if inner := typ.NamedChild(0); inner != nil {
			return embeddedName(inner, src)
		}
	case "qualified_type":
		if name := typ.ChildByFieldName("name"); name != nil {
			return name.Content(src)
		}
	case "generic_type":
		if inner := typ.ChildByFieldName("type"); inner != nil {
			return embeddedName(inner, src)
		}
	}
	return typ.Content(src)
}

func (b *builder) funcDecl(decl *sitter.Node, typ string) *ast.Node {
	nameNode := decl.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	n := ast.NewNode(typ, nameNode.Content(b.src))
	n.Range = rangeOf(decl)
	n.NameRange = rangeOf(nameNode)

	params := typeParams(decl.ChildByFieldName("type_parameters"), b.src)
	if recv := decl.ChildByFieldName("receiver"); recv != nil {
		params = receiverParams(recv, b.src, params)
		b.typeRefs(n, "receiver", recv, params)
	}
	if p := decl.ChildByFieldName("parameters"); p != nil {
		b.typeRefs(n, "type", p, params)
	}
	if r := decl.ChildByFieldName("result"); r != nil {
		b.typeRefs(n, "type", r, params)
	}
	return n
}

// typeRefs adds a reference for every package-local named type in the
// subtree. Predeclared types, type parameters and qualified types are skipped.
func (b *builder) typeRefs(n *ast.Node, property string, t *sitter.Node, params map[string]bool) {
	switch t.Type() {
	case "qualified_type":
		return
	case "type_identifier":
		name := t.Content(b.src)
		if predeclared[name] || params[name] {
			return
		}
		n.AddReference(property, name, rangeOf(t))
		return
	}
	for i := 0; i < int(t.NamedChildCount()); i++ {
		b.typeRefs(n, property, t.NamedChild(i), params)
	}
}

func typeParams(list *sitter.Node, src []byte) map[string]bool {
	if list == nil {
		return nil
	}
	out := map[string]bool{}
	for i := 0; i < int(list.NamedChildCount()); i++ {
		decl := list.NamedChild(i)
		for j := 0; j < int(decl.NamedChildCount()); j++ {
			if c := decl.NamedChild(j); c.Type() == "identifier" {
				out[c.Content(src)] = true
			}
		}
	}
	return out
}

// receiverParams adds the type parameter names a generic receiver such as
// (l *List[T]) introduces.
func receiverParams(recv *sitter.Node, src []byte, params map[string]bool) map[string]bool {
	if recv.Type() == "generic_type" {
		if args := recv.ChildByFieldName("type_arguments"); args != nil {
			if params == nil {
				params = map[string]bool{}
			}
			for i := 0; i < int(args.NamedChildCount()); i++ {
				a := args.NamedChild(i)
				params[a.Content(src)] = true
			}
		}
		return params
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		params = receiverParams(recv.NamedChild(i), src, params)
	}
	return params
}

func firstNamedOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

func rangeOf(n *sitter.Node) ast.Range {
	s, e := n.StartPoint(), n.EndPoint()
	return ast.Range{
		Start: ast.Position{Line: int(s.Row), Column: int(s.Column)},
		End:   ast.Position{Line: int(e.Row), Column: int(e.Column)},
	}
}
