package domainmodel

import (
	"fmt"
	"strings"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
)

// Node types produced by Parse.
const (
	TypeModel    = "Domainmodel"
	TypePackage  = "PackageDeclaration"
	TypeDataType = "DataType"
	TypeEntity   = "Entity"
	TypeFeature  = "Feature"

	TypeAbstractElement = "AbstractElement"
	TypeType            = "Type"
)

// Parse parses domain model text:
//
//	package a.b {
//	    datatype String
//	    entity Person extends Base {
//	        name: String
//	        many friends: Person
//	    }
//	}
//
// Parsing never fails; malformed input yields a partial tree plus errors.
func Parse(text string) document.ParseResult {
	toks, lexErrs := lex(text)
	p := &parser{toks: toks}
	root := ast.NewNode(TypeModel, "")
	p.elements(root, false)
	root.Range = ast.Range{End: toks[len(toks)-1].rng.End}
	return document.ParseResult{Root: root, LexerErrors: lexErrs, ParserErrors: p.errs}
}

type parser struct {
	toks []token
	pos  int
	last token
	errs []document.ParseError
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	p.last = t
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokID && t.text == kw
}

func (p *parser) errorf(t token, format string, args ...any) {
	p.errs = append(p.errs, document.ParseError{Message: fmt.Sprintf(format, args...), Range: t.rng})
}

func (p *parser) expect(kind tokenKind) bool {
	t := p.peek()
	if t.kind == kind {
		p.next()
		return true
	}
	p.errorf(t, "expecting %s but found %s", kind, describe(t))
	return false
}

func describe(t token) string {
	if t.kind == tokID {
		return fmt.Sprintf("'%s'", t.text)
	}
	return t.kind.String()
}

func (p *parser) finish(n *ast.Node, start token) {
	n.Range = ast.Range{Start: start.rng.Start, End: p.last.rng.End}
}

// elements parses AbstractElement* until EOF, or until '}' when nested.
func (p *parser) elements(container *ast.Node, nested bool) {
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return
		case t.kind == tokRBrace && nested:
			return
		case p.keyword("package"):
			container.Append("elements", p.packageDecl())
		case p.keyword("datatype"):
			container.Append("elements", p.dataType())
		case p.keyword("entity"):
			container.Append("elements", p.entity())
		default:
			p.errorf(t, "unexpected %s, expecting an element declaration", describe(t))
			p.next()
		}
	}
}

func (p *parser) packageDecl() *ast.Node {
	start := p.next()
	name, rng, _ := p.qualifiedName()
	n := ast.NewNode(TypePackage, name)
	n.NameRange = rng
	if p.expect(tokLBrace) {
		p.elements(n, true)
		p.expect(tokRBrace)
	}
	p.finish(n, start)
	return n
}

func (p *parser) dataType() *ast.Node {
	start := p.next()
	name, rng, _ := p.id()
	n := ast.NewNode(TypeDataType, name)
	n.NameRange = rng
	p.finish(n, start)
	return n
}

func (p *parser) entity() *ast.Node {
	start := p.next()
	name, rng, _ := p.id()
	n := ast.NewNode(TypeEntity, name)
	n.NameRange = rng
	if p.keyword("extends") {
		p.next()
		if text, refRng, ok := p.qualifiedName(); ok {
			n.AddReference("superType", text, refRng)
		}
	}
	if p.expect(tokLBrace) {
		for {
			t := p.peek()
			if t.kind == tokRBrace || t.kind == tokEOF {
				break
			}
			if t.kind != tokID {
				p.errorf(t, "unexpected %s, expecting a feature", describe(t))
				p.next()
				continue
			}
			n.Append("features", p.feature())
		}
		p.expect(tokRBrace)
	}
	p.finish(n, start)
	return n
}

func (p *parser) feature() *ast.Node {
	start := p.peek()
	many := false
	if p.keyword("many") && p.toks[p.pos+1].kind == tokID {
		p.next()
		many = true
	}
	name, rng, _ := p.id()
	n := ast.NewNode(TypeFeature, name)
	n.NameRange = rng
	if many {
		n.SetAttr("many", "true")
	}
	if p.expect(tokColon) {
		if text, refRng, ok := p.qualifiedName(); ok {
			n.AddReference("type", text, refRng)
		}
	}
	p.finish(n, start)
	return n
}

func (p *parser) id() (string, ast.Range, bool) {
	t := p.peek()
	if t.kind != tokID {
		p.errorf(t, "expecting identifier but found %s", describe(t))
		return "", t.rng, false
	}
	p.next()
	return t.text, t.rng, true
}

func (p *parser) qualifiedName() (string, ast.Range, bool) {
	first, rng, ok := p.id()
	if !ok {
		return "", rng, false
	}
	parts := []string{first}
	for p.peek().kind == tokDot {
		p.next()
		part, partRng, ok := p.id()
		if !ok {
			break
		}
		parts = append(parts, part)
		rng.End = partRng.End
	}
	return strings.Join(parts, "."), rng, true
}
