package domainmodel

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokID
	tokLBrace
	tokRBrace
	tokColon
	tokDot
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of file"
	case tokID:
		return "identifier"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokColon:
		return "':'"
	case tokDot:
		return "'.'"
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string
	rng  ast.Range
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
	errs []document.ParseError
}

func lex(src string) ([]token, []document.ParseError) {
	l := &lexer{src: src}
	var toks []token
	for {
		l.skipTrivia()
		start := l.pos()
		if l.off >= len(l.src) {
			toks = append(toks, token{kind: tokEOF, rng: ast.Range{Start: start, End: start}})
			return toks, l.errs
		}
		r, _ := utf8.DecodeRuneInString(l.src[l.off:])
		switch {
		case isIdentStart(r):
			begin := l.off
			for l.off < len(l.src) {
				r, _ := utf8.DecodeRuneInString(l.src[l.off:])
				if !isIdentPart(r) {
					break
				}
				l.advance()
			}
			toks = append(toks, token{kind: tokID, text: l.src[begin:l.off], rng: ast.Range{Start: start, End: l.pos()}})
		case r == '{', r == '}', r == ':', r == '.':
			l.advance()
			toks = append(toks, token{kind: punct[r], text: string(r), rng: ast.Range{Start: start, End: l.pos()}})
		default:
			l.advance()
			l.errs = append(l.errs, document.ParseError{
				Message: fmt.Sprintf("unexpected character %q", r),
				Range:   ast.Range{Start: start, End: l.pos()},
			})
		}
	}
}

var punct = map[rune]tokenKind{'{': tokLBrace, '}': tokRBrace, ':': tokColon, '.': tokDot}

func (l *lexer) pos() ast.Position {
	return ast.Position{Line: l.line, Column: l.col}
}

func (l *lexer) advance() {
	r, size := utf8.DecodeRuneInString(l.src[l.off:])
	l.off += size
	if r == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *lexer) skipTrivia() {
	for l.off < len(l.src) {
		rest := l.src[l.off:]
		r, _ := utf8.DecodeRuneInString(rest)
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case len(rest) >= 2 && rest[:2] == "//":
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				l.advance()
			}
		case len(rest) >= 2 && rest[:2] == "/*":
			start := l.pos()
			l.advance()
			l.advance()
			closed := false
			for l.off < len(l.src) {
				if len(l.src[l.off:]) >= 2 && l.src[l.off:l.off+2] == "*/" {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				l.errs = append(l.errs, document.ParseError{
					Message: "unterminated block comment",
					Range:   ast.Range{Start: start, End: l.pos()},
				})
			}
		default:
			return
		}
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
