// Package document models one source unit and its position in the analysis
// pipeline.
package document

import (
	"crypto/sha256"
	"fmt"

	"github.com/jward/trellis/internal/ast"
)

// State is a document's position in the build pipeline. States are totally
// ordered; a document never sits above the last phase that actually ran.
type State int

const (
	Changed State = iota
	Parsed
	IndexedContent
	ComputedScopes
	Linked
	IndexedReferences
	Validated
)

var stateNames = [...]string{
	"changed", "parsed", "indexed-content", "computed-scopes",
	"linked", "indexed-references", "validated",
}

func (s State) String() string {
	if s < Changed || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ParseError is a lexer or parser error reported by a language's parser.
type ParseError struct {
	Message string
	Range   ast.Range
}

// ParseResult is the immutable output of one parse.
type ParseResult struct {
	Root         *ast.Node
	LexerErrors  []ParseError
	ParserErrors []ParseError
}

// Severity grades a diagnostic.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	}
	return "unknown"
}

// Diagnostic is a problem reported against a document.
type Diagnostic struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Range    ast.Range `json:"range"`
	Code     string    `json:"code,omitempty"`
	Source   string    `json:"source,omitempty"`
	Category string    `json:"category,omitempty"`
	Path     string    `json:"path,omitempty"`
	Property string    `json:"property,omitempty"`
}

// LocalScopes maps each container node to the descriptions directly visible
// as its children.
type LocalScopes map[*ast.Node][]*ast.Description

// Document is one source unit plus its derived analysis state.
type Document struct {
	URI        string
	LanguageID string

	text    string
	hash    string
	version int

	ParseResult ParseResult
	State       State
	LocalScopes LocalScopes
	References  []*ast.Reference
	Diagnostics []Diagnostic
}

// NewFromText creates an unparsed document in state Changed.
func NewFromText(uri, languageID, text string) *Document {
	d := &Document{URI: uri, LanguageID: languageID}
	d.setText(text)
	return d
}

func (d *Document) setText(text string) {
	d.text = text
	d.hash = fmt.Sprintf("%x", sha256.Sum256([]byte(text)))
	d.version++
}

// Text returns the document's current text.
func (d *Document) Text() string { return d.text }

// Hash returns the SHA-256 of the current text, hex encoded.
func (d *Document) Hash() string { return d.hash }

// Version increments every time the text is replaced.
func (d *Document) Version() int { return d.version }

// Root returns the parsed root node, or nil before parsing.
func (d *Document) Root() *ast.Node { return d.ParseResult.Root }

// ResetTo drops every artifact owned by phases above target and lowers the
// state. Calling it with a target at or above the current state only trims
// artifacts, so repeated calls are harmless. Index entries are owned by the
// index and must be removed by the caller.
func (d *Document) ResetTo(target State) {
	if target < Validated {
		d.Diagnostics = nil
	}
	if target < Linked {
		for _, ref := range d.References {
			ref.Unlink()
		}
		if d.ParseResult.Root != nil {
			for _, ref := range ast.AllReferences(d.ParseResult.Root) {
				ref.Unlink()
			}
		}
		d.References = nil
	}
	if target < ComputedScopes {
		d.LocalScopes = nil
	}
	if target < Parsed {
		d.ParseResult = ParseResult{}
	}
	if d.State > target {
		d.State = target
	}
}

// HasErrors reports whether any diagnostic has error severity.
func (d *Document) HasErrors() bool {
	for _, diag := range d.Diagnostics {
		if diag.Severity == SeverityError {
			return true
		}
	}
	return false
}
