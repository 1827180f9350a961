package trellis

import (
	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/cancel"
	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/index"
	"github.com/jward/trellis/internal/lang"
	"github.com/jward/trellis/internal/scope"
	"github.com/jward/trellis/internal/store"
	"github.com/jward/trellis/internal/validation"
)

// Public type aliases for internal types used in the Workspace API.
// These are Go type aliases (=), identical to the internal types at compile
// time; external consumers use these names; no conversion is needed.

type Document = document.Document
type Diagnostic = document.Diagnostic
type Severity = document.Severity
type State = document.State
type Node = ast.Node
type Description = ast.Description
type ReferenceDescription = index.ReferenceDescription
type Scope = scope.Scope
type Language = lang.Language
type Category = validation.Category
type Store = store.Store

// Document lifecycle states, in phase order.
const (
	Changed           = document.Changed
	Parsed            = document.Parsed
	IndexedContent    = document.IndexedContent
	ComputedScopes    = document.ComputedScopes
	Linked            = document.Linked
	IndexedReferences = document.IndexedReferences
	Validated         = document.Validated
)

// Diagnostic severities.
const (
	SeverityError       = document.SeverityError
	SeverityWarning     = document.SeverityWarning
	SeverityInformation = document.SeverityInformation
	SeverityHint        = document.SeverityHint
)

// Validation categories.
const (
	CategoryFast    = validation.Fast
	CategorySlow    = validation.Slow
	CategoryBuiltIn = validation.BuiltIn
)

// ErrCancelled signals an operation abandoned at a suspension point.
var ErrCancelled = cancel.ErrCancelled

// IsCancelled reports whether err signals cancellation.
func IsCancelled(err error) bool {
	return cancel.IsCancelled(err)
}

// NewStore opens (and migrates) a SQLite snapshot store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
