package store

import "time"

// Snapshot domain types

type Document struct {
	ID         int64
	URI        string
	LanguageID string
	Hash       string
	State      string
	IndexedAt  time.Time
}

type Symbol struct {
	ID          int64
	DocumentURI string
	Name        string
	Type        string
	Path        string
	StartLine   int
	StartCol    int
	EndLine     int
	EndCol      int
}

// Ref is a reference edge from a node in one document to a symbol in
// (possibly) another document.
type Ref struct {
	ID         int64
	SourceURI  string
	SourcePath string
	TargetURI  string
	TargetPath string
	Text       string
	Local      bool
	StartLine  int
	StartCol   int
	EndLine    int
	EndCol     int
}

type Diagnostic struct {
	ID          int64
	DocumentURI string
	Severity    int
	Message     string
	Code        string
	Category    string
	Path        string
	Property    string
	StartLine   int
	StartCol    int
	EndLine     int
	EndCol      int
}

// Snapshot is everything stored for one document. WriteDocument replaces
// all rows of Document.URI with its contents.
type Snapshot struct {
	Document    Document
	Symbols     []Symbol
	Refs        []Ref
	Diagnostics []Diagnostic
}
