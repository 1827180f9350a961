package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIDocument is a JSON-friendly document summary.
type CLIDocument struct {
	File        string `json:"file"`
	Language    string `json:"language"`
	State       string `json:"state"`
	Symbols     int    `json:"symbols"`
	Diagnostics int    `json:"diagnostics"`
}

// CLISymbol is a JSON-friendly exported symbol.
type CLISymbol struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	File      string `json:"file"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// CLIReference is a JSON-friendly reference edge.
type CLIReference struct {
	File       string `json:"file"`
	SourcePath string `json:"source_path"`
	Text       string `json:"text"`
	Local      bool   `json:"local,omitempty"`
	StartLine  int    `json:"start_line"`
	StartCol   int    `json:"start_col"`
	EndLine    int    `json:"end_line"`
	EndCol     int    `json:"end_col"`
}

// CLIDiagnostic is a JSON-friendly diagnostic.
type CLIDiagnostic struct {
	File      string `json:"file"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Category  string `json:"category,omitempty"`
	Path      string `json:"path,omitempty"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}
