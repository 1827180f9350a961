package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// formatDocumentsText formats CLIDocument results as aligned columns.
func formatDocumentsText(w io.Writer, docs []CLIDocument) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tLANGUAGE\tSTATE\tSYMBOLS\tDIAGNOSTICS")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", d.File, d.Language, d.State, d.Symbols, d.Diagnostics)
	}
	tw.Flush()
}

// formatSymbolsText formats CLISymbol results as aligned columns.
func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tFILE\tLINE\tPATH")
	for _, s := range syms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.Name, s.Type, s.File, s.StartLine, s.Path)
	}
	tw.Flush()
}

// formatReferencesText formats CLIReference results as "file:line:col" lines.
func formatReferencesText(w io.Writer, refs []CLIReference) {
	for _, r := range refs {
		fmt.Fprintf(w, "%s:%d:%d\t%s\n", r.File, r.StartLine, r.StartCol, r.Text)
	}
}

// formatDiagnosticsText formats CLIDiagnostic results compiler-style.
func formatDiagnosticsText(w io.Writer, diags []CLIDiagnostic) {
	for _, d := range diags {
		code := ""
		if d.Code != "" {
			code = " [" + d.Code + "]"
		}
		fmt.Fprintf(w, "%s:%d:%d: %s: %s%s\n", d.File, d.StartLine, d.StartCol, d.Severity, d.Message, code)
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	return writeResultText(os.Stdout, result)
}

func writeResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLIDocument:
		formatDocumentsText(w, v)
	case []CLISymbol:
		formatSymbolsText(w, v)
	case []CLIReference:
		formatReferencesText(w, v)
	case []CLIDiagnostic:
		formatDiagnosticsText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	if result.TotalCount != nil {
		count := *result.TotalCount
		if shown := resultLen(result.Results); shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	return nil
}

// resultLen returns the length of a result slice.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLIDocument:
		return len(r)
	case []CLISymbol:
		return len(r)
	case []CLIReference:
		return len(r)
	case []CLIDiagnostic:
		return len(r)
	}
	return 0
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
