package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/trellis"
	"github.com/jward/trellis/internal/lang"
	"github.com/jward/trellis/internal/store"
)

var (
	flagLimit    int
	flagOffset   int
	flagType     string
	flagSeverity string
)

func init() {
	for _, c := range []*cobra.Command{symbolsCmd, refsCmd, diagnosticsCmd} {
		c.Flags().IntVar(&flagLimit, "limit", 50, "pagination limit (max 500)")
		c.Flags().IntVar(&flagOffset, "offset", 0, "pagination offset")
	}
	symbolsCmd.Flags().StringVar(&flagType, "type", "", "only symbols of this node type (e.g. Entity, TypeSpec)")
	diagnosticsCmd.Flags().StringVar(&flagSeverity, "severity", "", "only diagnostics of this severity: error|warning|info|hint")
}

// --- Helpers ---

// openStore opens the Store from the --db flag path (or default).
func openStore() (*store.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)
	dbPath := resolveDBPath(repoRoot)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'trellis build' first)", dbPath)
	}
	return trellis.NewStore(dbPath)
}

// resolveFileURI converts a file argument to a document URI. Arguments
// that already are URIs pass through.
func resolveFileURI(file string) (string, error) {
	if strings.Contains(file, "://") {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return lang.PathToURI(abs), nil
}

// paginate applies --offset and --limit to n items and returns the bounds.
func paginate(n int) (lo, hi int) {
	limit := flagLimit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	lo = min(max(flagOffset, 0), n)
	hi = min(lo+limit, n)
	return lo, hi
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

func symbolToCLI(s *store.Symbol) CLISymbol {
	return CLISymbol{
		Name:      s.Name,
		Type:      s.Type,
		File:      displayPath(s.DocumentURI),
		Path:      s.Path,
		StartLine: s.StartLine,
		StartCol:  s.StartCol,
		EndLine:   s.EndLine,
		EndCol:    s.EndCol,
	}
}

func refToCLI(r *store.Ref) CLIReference {
	return CLIReference{
		File:       displayPath(r.SourceURI),
		SourcePath: r.SourcePath,
		Text:       r.Text,
		Local:      r.Local,
		StartLine:  r.StartLine,
		StartCol:   r.StartCol,
		EndLine:    r.EndLine,
		EndCol:     r.EndCol,
	}
}

func diagnosticToCLI(d *store.Diagnostic) CLIDiagnostic {
	return CLIDiagnostic{
		File:      displayPath(d.DocumentURI),
		Severity:  trellis.Severity(d.Severity).String(),
		Message:   d.Message,
		Code:      d.Code,
		Category:  d.Category,
		Path:      d.Path,
		StartLine: d.StartLine,
		StartCol:  d.StartCol,
		EndLine:   d.EndLine,
		EndCol:    d.EndCol,
	}
}

// --- symbols ---

var symbolsCmd = &cobra.Command{
	Use:   "symbols [name]",
	Short: "List exported symbols",
	Long:  "Lists the globally visible symbols of the last snapshot, optionally only those with the given name. All line and column numbers are 0-based.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSymbols,
}

func runSymbols(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return outputError("symbols", err)
	}
	defer s.Close()

	var syms []*store.Symbol
	if len(args) == 1 {
		syms, err = s.SymbolsByName(args[0])
	} else {
		syms, err = s.Symbols()
	}
	if err != nil {
		return outputError("symbols", err)
	}

	out := []CLISymbol{}
	for _, sym := range syms {
		if flagType != "" && sym.Type != flagType {
			continue
		}
		out = append(out, symbolToCLI(sym))
	}
	total := len(out)
	lo, hi := paginate(total)
	return outputResult(CLIResult{Command: "symbols", Results: out[lo:hi], TotalCount: &total})
}

// --- refs ---

var refsCmd = &cobra.Command{
	Use:   "refs <file> [node-path]",
	Short: "Find references into a document",
	Long:  "Lists reference edges whose target is the node at node-path (e.g. /elements@0) in file, or any node of file when node-path is omitted.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRefs,
}

func runRefs(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return outputError("refs", err)
	}
	defer s.Close()

	uri, err := resolveFileURI(args[0])
	if err != nil {
		return outputError("refs", err)
	}
	path := ""
	if len(args) == 2 {
		path = args[1]
	}

	refs, err := s.ReferencesTo(uri, path)
	if err != nil {
		return outputError("refs", err)
	}
	out := make([]CLIReference, len(refs))
	for i, r := range refs {
		out[i] = refToCLI(r)
	}
	total := len(out)
	lo, hi := paginate(total)
	return outputResult(CLIResult{Command: "refs", Results: out[lo:hi], TotalCount: &total})
}

// --- diagnostics ---

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics [file]",
	Short: "List diagnostics",
	Long:  "Lists the diagnostics of file, or of every document when file is omitted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiagnostics,
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return outputError("diagnostics", err)
	}
	defer s.Close()

	uri := ""
	if len(args) == 1 {
		if uri, err = resolveFileURI(args[0]); err != nil {
			return outputError("diagnostics", err)
		}
	}
	diags, err := s.DiagnosticsFor(uri)
	if err != nil {
		return outputError("diagnostics", err)
	}

	out := []CLIDiagnostic{}
	for _, d := range diags {
		c := diagnosticToCLI(d)
		if flagSeverity != "" && c.Severity != flagSeverity {
			continue
		}
		out = append(out, c)
	}
	total := len(out)
	lo, hi := paginate(total)
	return outputResult(CLIResult{Command: "diagnostics", Results: out[lo:hi], TotalCount: &total})
}
