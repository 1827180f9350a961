package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/trellis"
	"github.com/jward/trellis/internal/lang"
)

var (
	flagDB       string
	flagFormat   string
	flagLogLevel string
	flagConfig   string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "trellis",
	Short:         "Incremental cross-reference analysis for model and Go sources",
	Long:          "Trellis parses a workspace into syntax trees, links references through scopes, validates the result, and snapshots it into SQLite for queries.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .trellis/index.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: trellis.yaml in the target directory)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(watchCmd)
}

var (
	flagForce     bool
	flagLanguages []string
	flagRulesDir  string
)

var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Build a workspace and write its snapshot",
	Long:  "Parses, links, and validates every supported file under path, then writes documents, symbols, references, and diagnostics to the SQLite database.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

func init() {
	for _, c := range []*cobra.Command{buildCmd, watchCmd} {
		c.Flags().StringSliceVar(&flagLanguages, "languages", nil, "comma-separated language filter (e.g. go,domainmodel)")
		c.Flags().StringVar(&flagRulesDir, "rules-dir", "", "directory of Risor validation rules (overrides config)")
	}
	buildCmd.Flags().BoolVar(&flagForce, "force", false, "delete the database before writing the snapshot")
}

// session is a loaded workspace plus where its snapshot goes.
type session struct {
	targetDir string
	dbPath    string
	config    *Config
	ws        *trellis.Workspace
	store     *trellis.Store
}

func (s *session) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// openSession resolves paths and config for args, then creates the
// workspace and store. It does not load any files.
func openSession(args []string) (*session, error) {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(targetDir, flagConfig)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := parseLogLevel(cfg.LogLevel)

	ws, err := trellis.New(cfg.workspaceOptions(newLogger(level))...)
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	repoRoot := findRepoRoot(targetDir)
	dbPath := resolveDBPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}
	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing database for --force: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", dbPath)
	}
	st, err := trellis.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &session{targetDir: targetDir, dbPath: dbPath, config: cfg, ws: ws, store: st}, nil
}

// applyFlags lets command-line flags override the config file.
func applyFlags(cfg *Config) {
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if len(flagLanguages) > 0 {
		cfg.Languages = flagLanguages
	}
	if flagRulesDir != "" {
		abs, err := filepath.Abs(flagRulesDir)
		if err == nil {
			cfg.RulesDir = abs
		}
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	start := time.Now()
	s, err := openSession(args)
	if err != nil {
		return outputError("build", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loadStart := time.Now()
	if err := s.ws.LoadDirectory(ctx, s.targetDir); err != nil {
		return outputError("build", fmt.Errorf("loading: %w", err))
	}
	loadDuration := time.Since(loadStart)

	exportStart := time.Now()
	if err := s.ws.Export(ctx, s.store); err != nil {
		return outputError("build", fmt.Errorf("exporting: %w", err))
	}
	exportDuration := time.Since(exportStart)

	docs, err := documentSummaries(ctx, s.ws)
	if err != nil {
		return outputError("build", err)
	}

	fmt.Fprintf(os.Stderr, "Built %s in %s (load: %s, export: %s)\n",
		s.targetDir,
		time.Since(start).Round(time.Millisecond),
		loadDuration.Round(time.Millisecond),
		exportDuration.Round(time.Millisecond),
	)
	fmt.Fprintf(os.Stderr, "Database: %s\n", s.dbPath)

	total := len(docs)
	return outputResult(CLIResult{Command: "build", Results: docs, TotalCount: &total})
}

// documentSummaries lists tracked documents with symbol and diagnostic
// counts.
func documentSummaries(ctx context.Context, ws *trellis.Workspace) ([]CLIDocument, error) {
	syms, err := ws.AllSymbols(ctx, "")
	if err != nil {
		return nil, err
	}
	perDoc := make(map[string]int)
	for _, d := range syms {
		perDoc[d.DocumentURI]++
	}

	out := []CLIDocument{}
	for _, doc := range ws.Documents() {
		out = append(out, CLIDocument{
			File:        displayPath(doc.URI),
			Language:    doc.LanguageID,
			State:       doc.State.String(),
			Symbols:     perDoc[doc.URI],
			Diagnostics: len(doc.Diagnostics),
		})
	}
	return out, nil
}

// displayPath shows uri as a path relative to the working directory when
// it lies below it.
func displayPath(uri string) string {
	path := lang.URIToPath(uri)
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(cwd, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// resolveTargetDir returns the absolute path of the directory to build.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag or the default.
func resolveDBPath(repoRoot string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	return filepath.Join(repoRoot, ".trellis", "index.db")
}
