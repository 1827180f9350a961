// Package runtime hosts validation rules written as Risor scripts. Rules live
// under a rules root as <category>/<NodeType>.risor and run once per node of
// that type (or a subtype) during the validation phase.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/validation"
)

const scriptExt = ".risor"

// Runtime embeds a Risor VM and exposes the node under validation, an
// acceptor, and logging to rule scripts.
type Runtime struct {
	rulesDir   string
	fsys       fs.FS
	logger     *slog.Logger
	reflection *ast.Reflection
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads rules from fsys instead of from disk. Import
// statements in scripts resolve against the same FS.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithLogger routes the scripts' log global to l.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithReflection enables the is_subtype global.
func WithReflection(refl *ast.Reflection) RuntimeOption {
	return func(r *Runtime) {
		r.reflection = refl
	}
}

// NewRuntime creates a Runtime reading rules from rulesDir.
func NewRuntime(rulesDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		rulesDir: rulesDir,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rule is one rule script and the node type and category it applies to.
type Rule struct {
	Path     string
	NodeType string
	Category validation.Category
}

// Rules lists the rule scripts under the rules root in lexical order. Files
// that are not exactly <category>/<NodeType>.risor are helpers for import
// and are skipped.
func (r *Runtime) Rules() ([]Rule, error) {
	fsys := r.fsys
	if fsys == nil {
		if r.rulesDir == "" {
			return nil, nil
		}
		if _, err := os.Stat(r.rulesDir); os.IsNotExist(err) {
			return nil, nil
		}
		fsys = os.DirFS(r.rulesDir)
	}

	var rules []Rule
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != scriptExt {
			return nil
		}
		parts := strings.Split(p, "/")
		if len(parts) != 2 {
			return nil
		}
		rules = append(rules, Rule{
			Path:     p,
			NodeType: strings.TrimSuffix(parts[1], scriptExt),
			Category: validation.Category(parts[0]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: listing rules: %w", err)
	}
	return rules, nil
}

// LoadRules registers one check per rule script in reg and returns how many
// were registered.
func (r *Runtime) LoadRules(reg *validation.Registry) (int, error) {
	rules, err := r.Rules()
	if err != nil {
		return 0, err
	}
	for _, rule := range rules {
		src, err := r.LoadScript(rule.Path)
		if err != nil {
			return 0, err
		}
		reg.RegisterNamed(rule.NodeType, rule.Category, rule.Path, r.Check(rule.Path, src))
	}
	return len(rules), nil
}

// Check wraps a script as a validation check.
func (r *Runtime) Check(label, source string) validation.Check {
	return func(ctx context.Context, node *ast.Node, accept validation.Acceptor) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return r.eval(ctx, source, label, node, accept)
	}
}

// RunScript loads the script at path and runs it against node.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, node *ast.Node, accept validation.Acceptor) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, node, accept)
}

// RunSource runs Risor source against node. Diagnostics the script reports
// go to accept.
func (r *Runtime) RunSource(ctx context.Context, source string, node *ast.Node, accept validation.Acceptor) error {
	return r.eval(ctx, source, "<inline>", node, accept)
}

func (r *Runtime) eval(ctx context.Context, source, label string, node *ast.Node, accept validation.Acceptor) error {
	globals := r.buildGlobals(node, accept)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return fmt.Errorf("runtime: rule %s: %w", label, err)
	}
	return nil
}

// buildImporter resolves import statements against the rules root. Returns
// nil when no root is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{scriptExt},
		})
	}
	if r.rulesDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.rulesDir,
			Extensions:  []string{scriptExt},
		})
	}
	return nil
}

// LoadScript reads a script relative to the rules root.
func (r *Runtime) LoadScript(p string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(p), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading rule %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := p
	if !filepath.IsAbs(p) {
		fullPath = filepath.Join(r.rulesDir, filepath.FromSlash(p))
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading rule %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the globals visible to one rule invocation.
func (r *Runtime) buildGlobals(node *ast.Node, accept validation.Acceptor) map[string]any {
	globals := map[string]any{
		"log":        mustProxy(&logObject{logger: r.logger, node: node}),
		"is_subtype": makeIsSubtypeFn(r.reflection),
	}
	if node != nil {
		globals["node"] = nodeToObject(node)
		globals["children"] = makeChildrenFn(node)
	} else {
		globals["node"] = object.Nil
	}
	if accept != nil {
		globals["accept"] = makeAcceptFn(node, accept)
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
