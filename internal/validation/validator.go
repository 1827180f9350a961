package validation

import (
	"context"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/cancel"
	"github.com/jward/trellis/internal/document"
)

// Diagnostic codes of the built-in checks.
const (
	CodeLexingError  = "lexing-error"
	CodeParsingError = "parsing-error"
	CodeLinkingError = "linking-error"
)

// Options selects what a validation run covers.
type Options struct {
	// Categories to run; nil means all.
	Categories []Category

	StopAfterLexingErrors  bool
	StopAfterParsingErrors bool
	StopAfterLinkingErrors bool
}

// Includes reports whether c is selected.
func (o Options) Includes(c Category) bool {
	return o.Categories == nil || containsCategory(o.Categories, c)
}

// Validator produces a document's diagnostics from its parse errors, its
// linking errors, and the registered checks.
type Validator struct {
	registry  *Registry
	source    string
	interrupt *cancel.Interrupter
}

// NewValidator returns a Validator. source labels every diagnostic it emits,
// typically the language ID.
func NewValidator(registry *Registry, source string, interrupt *cancel.Interrupter) *Validator {
	return &Validator{registry: registry, source: source, interrupt: interrupt}
}

// Validate returns the diagnostics for the selected categories. Only
// cancellation is returned as an error.
func (v *Validator) Validate(ctx context.Context, doc *document.Document, opts Options) ([]document.Diagnostic, error) {
	var diags []document.Diagnostic
	pr := doc.ParseResult

	if opts.Includes(BuiltIn) {
		for _, e := range pr.LexerErrors {
			diags = append(diags, v.builtin(e.Message, e.Range, CodeLexingError, ""))
		}
		if opts.StopAfterLexingErrors && len(pr.LexerErrors) > 0 {
			return diags, nil
		}
		for _, e := range pr.ParserErrors {
			diags = append(diags, v.builtin(e.Message, e.Range, CodeParsingError, ""))
		}
		if opts.StopAfterParsingErrors && len(pr.ParserErrors) > 0 {
			return diags, nil
		}
		linkErrors := 0
		for _, ref := range doc.References {
			if lerr := ref.Error(); lerr != nil {
				d := v.builtin(lerr.Message, ref.Range, CodeLinkingError, ast.Path(ref.Container))
				d.Property = ref.Property
				diags = append(diags, d)
				linkErrors++
			}
		}
		if opts.StopAfterLinkingErrors && linkErrors > 0 {
			return diags, nil
		}
	}

	root := doc.Root()
	if root == nil {
		return diags, nil
	}
	for _, c := range v.customCategories(opts) {
		accept := func(severity document.Severity, message string, info Info) {
			d := v.toDiagnostic(severity, message, info)
			d.Category = string(c)
			diags = append(diags, d)
		}
		var err error
		ast.Walk(root, func(n *ast.Node) bool {
			if err != nil {
				return false
			}
			if err = v.interrupt.Check(ctx); err != nil {
				return false
			}
			for _, check := range v.registry.ChecksFor(n.Type, []Category{c}) {
				if err = check(ctx, n, accept); err != nil {
					return false
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return diags, nil
}

// Categories expands opts' selection into the concrete categories a run
// covers, with BuiltIn first when selected.
func (v *Validator) Categories(opts Options) []Category {
	if opts.Categories == nil {
		return append([]Category{BuiltIn}, v.registry.Categories()...)
	}
	return append([]Category(nil), opts.Categories...)
}

// customCategories lists the non-built-in categories selected by opts. A
// nil selection means every category with registered checks.
func (v *Validator) customCategories(opts Options) []Category {
	if opts.Categories == nil {
		return v.registry.Categories()
	}
	var out []Category
	for _, c := range opts.Categories {
		if c != BuiltIn {
			out = append(out, c)
		}
	}
	return out
}

func (v *Validator) builtin(message string, rng ast.Range, code, path string) document.Diagnostic {
	return document.Diagnostic{
		Severity: document.SeverityError,
		Message:  message,
		Range:    rng,
		Code:     code,
		Source:   v.source,
		Category: string(BuiltIn),
		Path:     path,
	}
}

func (v *Validator) toDiagnostic(severity document.Severity, message string, info Info) document.Diagnostic {
	d := document.Diagnostic{
		Severity: severity,
		Message:  message,
		Source:   v.source,
		Property: info.Property,
	}
	if info.Node != nil {
		d.Range = info.Node.Range
		d.Path = ast.Path(info.Node)
		if info.Property == "name" {
			d.Range = info.Node.NameRange
		} else if info.Property != "" {
			for _, ref := range info.Node.References() {
				if ref.Property == info.Property && ref.Index == info.Index {
					d.Range = ref.Range
					break
				}
			}
		}
	}
	if info.Range != nil {
		d.Range = *info.Range
	}
	d.Code = info.Code
	return d
}
