package validation_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/lang/domainmodel"
	"github.com/jward/trellis/internal/scope"
	"github.com/jward/trellis/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noSymbols struct{}

func (noSymbols) AllSymbols(string) []*ast.Description { return nil }

// linkedDoc parses text, computes its local scopes, and links it in isolation.
func linkedDoc(t *testing.T, text string) *document.Document {
	t.Helper()
	uri := "file:///test.dmodel"
	doc := document.NewFromText(uri, domainmodel.LanguageID, text)
	res := domainmodel.Parse(text)
	res.Root.URI = uri
	doc.ParseResult = res

	docs := document.NewDocuments()
	require.NoError(t, docs.Add(doc))
	comp := scope.NewComputation(scope.WithNamespaces(domainmodel.Language().IsNamespace))
	scopes, err := comp.LocalScopes(context.Background(), doc)
	require.NoError(t, err)
	doc.LocalScopes = scopes

	provider := scope.NewProvider(domainmodel.Reflection, noSymbols{}, docs, false)
	require.NoError(t, scope.NewLinker(provider, docs, nil).Link(context.Background(), doc))
	return doc
}

func newValidator(logger *slog.Logger) (*validation.Validator, *validation.Registry) {
	reg := validation.NewRegistry(domainmodel.Reflection, logger)
	domainmodel.RegisterChecks(reg)
	return validation.NewValidator(reg, domainmodel.LanguageID, nil), reg
}

func codes(diags []document.Diagnostic) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.Code
	}
	return out
}

// =============================================================================
// Built-in checks
// =============================================================================

func TestValidate_LinkingErrors(t *testing.T) {
	t.Parallel()
	v, _ := newValidator(nil)
	doc := linkedDoc(t, "entity A { f: Missing }")

	diags, err := v.Validate(context.Background(), doc, validation.Options{})
	require.NoError(t, err)
	require.Len(t, diags, 1)

	d := diags[0]
	assert.Equal(t, validation.CodeLinkingError, d.Code)
	assert.Equal(t, "Could not resolve reference to Type named 'Missing'.", d.Message)
	assert.Equal(t, document.SeverityError, d.Severity)
	assert.Equal(t, string(validation.BuiltIn), d.Category)
	assert.Equal(t, "/elements@0/features@0", d.Path)
	assert.Equal(t, "type", d.Property)
	assert.Equal(t, ast.Position{Line: 0, Column: 14}, d.Range.Start)
	assert.Equal(t, domainmodel.LanguageID, d.Source)
}

func TestValidate_StopAfter(t *testing.T) {
	t.Parallel()
	v, _ := newValidator(nil)

	tests := []struct {
		name string
		text string
		opts validation.Options
		want []string
	}{
		{
			name: "lexing errors stop",
			text: "entity a { f: Missing } $",
			opts: validation.Options{StopAfterLexingErrors: true},
			want: []string{validation.CodeLexingError},
		},
		{
			name: "parsing errors stop",
			text: "entity a { f: Missing } }",
			opts: validation.Options{StopAfterParsingErrors: true},
			want: []string{validation.CodeParsingError},
		},
		{
			name: "linking errors stop",
			text: "entity a { f: Missing }",
			opts: validation.Options{StopAfterLinkingErrors: true},
			want: []string{validation.CodeLinkingError},
		},
		{
			name: "nothing stops",
			text: "entity a { f: Missing }",
			opts: validation.Options{},
			want: []string{validation.CodeLinkingError, "type-capitalized"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := linkedDoc(t, tt.text)
			diags, err := v.Validate(context.Background(), doc, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, codes(diags))
		})
	}
}

// =============================================================================
// Categories
// =============================================================================

func TestValidate_CategorySelection(t *testing.T) {
	t.Parallel()
	v, _ := newValidator(nil)
	doc := linkedDoc(t, "entity a extends a { x: a  x: a }")

	fast, err := v.Validate(context.Background(), doc, validation.Options{Categories: []validation.Category{validation.Fast}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"type-capitalized", "duplicate-feature"}, codes(fast))
	for _, d := range fast {
		assert.Equal(t, string(validation.Fast), d.Category)
	}

	slow, err := v.Validate(context.Background(), doc, validation.Options{Categories: []validation.Category{validation.Slow}})
	require.NoError(t, err)
	require.Equal(t, []string{"inheritance-cycle"}, codes(slow))
	assert.Equal(t, "superType", slow[0].Property)
	assert.Equal(t, ast.Position{Line: 0, Column: 17}, slow[0].Range.Start)

	all, err := v.Validate(context.Background(), doc, validation.Options{})
	require.NoError(t, err)
	assert.Len(t, all, len(fast)+len(slow))
}

func TestValidate_NameRange(t *testing.T) {
	t.Parallel()
	v, _ := newValidator(nil)
	doc := linkedDoc(t, "datatype lower")

	diags, err := v.Validate(context.Background(), doc, validation.Options{})
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "type-capitalized", diags[0].Code)
	assert.Equal(t, document.SeverityWarning, diags[0].Severity)
	assert.Equal(t, ast.Position{Line: 0, Column: 9}, diags[0].Range.Start)
	assert.Equal(t, ast.Position{Line: 0, Column: 14}, diags[0].Range.End)
}

func TestValidate_Cancelled(t *testing.T) {
	t.Parallel()
	v, _ := newValidator(nil)
	doc := linkedDoc(t, "entity A {}")
	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	_, err := v.Validate(ctx, doc, validation.Options{})
	require.Error(t, err)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_SubtypeDispatch(t *testing.T) {
	t.Parallel()
	reg := validation.NewRegistry(domainmodel.Reflection, nil)
	noop := func(context.Context, *ast.Node, validation.Acceptor) error { return nil }
	reg.Register(domainmodel.TypeType, validation.Fast, noop)
	reg.Register(domainmodel.TypeEntity, validation.Slow, noop)
	reg.Register("", "", noop)

	assert.Equal(t, 3, reg.Len())
	assert.Len(t, reg.ChecksFor(domainmodel.TypeEntity, nil), 3)
	assert.Len(t, reg.ChecksFor(domainmodel.TypeDataType, nil), 2)
	assert.Len(t, reg.ChecksFor(domainmodel.TypeEntity, []validation.Category{validation.Slow}), 1)
	assert.Len(t, reg.ChecksFor(domainmodel.TypeFeature, nil), 1)
	assert.Equal(t, []validation.Category{validation.Fast, validation.Slow}, reg.Categories())
}

func TestRegistry_FailingChecksAreIsolated(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	reg := validation.NewRegistry(domainmodel.Reflection, logger)

	reg.RegisterNamed(domainmodel.TypeEntity, validation.Fast, "errors",
		func(_ context.Context, n *ast.Node, accept validation.Acceptor) error {
			accept(document.SeverityError, "discarded", validation.Info{Node: n})
			return errors.New("boom")
		})
	reg.RegisterNamed(domainmodel.TypeEntity, validation.Fast, "panics",
		func(_ context.Context, n *ast.Node, accept validation.Acceptor) error {
			accept(document.SeverityError, "discarded", validation.Info{Node: n})
			panic("kaboom")
		})
	reg.RegisterNamed(domainmodel.TypeEntity, "custom", "works",
		func(_ context.Context, n *ast.Node, accept validation.Acceptor) error {
			accept(document.SeverityHint, "kept", validation.Info{Node: n, Code: "kept"})
			return nil
		})
	v := validation.NewValidator(reg, "test", nil)
	doc := linkedDoc(t, "entity A {}")

	diags, err := v.Validate(context.Background(), doc, validation.Options{})
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "kept", diags[0].Message)
	assert.Equal(t, "custom", diags[0].Category)

	out := logs.String()
	assert.Contains(t, out, "validation check failed")
	assert.Contains(t, out, "check=errors")
	assert.Contains(t, out, "check=panics")
	assert.Contains(t, out, "node_type=Entity")
	assert.Contains(t, out, "kaboom")
}
