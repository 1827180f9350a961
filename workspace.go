package trellis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/build"
	"github.com/jward/trellis/internal/cancel"
	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/index"
	"github.com/jward/trellis/internal/lang"
	"github.com/jward/trellis/internal/lang/domainmodel"
	"github.com/jward/trellis/internal/lang/golang"
	"github.com/jward/trellis/internal/lock"
	"github.com/jward/trellis/internal/runtime"
	"github.com/jward/trellis/internal/scope"
	"github.com/jward/trellis/internal/validation"
)

var (
	// ErrUnknownLanguage is returned for documents no registered language
	// claims.
	ErrUnknownLanguage = errors.New("unknown language")
	// ErrDocumentNotFound is returned for URIs the workspace does not track.
	ErrDocumentNotFound = build.ErrDocumentNotFound
	// ErrReferenceNotFound is returned by ScopeFor when the addressed node
	// has no such reference.
	ErrReferenceNotFound = errors.New("reference not found")
)

// builtinLanguages returns every language shipped with the module.
func builtinLanguages() []*lang.Language {
	return []*lang.Language{domainmodel.Language(), golang.Language()}
}

// Workspace owns the documents, indexes, and builder of one analysis
// session. Mutations (Update, Build, and the overlay operations) are
// serialized as writes; queries run as reads and never observe a half-built
// batch.
type Workspace struct {
	languages       map[string]bool // nil means all built-in languages
	logger          *slog.Logger
	interruptPeriod time.Duration
	rulesFS         fs.FS
	rulesDir        string
	categories      []validation.Category

	registry  *lang.Registry
	docs      *document.Documents
	index     *index.Manager
	builder   *build.Builder
	providers map[string]*scope.Provider
	mutex     *lock.Mutex

	textMu  sync.Mutex
	overlay map[string]string // open documents
	loaded  map[string]string // read by LoadDirectory, consumed by the first parse

	pendingMu      sync.Mutex
	pendingChanged []string
	pendingDeleted []string
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLanguages restricts the workspace to the given language IDs.
func WithLanguages(ids ...string) Option {
	return func(w *Workspace) {
		w.languages = make(map[string]bool, len(ids))
		for _, id := range ids {
			w.languages[id] = true
		}
	}
}

// WithLogger sets the logger used by the builder, validation, and rules.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workspace) {
		w.logger = l
	}
}

// WithInterruptPeriod sets how long work may run between suspension points.
func WithInterruptPeriod(d time.Duration) Option {
	return func(w *Workspace) {
		w.interruptPeriod = d
	}
}

// WithRulesFS loads Risor validation rules from fsys. It takes precedence
// over WithRulesDir.
func WithRulesFS(fsys fs.FS) Option {
	return func(w *Workspace) {
		w.rulesFS = fsys
	}
}

// WithRulesDir loads Risor validation rules from dir on disk.
func WithRulesDir(dir string) Option {
	return func(w *Workspace) {
		w.rulesDir = dir
	}
}

// WithValidationCategories selects the validation categories run on every
// build. The default runs all of them.
func WithValidationCategories(cs ...validation.Category) Option {
	return func(w *Workspace) {
		w.categories = cs
	}
}

// New creates an empty workspace and loads its validation rules.
func New(opts ...Option) (*Workspace, error) {
	w := &Workspace{
		logger:          slog.Default(),
		interruptPeriod: cancel.DefaultPeriod,
		docs:            document.NewDocuments(),
		providers:       make(map[string]*scope.Provider),
		mutex:           lock.New(),
		overlay:         make(map[string]string),
		loaded:          make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}

	var langs []*lang.Language
	for _, l := range builtinLanguages() {
		if w.languages == nil || w.languages[l.ID] {
			langs = append(langs, l)
		}
	}
	for id := range w.languages {
		if !containsLanguage(langs, id) {
			return nil, fmt.Errorf("trellis: %w %q", ErrUnknownLanguage, id)
		}
	}
	registry, err := lang.NewRegistry(langs...)
	if err != nil {
		return nil, fmt.Errorf("trellis: %w", err)
	}
	w.registry = registry
	reflection := registry.Reflection()

	interrupt := cancel.NewInterrupter(w.interruptPeriod)
	rules := validation.NewRegistry(reflection, w.logger)
	exporters := make(exporter)
	services := make(map[string]*build.Services)
	w.index = index.NewManager(reflection, exporters)

	for _, l := range registry.All() {
		compOpts := []scope.ComputationOption{scope.WithInterrupter(interrupt)}
		if l.IsNamespace != nil {
			compOpts = append(compOpts, scope.WithNamespaces(l.IsNamespace))
		}
		comp := scope.NewComputation(compOpts...)
		exporters[l.ID] = comp

		provider := scope.NewProvider(l.Reflection, w.index, w.docs, l.CaseInsensitive)
		w.providers[l.ID] = provider
		if l.RegisterChecks != nil {
			l.RegisterChecks(rules)
		}
		services[l.ID] = &build.Services{
			Scopes:    comp,
			Linker:    scope.NewLinker(provider, w.docs, interrupt),
			Validator: validation.NewValidator(rules, l.ID, interrupt),
		}
	}

	if w.rulesFS != nil || w.rulesDir != "" {
		rtOpts := []runtime.RuntimeOption{runtime.WithLogger(w.logger), runtime.WithReflection(reflection)}
		if w.rulesFS != nil {
			rtOpts = append(rtOpts, runtime.WithRuntimeFS(w.rulesFS))
		}
		n, err := runtime.NewRuntime(w.rulesDir, rtOpts...).LoadRules(rules)
		if err != nil {
			return nil, fmt.Errorf("trellis: load rules: %w", err)
		}
		w.logger.Debug("validation rules loaded", "count", n)
	}

	w.builder = build.NewBuilder(w.docs, document.NewFactory(registry.Parser, w.text), w.index,
		func(id string) (*build.Services, bool) {
			svc, ok := services[id]
			return svc, ok
		},
		build.WithInterrupter(interrupt),
		build.WithLogger(w.logger),
		build.WithOpenDocuments(w.isOpen),
		build.WithCreator(w.create),
		build.WithUpdateOptions(w.buildOptions()),
	)
	return w, nil
}

func containsLanguage(langs []*lang.Language, id string) bool {
	for _, l := range langs {
		if l.ID == id {
			return true
		}
	}
	return false
}

// exporter dispatches symbol export to the computation of each document's
// language.
type exporter map[string]*scope.Computation

func (e exporter) ExportedSymbols(ctx context.Context, doc *document.Document) ([]*ast.Description, error) {
	comp, ok := e[doc.LanguageID]
	if !ok {
		return nil, nil
	}
	return comp.ExportedSymbols(ctx, doc)
}

func (w *Workspace) buildOptions() build.Options {
	return build.Options{Validation: &validation.Options{Categories: w.categories}}
}

// Languages returns the enabled languages.
func (w *Workspace) Languages() []*lang.Language {
	return w.registry.All()
}

// text is the factory's text source: the editor overlay first, then text
// read ahead by LoadDirectory, then the file on disk.
func (w *Workspace) text(uri string) (string, bool) {
	return w.readText(uri, true)
}

// readText looks up uri's text. With consume set, read-ahead text is handed
// out once.
func (w *Workspace) readText(uri string, consume bool) (string, bool) {
	w.textMu.Lock()
	if t, ok := w.overlay[uri]; ok {
		w.textMu.Unlock()
		return t, true
	}
	if t, ok := w.loaded[uri]; ok {
		if consume {
			delete(w.loaded, uri)
		}
		w.textMu.Unlock()
		return t, true
	}
	w.textMu.Unlock()

	data, err := os.ReadFile(lang.URIToPath(uri))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (w *Workspace) isOpen(uri string) bool {
	w.textMu.Lock()
	defer w.textMu.Unlock()
	_, ok := w.overlay[uri]
	return ok
}

// create tracks a document the builder has not seen before.
func (w *Workspace) create(uri string) (*document.Document, error) {
	l, ok := w.registry.ForURI(uri)
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, ErrUnknownLanguage)
	}
	text, ok := w.readText(uri, false)
	if !ok {
		return nil, fmt.Errorf("%s: no text available", uri)
	}
	return document.NewFromText(uri, l.ID, text), nil
}

// =============================================================================
// Mutations
// =============================================================================

// Open starts tracking an editor buffer. Its text takes precedence over the
// file on disk until Close.
func (w *Workspace) Open(ctx context.Context, uri, text string) error {
	if _, ok := w.registry.ForURI(uri); !ok {
		return fmt.Errorf("open %s: %w", uri, ErrUnknownLanguage)
	}
	w.textMu.Lock()
	w.overlay[uri] = text
	w.textMu.Unlock()
	return w.Update(ctx, []string{uri}, nil)
}

// Change replaces the text of an open buffer.
func (w *Workspace) Change(ctx context.Context, uri, text string) error {
	w.textMu.Lock()
	if _, ok := w.overlay[uri]; !ok {
		w.textMu.Unlock()
		return fmt.Errorf("change %s: document is not open", uri)
	}
	w.overlay[uri] = text
	w.textMu.Unlock()
	return w.Update(ctx, []string{uri}, nil)
}

// Close drops the editor buffer. The document falls back to its file on
// disk, or is deleted when there is none.
func (w *Workspace) Close(ctx context.Context, uri string) error {
	w.textMu.Lock()
	_, ok := w.overlay[uri]
	delete(w.overlay, uri)
	w.textMu.Unlock()
	if !ok {
		return nil
	}
	if _, err := os.Stat(lang.URIToPath(uri)); err != nil {
		return w.Update(ctx, nil, []string{uri})
	}
	return w.Update(ctx, []string{uri}, nil)
}

// Update applies changed and deleted URIs and rebuilds what they affect.
// A newer write cancels a running one; changes of a superseded update are
// carried into the next and Update then returns nil.
func (w *Workspace) Update(ctx context.Context, changed, deleted []string) error {
	w.pendingMu.Lock()
	w.pendingChanged = append(w.pendingChanged, changed...)
	w.pendingDeleted = append(w.pendingDeleted, deleted...)
	w.pendingMu.Unlock()

	return w.mutex.Write(ctx, func(ctx context.Context) error {
		w.pendingMu.Lock()
		changed, deleted := w.pendingChanged, w.pendingDeleted
		w.pendingChanged, w.pendingDeleted = nil, nil
		w.pendingMu.Unlock()
		return w.builder.Update(ctx, changed, deleted)
	})
}

// CancelWrite cancels the most recently requested Update or Build. Changes
// it carried are picked up by the next Update.
func (w *Workspace) CancelWrite() {
	w.mutex.CancelWrite()
}

// Build drives the given documents, or every tracked document when uris is
// empty, through validation with the workspace's categories.
func (w *Workspace) Build(ctx context.Context, uris ...string) error {
	return w.mutex.Write(ctx, func(ctx context.Context) error {
		var docs []*document.Document
		if len(uris) == 0 {
			docs = w.docs.All()
		}
		for _, uri := range uris {
			doc := w.docs.Get(uri)
			if doc == nil {
				return fmt.Errorf("build %s: %w", uri, ErrDocumentNotFound)
			}
			docs = append(docs, doc)
		}
		return w.builder.Build(ctx, docs, w.buildOptions())
	})
}

// =============================================================================
// Queries
// =============================================================================

// AllSymbols returns the global symbols whose type is a subtype of
// typeFilter. An empty filter returns every symbol.
func (w *Workspace) AllSymbols(ctx context.Context, typeFilter string) ([]*ast.Description, error) {
	var out []*ast.Description
	err := w.mutex.Read(ctx, func(context.Context) error {
		out = w.index.AllSymbols(typeFilter)
		return nil
	})
	return out, err
}

// ScopeFor returns the scope visible to the index-th reference under
// property of the node at path in uri.
func (w *Workspace) ScopeFor(ctx context.Context, uri, path, property string, index int) (scope.Scope, error) {
	var out scope.Scope
	err := w.mutex.Read(ctx, func(context.Context) error {
		doc := w.docs.Get(uri)
		if doc == nil {
			return fmt.Errorf("scope for %s: %w", uri, ErrDocumentNotFound)
		}
		var node *ast.Node
		if root := doc.Root(); root != nil {
			node = ast.Resolve(root, path)
		}
		if node == nil {
			return fmt.Errorf("scope for %s%s: %w", uri, path, ErrReferenceNotFound)
		}
		for _, ref := range node.References() {
			if ref.Property == property && ref.Index == index {
				out = w.providers[doc.LanguageID].ScopeFor(ref)
				return nil
			}
		}
		return fmt.Errorf("scope for %s%s.%s: %w", uri, path, property, ErrReferenceNotFound)
	})
	return out, err
}

// FindAllReferences returns every indexed reference to the node at path in
// uri.
func (w *Workspace) FindAllReferences(ctx context.Context, uri, path string) ([]index.ReferenceDescription, error) {
	var out []index.ReferenceDescription
	err := w.mutex.Read(ctx, func(context.Context) error {
		out = w.index.FindReferencesTo(uri, path)
		return nil
	})
	return out, err
}

// WaitUntil blocks until the document reaches state, the context is done,
// or the document is unknown. It does not take the workspace lock.
func (w *Workspace) WaitUntil(ctx context.Context, state document.State, uri string) error {
	return w.builder.WaitUntil(ctx, state, uri)
}

// Document returns a tracked document, or nil.
func (w *Workspace) Document(uri string) *document.Document {
	return w.docs.Get(uri)
}

// Documents returns every tracked document in insertion order.
func (w *Workspace) Documents() []*document.Document {
	return w.docs.All()
}

// Diagnostics returns a copy of the document's diagnostics.
func (w *Workspace) Diagnostics(ctx context.Context, uri string) ([]document.Diagnostic, error) {
	var out []document.Diagnostic
	err := w.mutex.Read(ctx, func(context.Context) error {
		doc := w.docs.Get(uri)
		if doc == nil {
			return fmt.Errorf("diagnostics for %s: %w", uri, ErrDocumentNotFound)
		}
		out = append([]document.Diagnostic(nil), doc.Diagnostics...)
		return nil
	})
	return out, err
}

// WaitForDiagnostics waits until the document is Validated and returns a
// copy of its diagnostics. The read does not queue behind pending writes.
func (w *Workspace) WaitForDiagnostics(ctx context.Context, uri string) ([]document.Diagnostic, error) {
	if err := w.builder.WaitUntil(ctx, document.Validated, uri); err != nil {
		return nil, err
	}
	var out []document.Diagnostic
	err := w.mutex.PriorityRead(ctx, func(context.Context) error {
		doc := w.docs.Get(uri)
		if doc == nil {
			return fmt.Errorf("diagnostics for %s: %w", uri, ErrDocumentNotFound)
		}
		out = append([]document.Diagnostic(nil), doc.Diagnostics...)
		return nil
	})
	return out, err
}

// OnUpdate registers fn to run after every Update resets its documents.
func (w *Workspace) OnUpdate(fn build.UpdateListener) (dispose func()) {
	return w.builder.OnUpdate(fn)
}

// OnBuildPhase registers fn to run once per batch after its documents
// reach s.
func (w *Workspace) OnBuildPhase(s document.State, fn build.BuildPhaseListener) (dispose func()) {
	return w.builder.OnBuildPhase(s, fn)
}

// OnDocumentPhase registers fn to run each time a document reaches s.
func (w *Workspace) OnDocumentPhase(s document.State, fn build.DocumentPhaseListener) (dispose func()) {
	return w.builder.OnDocumentPhase(s, fn)
}
