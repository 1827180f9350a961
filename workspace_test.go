package trellis

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/lang"
	"github.com/jward/trellis/internal/validation"
)

func newTestWorkspace(t *testing.T, opts ...Option) *Workspace {
	t.Helper()
	w, err := New(opts...)
	require.NoError(t, err)
	return w
}

// writeFiles creates files (relative path → content) under dir.
func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// loadModel writes A (entity Foo) and B (entity Bar extends Foo) to a temp
// directory and loads it.
func loadModel(t *testing.T, w *Workspace) (dir, uriA, uriB string) {
	t.Helper()
	dir = t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.dmodel": "entity Foo {}",
		"b.dmodel": "entity Bar extends Foo {}",
	})
	require.NoError(t, w.LoadDirectory(context.Background(), dir))
	return dir, lang.PathToURI(filepath.Join(dir, "a.dmodel")), lang.PathToURI(filepath.Join(dir, "b.dmodel"))
}

func diagnosticCodes(t *testing.T, w *Workspace, uri string) []string {
	t.Helper()
	diags, err := w.Diagnostics(context.Background(), uri)
	require.NoError(t, err)
	var codes []string
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	return codes
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_DefaultLanguages(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	var ids []string
	for _, l := range w.Languages() {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"domainmodel", "go"}, ids)
}

func TestNew_WithLanguages(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t, WithLanguages("go"))
	require.Len(t, w.Languages(), 1)

	_, err := New(WithLanguages("cobol"))
	assert.ErrorIs(t, err, ErrUnknownLanguage)
}

// =============================================================================
// Loading & updating
// =============================================================================

func TestLoadDirectory(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.dmodel":                  "entity Foo {}",
		"sub/b.dmodel":              "entity Bar extends Foo {}",
		"node_modules/dep/x.dmodel": "entity X {}",
		".hidden/y.dmodel":          "entity Y {}",
		"ignored/z.dmodel":          "entity Z {}",
		"notes.txt":                 "not a model",
		".gitignore":                "ignored/\n",
	})
	require.NoError(t, w.LoadDirectory(context.Background(), dir))

	docs := w.Documents()
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, Validated, d.State, d.URI)
	}

	uriA := lang.PathToURI(filepath.Join(dir, "a.dmodel"))
	refs, err := w.FindAllReferences(context.Background(), uriA, "/elements@0")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, lang.PathToURI(filepath.Join(dir, "sub", "b.dmodel")), refs[0].SourceURI)
	assert.Equal(t, uriA, refs[0].TargetURI)
}

func TestLoadDirectory_TracksFilesInsideItsWrite(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	dir, _, uriB := loadModel(t, w)
	writeFiles(t, dir, map[string]string{"c.dmodel": "entity Baz extends Bar {}"})
	uriC := lang.PathToURI(filepath.Join(dir, "c.dmodel"))
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	stop := w.OnDocumentPhase(Parsed, func(d *Document) {
		if d.URI == uriB {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})
	defer stop()

	held := make(chan error, 1)
	go func() { held <- w.Update(ctx, []string{uriB}, nil) }()
	<-entered

	loaded := make(chan error, 1)
	go func() { loaded <- w.LoadDirectory(ctx, dir) }()
	require.Eventually(t, func() bool {
		w.pendingMu.Lock()
		defer w.pendingMu.Unlock()
		return len(w.pendingChanged) > 0
	}, 5*time.Second, time.Millisecond)
	assert.Nil(t, w.Document(uriC), "not tracked while another write holds the lock")

	close(release)
	require.NoError(t, <-held)
	require.NoError(t, <-loaded)
	doc := w.Document(uriC)
	require.NotNil(t, doc)
	assert.Equal(t, Validated, doc.State)
	assert.Empty(t, diagnosticCodes(t, w, uriC))
}

func TestUpdate_RenameBreaksDependentLink(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	dir, uriA, uriB := loadModel(t, w)
	assert.Empty(t, diagnosticCodes(t, w, uriB))

	writeFiles(t, dir, map[string]string{"a.dmodel": "entity Baz {}"})
	require.NoError(t, w.Update(context.Background(), []string{uriA}, nil))

	diags, err := w.Diagnostics(context.Background(), uriB)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, validation.CodeLinkingError, diags[0].Code)
	assert.Equal(t, "Could not resolve reference to Entity named 'Foo'.", diags[0].Message)

	refs, err := w.FindAllReferences(context.Background(), uriA, "/elements@0")
	require.NoError(t, err)
	assert.Empty(t, refs)

	// Renaming back heals the link.
	writeFiles(t, dir, map[string]string{"a.dmodel": "entity Foo {}"})
	require.NoError(t, w.Update(context.Background(), []string{uriA}, nil))
	assert.Empty(t, diagnosticCodes(t, w, uriB))
}

func TestUpdate_Delete(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	dir, uriA, uriB := loadModel(t, w)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.dmodel")))
	require.NoError(t, w.Update(context.Background(), nil, []string{uriA}))

	assert.Nil(t, w.Document(uriA))
	assert.Equal(t, []string{validation.CodeLinkingError}, diagnosticCodes(t, w, uriB))

	_, err := w.Diagnostics(context.Background(), uriA)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestUpdate_NewFileIsTracked(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	dir, _, _ := loadModel(t, w)

	writeFiles(t, dir, map[string]string{"c.dmodel": "entity C extends Bar {}"})
	uriC := lang.PathToURI(filepath.Join(dir, "c.dmodel"))
	require.NoError(t, w.Update(context.Background(), []string{uriC}, nil))

	doc := w.Document(uriC)
	require.NotNil(t, doc)
	assert.Equal(t, Validated, doc.State)
	assert.Empty(t, diagnosticCodes(t, w, uriC))
}

func TestUpdate_SupersededChangesAreKept(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t, WithInterruptPeriod(0))
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.dmodel": "entity Foo {}",
		"b.dmodel": "entity Bar extends Foo {}",
		"c.dmodel": "entity Baz extends Bar {}",
	})
	uri := func(name string) string { return lang.PathToURI(filepath.Join(dir, name)) }
	ctx := context.Background()

	second := make(chan error, 1)
	var once sync.Once
	stop := w.OnDocumentPhase(Parsed, func(*Document) {
		once.Do(func() {
			go func() { second <- w.Update(ctx, []string{uri("c.dmodel")}, nil) }()
			// Hold the first update until the second has been requested, so
			// the first stops at its next suspension point.
			require.Eventually(t, func() bool {
				w.pendingMu.Lock()
				defer w.pendingMu.Unlock()
				return len(w.pendingChanged) > 0
			}, 5*time.Second, time.Millisecond)
			time.Sleep(10 * time.Millisecond)
		})
	})
	defer stop()

	require.NoError(t, w.Update(ctx, []string{uri("a.dmodel"), uri("b.dmodel")}, nil))
	require.NoError(t, <-second)

	for _, name := range []string{"a.dmodel", "b.dmodel", "c.dmodel"} {
		doc := w.Document(uri(name))
		require.NotNil(t, doc, name)
		assert.Equal(t, Validated, doc.State, name)
		assert.Empty(t, diagnosticCodes(t, w, uri(name)), name)
	}
	refs, err := w.FindAllReferences(ctx, uri("b.dmodel"), "/elements@0")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, uri("c.dmodel"), refs[0].SourceURI)
}

func TestCancelWrite(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	_, _, uriB := loadModel(t, w)
	ctx := context.Background()

	stop := w.OnDocumentPhase(Parsed, func(*Document) { w.CancelWrite() })
	require.NoError(t, w.Update(ctx, []string{uriB}, nil), "a cancelled write reports no error")
	stop()
	assert.Less(t, w.Document(uriB).State, Validated)

	require.NoError(t, w.Update(ctx, nil, nil))
	assert.Equal(t, Validated, w.Document(uriB).State)
	assert.Empty(t, diagnosticCodes(t, w, uriB))
}

func TestWaitForDiagnostics_DoesNotQueueBehindWrites(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	_, uriA, uriB := loadModel(t, w)
	ctx := context.Background()
	require.NoError(t, w.Open(ctx, uriA, "entity Foo {} entity lower {}"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	stop := w.OnDocumentPhase(Parsed, func(d *Document) {
		if d.URI == uriB {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})
	defer stop()

	done := make(chan error, 1)
	go func() { done <- w.Update(ctx, []string{uriB}, nil) }()
	<-entered

	short, cancelFn := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelFn()
	_, err := w.Diagnostics(short, uriA)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "plain reads wait for the running write")

	diags, err := w.WaitForDiagnostics(ctx, uriA)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "type-capitalized", diags[0].Code)

	close(release)
	require.NoError(t, <-done)

	_, err = w.WaitForDiagnostics(ctx, "file:///missing.dmodel")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

// =============================================================================
// Editor overlay
// =============================================================================

func TestOpenChangeClose(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	_, uriA, uriB := loadModel(t, w)
	ctx := context.Background()

	require.NoError(t, w.Open(ctx, uriA, "entity Baz {}"))
	assert.Equal(t, []string{validation.CodeLinkingError}, diagnosticCodes(t, w, uriB))

	require.NoError(t, w.Change(ctx, uriA, "entity Foo {} entity Baz {}"))
	assert.Empty(t, diagnosticCodes(t, w, uriB))

	require.NoError(t, w.Change(ctx, uriA, "entity Qux {}"))
	require.NoError(t, w.Close(ctx, uriA))
	assert.Equal(t, "entity Foo {}", w.Document(uriA).Text(), "closing falls back to the file on disk")
	assert.Empty(t, diagnosticCodes(t, w, uriB))
}

func TestOpen_UnsavedBuffer(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	ctx := context.Background()
	uri := lang.PathToURI(filepath.Join(t.TempDir(), "scratch.dmodel"))

	require.NoError(t, w.Open(ctx, uri, "entity lower {}"))
	assert.Equal(t, []string{"type-capitalized"}, diagnosticCodes(t, w, uri))

	require.NoError(t, w.Close(ctx, uri))
	assert.Nil(t, w.Document(uri), "a buffer with no file behind it is dropped")
	require.NoError(t, w.Close(ctx, uri), "closing twice is a no-op")
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	ctx := context.Background()

	err := w.Open(ctx, "file:///readme.md", "# hi")
	assert.ErrorIs(t, err, ErrUnknownLanguage)

	err = w.Change(ctx, "file:///never-opened.dmodel", "entity A {}")
	assert.ErrorContains(t, err, "not open")
}

// =============================================================================
// Queries
// =============================================================================

func TestAllSymbols(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	loadModel(t, w)

	syms, err := w.AllSymbols(context.Background(), "Entity")
	require.NoError(t, err)
	var names []string
	for _, s := range syms {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"Foo", "Bar"}, names)
	for _, s := range syms {
		assert.Nil(t, s.Node, "index descriptions are detached")
	}

	syms, err = w.AllSymbols(context.Background(), "DataType")
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestScopeFor(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	_, uriA, uriB := loadModel(t, w)
	ctx := context.Background()

	sc, err := w.ScopeFor(ctx, uriB, "/elements@0", "superType", 0)
	require.NoError(t, err)
	foo := sc.Element("Foo")
	require.NotNil(t, foo)
	assert.Equal(t, uriA, foo.DocumentURI)
	assert.Nil(t, sc.Element("Nope"))

	_, err = w.ScopeFor(ctx, uriB, "/elements@0", "superType", 1)
	assert.ErrorIs(t, err, ErrReferenceNotFound)
	_, err = w.ScopeFor(ctx, uriB, "/elements@9", "superType", 0)
	assert.ErrorIs(t, err, ErrReferenceNotFound)
	_, err = w.ScopeFor(ctx, "file:///missing.dmodel", "/elements@0", "superType", 0)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestWaitUntil(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	_, _, uriB := loadModel(t, w)

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()
	require.NoError(t, w.WaitUntil(ctx, Validated, uriB))
	assert.ErrorIs(t, w.WaitUntil(ctx, Linked, "file:///missing.dmodel"), ErrDocumentNotFound)
}

func TestGoSources(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"server.go": `package app

type Server struct {
	cfg Config
}

func NewServer(c Config) *Server { return &Server{cfg: c} }
`,
		"config.go": `package app

type Config struct {
	Addr string
	Addr int
}
`,
	})
	require.NoError(t, w.LoadDirectory(context.Background(), dir))

	uriConfig := lang.PathToURI(filepath.Join(dir, "config.go"))
	refs, err := w.FindAllReferences(context.Background(), uriConfig, "/decls@0")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	for _, r := range refs {
		assert.False(t, r.Local)
		assert.Equal(t, "Config", r.Text)
	}
	assert.Equal(t, []string{"duplicate-field"}, diagnosticCodes(t, w, uriConfig))
}

// =============================================================================
// Validation rules & categories
// =============================================================================

func TestRules_FromFS(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	fsys := fstest.MapFS{
		"slow/Entity.risor": &fstest.MapFile{Data: []byte(`accept("hint", 'entity {node["name"]}', {"code": "seen"})`)},
	}
	w := newTestWorkspace(t, WithRulesFS(fsys), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	_, uriA, _ := loadModel(t, w)

	diags, err := w.Diagnostics(context.Background(), uriA)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "seen", diags[0].Code)
	assert.Equal(t, "entity Foo", diags[0].Message)
	assert.Equal(t, string(CategorySlow), diags[0].Category)
}

func TestWithValidationCategories(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"slow/Entity.risor": &fstest.MapFile{Data: []byte(`accept("hint", "slow rule")`)},
	}
	w := newTestWorkspace(t, WithRulesFS(fsys), WithValidationCategories(CategoryFast, CategoryBuiltIn))
	_, uriA, _ := loadModel(t, w)
	assert.Empty(t, diagnosticCodes(t, w, uriA))
}

// =============================================================================
// Export
// =============================================================================

func TestExport(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t)
	dir, uriA, uriB := loadModel(t, w)
	ctx := context.Background()

	st, err := NewStore(filepath.Join(t.TempDir(), "trellis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, w.Export(ctx, st))

	syms, err := st.SymbolsByName("Foo")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, uriA, syms[0].DocumentURI)
	assert.Equal(t, "/elements@0", syms[0].Path)

	refs, err := st.ReferencesTo(uriA, "/elements@0")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, uriB, refs[0].SourceURI)

	referencing, err := st.DocumentsReferencing(uriA)
	require.NoError(t, err)
	assert.Equal(t, []string{uriB}, referencing)

	// Deleted documents disappear from the next export.
	require.NoError(t, os.Remove(filepath.Join(dir, "a.dmodel")))
	require.NoError(t, w.Update(ctx, nil, []string{uriA}))
	require.NoError(t, w.Export(ctx, st))

	docs, err := st.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Validated", docs[0].State)

	diags, err := st.DiagnosticsFor(uriB)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, validation.CodeLinkingError, diags[0].Code)
}

// =============================================================================
// Path filtering
// =============================================================================

func TestPathFilter(t *testing.T) {
	t.Parallel()
	w := newTestWorkspace(t, WithLanguages("domainmodel"))
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{".gitignore": "gen/\n*.tmp.dmodel\n"})
	f := w.PathFilter(dir)

	assert.True(t, f.Accept(filepath.Join(dir, "a.dmodel")))
	assert.True(t, f.Accept(filepath.Join(dir, "deep", "er", "b.dmodel")))
	assert.False(t, f.Accept(filepath.Join(dir, "main.go")), "language not enabled")
	assert.False(t, f.Accept(filepath.Join(dir, "gen", "c.dmodel")))
	assert.False(t, f.Accept(filepath.Join(dir, "x.tmp.dmodel")))
	assert.False(t, f.Accept(filepath.Join(dir, "vendor", "d.dmodel")))
	assert.False(t, f.Accept(filepath.Join(dir, ".cache", "e.dmodel")))
	assert.True(t, f.SkipDir(filepath.Join(dir, "node_modules")))
	assert.False(t, f.SkipDir(filepath.Join(dir, "src")))
}
