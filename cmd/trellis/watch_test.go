package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis"
	"github.com/jward/trellis/internal/lang"
)

func newLoadedWorkspace(t *testing.T, dir string) *trellis.Workspace {
	t.Helper()
	ws, err := trellis.New()
	require.NoError(t, err)
	require.NoError(t, ws.LoadDirectory(context.Background(), dir))
	return ws
}

func TestClassifyPaths(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dmodel"), []byte("entity A {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.dmodel"), []byte("entity B {}"), 0o644))
	ws := newLoadedWorkspace(t, dir)
	require.Len(t, ws.Documents(), 2)

	// sub/ disappears, a new directory arrives with a file inside, and a
	// non-model file changes.
	require.NoError(t, os.RemoveAll(sub))
	moved := filepath.Join(dir, "moved")
	require.NoError(t, os.MkdirAll(moved, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(moved, "c.dmodel"), []byte("entity C {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	changed, deleted := classifyPaths(ws, ws.PathFilter(dir), []string{
		filepath.Join(dir, "a.dmodel"),
		moved,
		filepath.Join(dir, "notes.txt"),
		sub,
	})
	assert.ElementsMatch(t, []string{
		lang.PathToURI(filepath.Join(dir, "a.dmodel")),
		lang.PathToURI(filepath.Join(moved, "c.dmodel")),
	}, changed)
	assert.Equal(t, []string{lang.PathToURI(filepath.Join(sub, "b.dmodel"))}, deleted)
}

func TestWatchDirectory_DebouncesEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ws, err := trellis.New()
	require.NoError(t, err)

	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	batches := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchDirectory(ctx, dir, 50*time.Millisecond, ws.PathFilter(dir), func(paths []string) {
			batches <- paths
		})
	}()

	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)
	a := filepath.Join(dir, "a.dmodel")
	require.NoError(t, os.WriteFile(a, []byte("entity A {}"), 0o644))
	require.NoError(t, os.WriteFile(a, []byte("entity A2 {}"), 0o644))

	select {
	case paths := <-batches:
		assert.Contains(t, paths, a)
	case <-ctx.Done():
		t.Fatal("no batch delivered")
	}

	cancelFn()
	assert.NoError(t, <-done)
}

func TestRebuild_UpdatesSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.dmodel")
	require.NoError(t, os.WriteFile(a, []byte("entity Foo {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dmodel"), []byte("entity Bar extends Foo {}"), 0o644))

	ws := newLoadedWorkspace(t, dir)
	st, err := trellis.NewStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	s := &session{targetDir: dir, config: DefaultConfig(), ws: ws, store: st}
	ctx := context.Background()
	require.NoError(t, ws.Export(ctx, st))

	require.NoError(t, os.WriteFile(a, []byte("entity Baz {}"), 0o644))
	rebuild(ctx, s, ws.PathFilter(dir), []string{a})

	diags, err := st.DiagnosticsFor(lang.PathToURI(filepath.Join(dir, "b.dmodel")))
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "linking-error", diags[0].Code)

	syms, err := st.SymbolsByName("Baz")
	require.NoError(t, err)
	assert.Len(t, syms, 1)
}
