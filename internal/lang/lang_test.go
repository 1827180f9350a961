package lang

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/ast"
)

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()
	a := &Language{ID: "a", Extensions: []string{".A"}, Reflection: ast.NewReflection(map[string][]string{"X": {"Y"}}, nil)}
	b := &Language{ID: "b", Extensions: []string{".b", ".bb"}, Reflection: ast.NewReflection(map[string][]string{"P": {"Q"}}, nil)}
	reg, err := NewRegistry(b, a)
	require.NoError(t, err)

	l, ok := reg.ForPath("/src/file.a")
	require.True(t, ok)
	assert.Equal(t, "a", l.ID)

	l, ok = reg.ForURI("file:///src/other.bb")
	require.True(t, ok)
	assert.Equal(t, "b", l.ID)

	_, ok = reg.ForPath("readme.md")
	assert.False(t, ok)

	_, ok = reg.ByID("c")
	assert.False(t, ok)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	refl := reg.Reflection()
	assert.True(t, refl.IsSubtype("X", "Y"))
	assert.True(t, refl.IsSubtype("P", "Q"))
}

func TestRegistry_Conflicts(t *testing.T) {
	t.Parallel()
	_, err := NewRegistry(&Language{ID: "a"}, &Language{ID: "a"})
	assert.ErrorContains(t, err, "duplicate language")

	_, err = NewRegistry(&Language{ID: "a", Extensions: []string{".x"}}, &Language{ID: "b", Extensions: []string{".X"}})
	assert.ErrorContains(t, err, "claimed by a and b")
}

func TestURIRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dir with space", "m.dmodel")
	uri := PathToURI(path)
	assert.Contains(t, uri, "file://")
	assert.Contains(t, uri, "%20")
	assert.Equal(t, path, URIToPath(uri))

	assert.Equal(t, "untitled:1", URIToPath("untitled:1"))
}
