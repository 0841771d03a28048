package collab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSource_Load(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c1", "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c1", "src", "a.js"), []byte("let a = 1"), 0o644))

	src := &DirSource{Root: root, MaxBytes: 1024}
	ctx := t.Context()

	got, err := src.Load(ctx, "c1", "/src/a.js")
	require.NoError(t, err)
	assert.Equal(t, "let a = 1", got)

	got, err = src.Load(ctx, "c1", "/src/missing.js")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = src.Load(ctx, "c1", "/src")
	assert.Error(t, err)
}

func TestDirSource_RejectsTraversal(t *testing.T) {
	src := &DirSource{Root: t.TempDir()}
	ctx := t.Context()

	for _, tc := range []struct{ container, path string }{
		{"c1", "/../../etc/passwd"},
		{"..", "/etc/passwd"},
		{"c1/../c2", "/a.js"},
		{"", "/a.js"},
		{"c1", "/"},
	} {
		_, err := src.Load(ctx, tc.container, tc.path)
		assert.ErrorIs(t, err, errOutsideRoot, "%s %s", tc.container, tc.path)
	}
}

func TestDirSource_EnforcesSizeLimit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "c1", "big.txt"), make([]byte, 64), 0o644))

	_, err := (&DirSource{Root: root, MaxBytes: 16}).Load(t.Context(), "c1", "big.txt")
	assert.Error(t, err)
}
