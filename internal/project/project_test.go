package project_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nimbus-robotics/gatewayd/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFindsEntryFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	p, err := project.Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, project.KindScripted, p.Kind)
	assert.Equal(t, filepath.Join(dir, "main.go"), p.EntryFile)
}

func TestDetectRejectsMissingEntryFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644))

	_, err := project.Detect(dir)
	assert.ErrorIs(t, err, project.ErrNoEntryFile)
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty, err := project.IsEmpty(dir)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("x"), 0o644))
	empty, err = project.IsEmpty(dir)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestIsEmptyMissingDirIsEmpty(t *testing.T) {
	t.Parallel()

	empty, err := project.IsEmpty(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestSeedFromDefaultCopiesWhenCurrentEmpty(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := project.NewStore(root)

	require.NoError(t, os.MkdirAll(store.DefaultDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.DefaultDir(), "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(store.DefaultDir(), ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.DefaultDir(), ".cache", "junk"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(store.CurrentDir(), 0o755))

	require.NoError(t, store.SeedFromDefault())

	assert.FileExists(t, filepath.Join(store.CurrentDir(), "main.go"))
	assert.NoDirExists(t, filepath.Join(store.CurrentDir(), ".cache"))
}

func TestSeedFromDefaultSkipsWhenCurrentNonEmpty(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := project.NewStore(root)

	require.NoError(t, os.MkdirAll(store.DefaultDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.DefaultDir(), "main.go"), []byte("default"), 0o644))
	require.NoError(t, os.MkdirAll(store.CurrentDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.CurrentDir(), "main.go"), []byte("existing"), 0o644))

	require.NoError(t, store.SeedFromDefault())

	got, err := os.ReadFile(filepath.Join(store.CurrentDir(), "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "existing", string(got))
}
