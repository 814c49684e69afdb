package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o600))
}

func TestNames(t *testing.T) {
	assert.True(t, IsReserved(".gitkeep"))
	assert.False(t, IsReserved("a.jpg"))
	assert.True(t, IsMetadata("abc.meta.json"))
	assert.False(t, IsMetadata("abc.json"))
	assert.Equal(t, "abc", BaseName("abc.webp"))
	assert.Equal(t, "abc", BaseName("abc.meta.json"))
	assert.Equal(t, "abc.meta.json", MetadataName("abc.png"))
	assert.Equal(t, "jpg", Extension("A.JPG"))
	assert.Equal(t, "", Extension("noext"))
}

func TestListFiles_SkipsReservedMetadataAndDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitkeep", 0)
	writeFile(t, dir, "a.jpg", 10)
	writeFile(t, dir, "a.meta.json", 5)
	writeFile(t, dir, "b.tmp", 3)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o750))

	files, err := ListFiles(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a.jpg", "b.tmp"}, names)
}

func TestListFiles_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Empty(t, files)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRemoveArtifact(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", 42)
	writeFile(t, dir, "a.meta.json", 7)

	freed, removed, err := RemoveArtifact(dir, "a.png")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, int64(42), freed)

	_, err = os.Stat(filepath.Join(dir, "a.meta.json"))
	assert.True(t, os.IsNotExist(err))

	freed, removed, err = RemoveArtifact(dir, "a.png")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Zero(t, freed)
}

func TestRemoveArtifact_NeverTouchesReserved(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitkeep", 0)

	_, removed, err := RemoveArtifact(dir, ".gitkeep")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = os.Stat(filepath.Join(dir, ".gitkeep"))
	assert.NoError(t, err)
}
