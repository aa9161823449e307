package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingReader returns some bytes and then an error, like an aborted upload.
type failingReader struct {
	sent bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, errors.New("connection reset")
	}
	r.sent = true
	return copy(p, "partial data"), nil
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("saves file to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		n, err := store.Save("abc123.txt", bytes.NewReader([]byte("test content")))
		require.NoError(t, err)
		assert.Equal(t, int64(12), n)

		content, err := os.ReadFile(filepath.Join(dir, "abc123.txt"))
		require.NoError(t, err)
		assert.Equal(t, "test content", string(content))
		assert.Equal(t, []string{"abc123.txt"}, listDir(t, dir))
	})

	t.Run("saves large content", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		largeContent := strings.Repeat("x", 1024*1024)
		n, err := store.Save("large", strings.NewReader(largeContent))
		require.NoError(t, err)
		assert.Equal(t, int64(len(largeContent)), n)
	})

	t.Run("aborted write leaves nothing behind", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		_, err := store.Save("aborted.bin", &failingReader{})
		require.Error(t, err)
		assert.Empty(t, listDir(t, dir))
	})

	t.Run("rejects traversal keys", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		for _, key := range []string{"../escape", "a/b", "..", ".hidden", "", "a\\b"} {
			_, err := store.Save(key, strings.NewReader("x"))
			assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
		}
		assert.Empty(t, listDir(t, dir))
	})
}

func TestFileSystemStore_Size(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSystemStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sized"), []byte("12345"), 0644))

	size, err := store.Size("sized")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	_, err = store.Size("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSystemStore_Claim(t *testing.T) {
	t.Run("claims once", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "out.zip"), []byte("data"), 0644))

		f, claimed, err := store.Claim("out.zip")
		require.NoError(t, err)

		content, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "data", string(content))
		require.NoError(t, f.Close())

		_, _, err = store.Claim("out.zip")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.Remove(claimed))
		assert.Empty(t, listDir(t, dir))
	})

	t.Run("missing key", func(t *testing.T) {
		_, _, err := NewFileSystemStore(t.TempDir()).Claim("nope.zip")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("traversal key", func(t *testing.T) {
		_, _, err := NewFileSystemStore(t.TempDir()).Claim("../../etc/passwd")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		filePath := filepath.Join(dir, "del123.zip")
		require.NoError(t, os.WriteFile(filePath, []byte("data"), 0644))

		require.NoError(t, store.Delete("del123.zip"))
		_, err := os.Stat(filePath)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("no error for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		assert.NoError(t, store.Delete("nonexistent"))
	})

	t.Run("remove refuses paths outside the store", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "victim")
		require.NoError(t, os.WriteFile(outside, []byte("keep"), 0644))

		store := NewFileSystemStore(t.TempDir())
		assert.ErrorIs(t, store.Remove(outside), ErrInvalidKey)
		_, err := os.Stat(outside)
		assert.NoError(t, err)
	})
}

func TestFileSystemStore_Sweep(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSystemStore(dir)

	old := filepath.Join(dir, "old.zip")
	fresh := filepath.Join(dir, "fresh.zip")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := store.Sweep(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.ElementsMatch(t, []string{"fresh.zip", "subdir"}, listDir(t, dir))
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		require.NoError(t, store.EnsureDir())

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		assert.NoError(t, NewFileSystemStore(t.TempDir()).EnsureDir())
	})
}

func TestReaper_RunOnce(t *testing.T) {
	stagingDir, outputDir := t.TempDir(), t.TempDir()
	staging := NewFileSystemStore(stagingDir)
	output := NewFileSystemStore(outputDir)

	past := time.Now().Add(-3 * time.Hour)
	for _, p := range []string{filepath.Join(stagingDir, "a.txt"), filepath.Join(outputDir, "b.zip")} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		require.NoError(t, os.Chtimes(p, past, past))
	}
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "c.zip"), []byte("x"), 0644))

	r := NewReaper(map[string]Store{"staging": staging, "output": output}, time.Minute, time.Hour)
	assert.Equal(t, 2, r.RunOnce())
	assert.Empty(t, listDir(t, stagingDir))
	assert.Equal(t, []string{"c.zip"}, listDir(t, outputDir))
}
