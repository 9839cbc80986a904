package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilse31/anime-scrapper/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "pages")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	baseDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: baseDir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/detail/abc.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)

	want := filepath.Join(baseDir, "pages", "detail", "abc.html")
	assert.Equal(t, "file://"+want, uri)
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(got))

	_, err = store.PutObject(context.Background(), "pages/detail/abc.html", "text/html", []byte("<html>v2</html>"))
	require.NoError(t, err)
	got, err = os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "<html>v2</html>", string(got))

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), " ", "text/html", nil)
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	assert.ErrorContains(t, err, "path traversal")
}
