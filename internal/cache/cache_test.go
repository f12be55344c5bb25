package cache

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/ambience_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_Paths(t *testing.T) {
	s := New("/data/ambience", "", discardLogger())

	assert.Equal(t, "/data/ambience/forest.jpg", s.ThumbnailPath("forest.jpg"))
	assert.Equal(t, "/data/ambience/ambience-forest.jpg", s.FullImagePath("forest.jpg"))
	// Empty names are not validated.
	assert.Equal(t, "/data/ambience", s.ThumbnailPath(""))
}

func TestStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	s := New(dir, "ambience-", discardLogger())
	require.NoError(t, s.InitErr())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStore_DirectoryFailureIsNotFatal(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))

	s := New(filepath.Join(parent, "cache"), "ambience-", discardLogger())

	var fsErr *transfer.FileSystemError
	require.ErrorAs(t, s.InitErr(), &fsErr)
	assert.Equal(t, "mkdir", fsErr.Op)

	assert.False(t, s.HasThumbnail("forest.jpg"))

	_, err := s.CreateThumbnail("forest.jpg")
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "create", fsErr.Op)
}

func TestStore_HasThumbnail(t *testing.T) {
	s := New(t.TempDir(), "ambience-", discardLogger())

	assert.False(t, s.HasThumbnail("forest.jpg"))

	f, err := s.CreateThumbnail("forest.jpg")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.False(t, s.HasThumbnail("forest.jpg"), "empty file counts as absent")

	require.NoError(t, os.WriteFile(s.ThumbnailPath("forest.jpg"), []byte("png"), 0o600))
	assert.True(t, s.HasThumbnail("forest.jpg"))
	assert.False(t, s.HasFullImage("forest.jpg"))

	require.NoError(t, os.Mkdir(s.ThumbnailPath("dir.jpg"), 0o755))
	assert.False(t, s.HasThumbnail("dir.jpg"))
}

func TestStore_CreateTruncates(t *testing.T) {
	s := New(t.TempDir(), "ambience-", discardLogger())
	require.NoError(t, os.WriteFile(s.FullImagePath("lake.jpg"), []byte("old content"), 0o600))

	f, err := s.CreateFullImage("lake.jpg")
	require.NoError(t, err)
	_, err = f.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(s.FullImagePath("lake.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.True(t, s.HasFullImage("lake.jpg"))
}
