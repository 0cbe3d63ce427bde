package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"nebulaktv/internal/testsupport"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendReadsFromOffset(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := testsupport.Pattern(1000)
	testsupport.WriteFile(t, fs, "processed/song/a.mp3", data)
	b := NewLocalFs(fs)
	ctx := context.Background()

	ok, err := b.Exists(ctx, "processed/song/a.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := b.Size(ctx, "/processed/song/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), size)

	rc, err := b.OpenForRead(ctx, "processed/song/a.mp3", 900)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data[900:], got)
}

func TestLocalBackendMissingFile(t *testing.T) {
	b := NewLocalFs(afero.NewMemMapFs())
	ctx := context.Background()

	ok, err := b.Exists(ctx, "nope.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.Size(ctx, "nope.mp4")
	assert.ErrorIs(t, err, ErrNotExist)

	_, err = b.OpenForRead(ctx, "nope.mp4", 0)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalBackendTreatsDirectoryAsMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("processed/song", 0o755))
	b := NewLocalFs(fs)

	ok, err := b.Exists(context.Background(), "processed/song")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalBackendCannotEscapeRoot(t *testing.T) {
	base := afero.NewMemMapFs()
	testsupport.WriteFile(t, base, "/secret.txt", []byte("x"))
	testsupport.WriteFile(t, base, "/media/ok.mp3", []byte("y"))
	b := NewLocalFs(afero.NewBasePathFs(base, "/media"))

	ok, err := b.Exists(context.Background(), "../secret.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.Exists(context.Background(), "ok.mp3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCleanKey(t *testing.T) {
	assert.Equal(t, "processed/a/b.mp3", cleanKey("/processed/a/b.mp3"))
	assert.Equal(t, "processed/b.mp3", cleanKey("processed/a/../b.mp3"))
	assert.Equal(t, "secret.txt", cleanKey("../../secret.txt"))
	assert.Equal(t, "a/b.vtt", cleanKey(`a\b.vtt`))
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNoSuchKey(errors.New("dial tcp: refused")))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "3.0 MB", FormatSize(3*1024*1024))
}
