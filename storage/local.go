package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/afero"
)

// LocalBackend 读取媒体根目录下的文件
type LocalBackend struct {
	fs afero.Fs
}

// NewLocal roots the backend at dir. Paths cannot escape it.
func NewLocal(dir string) *LocalBackend {
	return &LocalBackend{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}
}

// NewLocalFs wraps an existing filesystem, mainly afero.NewMemMapFs in tests.
func NewLocalFs(fsys afero.Fs) *LocalBackend {
	return &LocalBackend{fs: fsys}
}

func (b *LocalBackend) stat(p string) (os.FileInfo, error) {
	info, err := b.fs.Stat(cleanKey(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, p)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotExist, p)
	}
	return info, nil
}

func (b *LocalBackend) Exists(_ context.Context, p string) (bool, error) {
	_, err := b.stat(p)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b *LocalBackend) Size(_ context.Context, p string) (int64, error) {
	info, err := b.stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *LocalBackend) OpenForRead(_ context.Context, p string, offset int64) (io.ReadCloser, error) {
	f, err := b.fs.Open(cleanKey(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, p)
		}
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s to %d: %w", p, offset, err)
		}
	}
	return f, nil
}
