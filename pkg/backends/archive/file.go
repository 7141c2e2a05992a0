package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/utils/files"
)

// FileTransport reaches an archive mounted on the local filesystem.
type FileTransport struct {
	base string
}

var _ Transport = &FileTransport{}

// NewFileTransport serves archive paths under the directory base.
func NewFileTransport(base string) *FileTransport {
	return &FileTransport{base: base}
}

func (*FileTransport) Scheme() string { return "file" }

func (f *FileTransport) local(p string) string {
	return filepath.Join(f.base, filepath.FromSlash(p))
}

func (f *FileTransport) Address(p string) string {
	return "file://" + filepath.ToSlash(f.local(p))
}

func (f *FileTransport) Stat(_ context.Context, p string) (*backends.Stat, error) {
	path := f.local(p)
	stat, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &backends.Stat{Path: path, Size: stat.Size(), ModTime: stat.ModTime(), IsDir: stat.IsDir()}, nil
}

func (f *FileTransport) Get(_ context.Context, p string, local string) error {
	path := f.local(p)
	if !files.Exists(path) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return files.Copy(path, local)
}

func (f *FileTransport) Put(_ context.Context, local string, p string) error {
	return files.Copy(local, f.local(p))
}

func (f *FileTransport) Delete(_ context.Context, p string) error {
	path := f.local(p)
	if !files.Exists(path) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return os.RemoveAll(path)
}
