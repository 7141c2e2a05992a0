// Package files copies local files and directories the way cache backends
// need it: destination directories are created on demand and copies land
// atomically (written to a temporary name, then renamed).
package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CreateAll creates (or truncates) the file name for writing, with its
// missing parent directories.
//
// dmod applies to newly created directories only.
func CreateAll(name string, fmod os.FileMode, dmod os.FileMode) (*os.File, error) {
	dirname := filepath.Dir(name)
	if err := os.MkdirAll(dirname, dmod); err != nil {
		return nil, err
	}
	return os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fmod)
}

// Exists tells path exists (following symlinks).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Copy copies src (a file or a directory tree) to dest.
//
// dest is replaced atomically: the copy is built next to it under a
// temporary name and then renamed.
func Copy(src, dest string) error {
	stat, err := os.Stat(src)
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", dest, os.Getpid())
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}

	if stat.IsDir() {
		err = copyTree(src, tmp)
	} else {
		err = copyFile(src, tmp, stat.Mode().Perm())
	}
	if err != nil {
		os.RemoveAll(tmp)
		return err
	}

	if dstat, err := os.Lstat(dest); err == nil && dstat.IsDir() {
		if err := os.RemoveAll(dest); err != nil {
			os.RemoveAll(tmp)
			return err
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	return nil
}

// CopyChildren copies each regular file found under the directory src
// into the directory dest, flatly. It returns the names of copied files.
func CopyChildren(src, dest string) ([]string, error) {
	copied := []string{}
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := Copy(path, filepath.Join(dest, d.Name())); err != nil {
			return err
		}
		copied = append(copied, d.Name())
		return nil
	})
	return copied, err
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := CreateAll(dest, mode, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		return errors.Join(err, out.Close())
	}
	return out.Close()
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		}
		return nil
	})
}
