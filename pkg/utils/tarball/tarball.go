// Package tarball packs and unpacks tar streams (optionally gzipped).
//
// Backends use it for `tarextract` retrievals and for members extraction
// out of archived tarballs; the archive host uses it to ship directories.
package tarball

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrMemberNotFound = errors.New("tarball: member not found")
	ErrUnsafePath     = errors.New("tarball: entry escapes destination")
)

// Progress watches a background tar/untar job.
type Progress interface {
	// ProgressedSize returns the raw size of files processed so far.
	ProgressedSize() int64

	// ProgressingFile returns the entry currently processed.
	ProgressingFile() string

	// Error returns error caused during the job.
	Error() error

	// Done returns a channel which is closed when the job is done.
	Done() <-chan struct{}
}

type progress struct {
	doneSize int64
	file     string
	err      error
	done     chan struct{}
}

func (p *progress) ProgressedSize() int64   { return p.doneSize }
func (p *progress) ProgressingFile() string { return p.file }
func (p *progress) Error() error            { return p.err }
func (p *progress) Done() <-chan struct{}   { return p.done }

type untarOption struct {
	members map[string]struct{}
}

type UntarOption func(*untarOption) *untarOption

// Members restricts extraction to the named entries.
func Members(names ...string) UntarOption {
	return func(o *untarOption) *untarOption {
		if o.members == nil {
			o.members = map[string]struct{}{}
		}
		for _, n := range names {
			o.members[filepath.Clean(n)] = struct{}{}
		}
		return o
	}
}

var knownExtensions = []string{".tar", ".tar.gz", ".tgz"}

// LooksLikeTarball tells whether name has a tarball extension.
func LooksLikeTarball(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range knownExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// IsTarball sniffs the file content: gzip magic, or "ustar" at offset 257.
func IsTarball(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	if bytes.HasPrefix(head, []byte{0x1f, 0x8b}) {
		return LooksLikeTarball(path)
	}
	return 262 <= len(head) && string(head[257:262]) == "ustar"
}

// decompress returns a reader over the tar stream, unwrapping gzip if present.
func decompress(src io.Reader) (io.Reader, func() error, error) {
	br := bufio.NewReader(src)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return gz, gz.Close, nil
	}
	return br, func() error { return nil }, nil
}

// GoUntar extracts a tar (or tar.gz) stream into dest in background goroutine.
func GoUntar(ctx context.Context, src io.Reader, dest string, options ...UntarOption) Progress {
	opt := &untarOption{}
	for _, o := range options {
		opt = o(opt)
	}
	prog := &progress{done: make(chan struct{})}

	go func() {
		defer close(prog.done)
		prog.err = untar(ctx, src, dest, opt, prog)
	}()
	return prog
}

func untar(ctx context.Context, src io.Reader, dest string, opt *untarOption, prog *progress) error {
	r, closer, err := decompress(src)
	if err != nil {
		return err
	}
	defer closer()

	absdest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	found := map[string]struct{}{}
	tarr := tar.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hdr, err := tarr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		name := filepath.Clean(hdr.Name)
		if name == "." || name == "" {
			continue
		}
		if opt.members != nil {
			if _, ok := opt.members[name]; !ok {
				continue
			}
			found[name] = struct{}{}
		}

		fullpath := filepath.Join(absdest, name)
		if fullpath != absdest && !strings.HasPrefix(fullpath, absdest+string(filepath.Separator)) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		prog.file = name

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fullpath, 0755); err != nil {
				return err
			}
			continue
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(fullpath), 0755); err != nil {
				return err
			}
			os.Remove(fullpath)
			if err := os.Symlink(hdr.Linkname, fullpath); err != nil {
				return err
			}
			continue
		case tar.TypeReg:
		default:
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fullpath), 0755); err != nil {
			return err
		}
		if err := func() error {
			fp, err := os.OpenFile(fullpath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&fs.ModePerm)
			if err != nil {
				return err
			}
			defer fp.Close()
			n, err := io.Copy(fp, tarr)
			prog.doneSize += n
			return err
		}(); err != nil {
			return err
		}
	}

	for name := range opt.members {
		if _, ok := found[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMemberNotFound, name)
		}
	}
	return nil
}

// Extract unpacks the tarball file at path into dest, synchronously.
func Extract(ctx context.Context, path string, dest string, options ...UntarOption) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	prog := GoUntar(ctx, f, dest, options...)
	<-prog.Done()
	return prog.Error()
}

// GoTar archives files under root into dest in background goroutine.
//
// Entry names are relative to root. Symlinks are stored as links.
// If dest is io.WriteCloser, it is not closed.
func GoTar(ctx context.Context, root string, dest io.Writer) Progress {
	prog := &progress{done: make(chan struct{})}

	absroot, err := filepath.Abs(root)
	if err == nil {
		_, err = os.Stat(absroot)
	}
	if err != nil {
		prog.err = err
		close(prog.done)
		return prog
	}

	go func() {
		defer close(prog.done)
		tw := tar.NewWriter(dest)
		err := filepath.WalkDir(absroot, func(fullpath string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if fullpath == absroot {
				return nil
			}
			relpath, err := filepath.Rel(absroot, fullpath)
			if err != nil {
				return err
			}
			prog.file = relpath

			fi, err := d.Info()
			if err != nil {
				return err
			}
			linkname := ""
			if fi.Mode()&fs.ModeSymlink != 0 {
				if linkname, err = os.Readlink(fullpath); err != nil {
					return err
				}
			}
			hdr, err := tar.FileInfoHeader(fi, linkname)
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(relpath)
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if !fi.Mode().IsRegular() {
				return nil
			}
			fp, err := os.Open(fullpath)
			if err != nil {
				return err
			}
			defer fp.Close()
			n, err := io.Copy(tw, fp)
			prog.doneSize += n
			return err
		})
		if err != nil {
			prog.err = err
			return
		}
		prog.err = tw.Close()
	}()
	return prog
}
