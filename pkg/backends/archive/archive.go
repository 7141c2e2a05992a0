// Package archive implements archive backends: items stored on a remote
// host reached through a transport (file, ftp, ftserv, http).
//
// Archive addresses are built from a root, the item, an optional
// compression suffix and the scheme of the transport:
//
//	ftp://user@host/<root>/<item>.gz
//
// Retrievals asking for an extraction leave a stamp file next to the local
// target, named after the MD5 of the remote path. Another retrieval of the
// same remote path into the same place is skipped while both the stamp and
// the target exist. The stamp does not track the remote content.
package archive

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/opst/vortexflow/pkg/backends"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/retry"
	"github.com/opst/vortexflow/pkg/utils/checksum"
	"github.com/opst/vortexflow/pkg/utils/files"
	"github.com/opst/vortexflow/pkg/utils/tarball"
)

// ErrNotFound is returned by transports for missing remote items.
var ErrNotFound = errors.New("archive: not found")

// Transport moves files between the local filesystem and an archive host.
//
// Transports return errors wrapping ErrNotFound for missing items, and
// errors marked by retry.Transient for failures worth another attempt.
type Transport interface {
	Scheme() string

	// Address returns the scheme-qualified name of path.
	Address(path string) string

	// Stat returns the metadata of path, or nil when it is missing.
	Stat(ctx context.Context, path string) (*backends.Stat, error)

	Get(ctx context.Context, path string, local string) error
	Put(ctx context.Context, local string, path string) error
	Delete(ctx context.Context, path string) error
}

// Config describes an archive.
type Config struct {
	// Kind names the archive (e.g. "vortex", "olive", "op").
	Kind string

	// Root is prepended to every item.
	Root string

	// Scheme selects the default transport.
	Scheme string

	ReadOnly bool

	// Attempts of each transfer, and first interval between attempts
	// (doubled after each one).
	Attempts int
	Backoff  time.Duration

	// CheckTTL is how long Check results are memoized. Zero disables it.
	CheckTTL time.Duration
}

const (
	// ExtraScheme is the TransferOptions.Extra key overriding the scheme.
	ExtraScheme = "scheme"

	// ExtraRoot is the TransferOptions.Extra key overriding the root.
	ExtraRoot = "root"
)

var compressions = map[string]string{
	"":     "",
	"gzip": ".gz",
}

type Archive struct {
	backends.Base
	conf       Config
	transports map[string]Transport
	memo       *gocache.Cache
}

var _ backends.Backend = &Archive{}

func New(conf Config, transports []Transport, options ...backends.Option) (*Archive, error) {
	if conf.Kind == "" {
		conf.Kind = "archive"
	}
	if conf.Attempts < 1 {
		conf.Attempts = 1
	}
	ts := map[string]Transport{}
	for _, t := range transports {
		ts[t.Scheme()] = t
	}
	if conf.Scheme == "" {
		return nil, xe.Configurationf("%s archive: scheme is not set", conf.Kind)
	}

	a := &Archive{
		Base:       backends.NewBase(conf.Kind, append([]backends.Option{backends.ReadOnly(conf.ReadOnly)}, options...)...),
		conf:       conf,
		transports: ts,
	}
	if 0 < conf.CheckTTL {
		a.memo = gocache.New(conf.CheckTTL, 2*conf.CheckTTL)
	}
	return a, nil
}

// Schemes returns schemes of available transports.
func (a *Archive) Schemes() []string {
	ss := make([]string, 0, len(a.transports))
	for s := range a.transports {
		ss = append(ss, s)
	}
	sort.Strings(ss)
	return ss
}

func (a *Archive) Root() string {
	return a.conf.Root
}

func (a *Archive) transport(opts backends.TransferOptions) (Transport, error) {
	scheme := a.conf.Scheme
	if s := opts.Extra[ExtraScheme]; s != "" {
		scheme = s
	}
	t, ok := a.transports[scheme]
	if !ok {
		return nil, xe.NotImplementedf("%s archive: scheme %q", a.Kind(), scheme)
	}
	return t, nil
}

// remotePath composes root, item and compression suffix.
func (a *Archive) remotePath(item string, opts backends.TransferOptions) (string, error) {
	suffix, ok := compressions[opts.Compression]
	if !ok {
		return "", xe.NotImplementedf("%s archive: compression %q", a.Kind(), opts.Compression)
	}
	root := a.conf.Root
	if r := opts.Extra[ExtraRoot]; r != "" {
		root = r
	}
	return path.Join("/", root, item) + suffix, nil
}

func (a *Archive) Fullpath(item string) (string, error) {
	return a.FullpathWith(item, backends.TransferOptions{})
}

// FullpathWith is Fullpath honoring the compression and scheme of opts.
func (a *Archive) FullpathWith(item string, opts backends.TransferOptions) (string, error) {
	t, err := a.transport(opts)
	if err != nil {
		return "", err
	}
	p, err := a.remotePath(item, opts)
	if err != nil {
		return "", err
	}
	return t.Address(p), nil
}

func (a *Archive) attempt(ctx context.Context, f func() error) error {
	interval := a.conf.Backoff
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return retry.Attempts(ctx, a.conf.Attempts, retry.ExponentialBackoff(interval, 2), f)
}

func memoKey(t Transport, p string) string {
	return t.Scheme() + ":" + p
}

func (a *Archive) forget(t Transport, p string) {
	if a.memo != nil {
		a.memo.Delete(memoKey(t, p))
	}
}

func (a *Archive) Check(ctx context.Context, item string, opts backends.TransferOptions) (*backends.Stat, error) {
	t, err := a.transport(opts)
	if err != nil {
		return nil, err
	}
	p, err := a.remotePath(item, opts)
	if err != nil {
		return nil, err
	}
	key := memoKey(t, p)
	if a.memo != nil {
		if v, ok := a.memo.Get(key); ok {
			return v.(*backends.Stat), nil
		}
	}

	var stat *backends.Stat
	err = a.attempt(ctx, func() error {
		s, err := t.Stat(ctx, p)
		stat = s
		return err
	})
	if err != nil {
		a.Failed(opts, "cannot check %s: %s", t.Address(p), err)
		return nil, nil
	}
	if a.memo != nil {
		a.memo.SetDefault(key, stat)
	}
	return stat, nil
}

// StampPath returns the stamp marking the extraction of item into local.
func (a *Archive) StampPath(item string, local string, opts backends.TransferOptions) (string, error) {
	p, err := a.remotePath(item, opts)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(local), "."+checksum.String(p)+".stamp"), nil
}

func members(extract string) []tarball.UntarOption {
	if extract == "" || extract == "all" {
		return nil
	}
	names := []string{}
	for _, n := range strings.Split(extract, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return []tarball.UntarOption{tarball.Members(names...)}
}

func (a *Archive) Retrieve(ctx context.Context, item string, local string, opts backends.TransferOptions) (bool, error) {
	t, err := a.transport(opts)
	if err != nil {
		return false, err
	}
	p, err := a.remotePath(item, opts)
	if err != nil {
		return false, err
	}

	stamp := ""
	if opts.Extract != "" {
		stamp, err = a.StampPath(item, local, opts)
		if err != nil {
			return false, err
		}
		if files.Exists(stamp) && files.Exists(local) {
			a.Logger().Printf("%s: %s is already extracted (stamp %s)", a.Kind(), t.Address(p), stamp)
			return true, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return a.Failed(opts, "cannot prepare %s: %s", local, err), nil
	}
	fetched := local
	if opts.Compression != "" {
		fetched = local + compressions[opts.Compression] + ".part"
		defer os.Remove(fetched)
	}
	if err := a.attempt(ctx, func() error { return t.Get(ctx, p, fetched) }); err != nil {
		return a.Failed(opts, "cannot retrieve %s into %s: %s", t.Address(p), local, err), nil
	}
	if opts.Compression != "" {
		if err := gunzip(fetched, local); err != nil {
			return a.Failed(opts, "cannot uncompress %s: %s", t.Address(p), err), nil
		}
	}

	switch {
	case opts.Extract != "":
		if err := tarball.Extract(ctx, local, filepath.Dir(local), members(opts.Extract)...); err != nil {
			return a.Failed(opts, "cannot extract %s from %s: %s", opts.Extract, local, err), nil
		}
		if err := os.WriteFile(stamp, []byte(t.Address(p)+"\n"), 0o644); err != nil {
			a.Logger().Printf("[WARN] %s: cannot write stamp %s: %s", a.Kind(), stamp, err)
		}
	case opts.TarExtract && tarball.IsTarball(local):
		if err := tarball.Extract(ctx, local, filepath.Dir(local)); err != nil {
			return a.Failed(opts, "cannot extract tarball %s: %s", local, err), nil
		}
	}
	return true, nil
}

// Insert stores local as item. Directories are stored as tarballs.
func (a *Archive) Insert(ctx context.Context, item string, local string, opts backends.TransferOptions) (bool, error) {
	if err := a.EnsureWritable("insert", item); err != nil {
		return false, err
	}
	t, err := a.transport(opts)
	if err != nil {
		return false, err
	}
	p, err := a.remotePath(item, opts)
	if err != nil {
		return false, err
	}

	source, cleanup, err := a.prepareUpload(ctx, local, opts)
	if err != nil {
		ok := a.Failed(opts, "cannot prepare upload of %s: %s", local, err)
		a.Record(ctx, "insert", item, local, ok, opts)
		return ok, nil
	}
	defer cleanup()

	ok := true
	if err := a.attempt(ctx, func() error { return t.Put(ctx, source, p) }); err != nil {
		ok = a.Failed(opts, "cannot insert %s as %s: %s", local, t.Address(p), err)
	}
	a.forget(t, p)
	a.Record(ctx, "insert", item, local, ok, opts)
	return ok, nil
}

func (a *Archive) prepareUpload(ctx context.Context, local string, opts backends.TransferOptions) (string, func(), error) {
	nop := func() {}
	stat, err := os.Stat(local)
	if err != nil {
		return "", nop, err
	}
	source := local
	var temps []string
	cleanup := func() {
		for _, t := range temps {
			os.Remove(t)
		}
	}

	if stat.IsDir() {
		tmp, err := os.CreateTemp(filepath.Dir(local), ".upload-*.tar")
		if err != nil {
			return "", nop, err
		}
		temps = append(temps, tmp.Name())
		prog := tarball.GoTar(ctx, local, tmp)
		<-prog.Done()
		if err := errors.Join(prog.Error(), tmp.Close()); err != nil {
			cleanup()
			return "", nop, err
		}
		source = tmp.Name()
	}

	if opts.Compression != "" {
		gz := source + ".gz"
		if err := gzipFile(source, gz); err != nil {
			cleanup()
			return "", nop, err
		}
		temps = append(temps, gz)
		source = gz
	}
	return source, cleanup, nil
}

func (a *Archive) Delete(ctx context.Context, item string, opts backends.TransferOptions) (bool, error) {
	if err := a.EnsureWritable("delete", item); err != nil {
		return false, err
	}
	t, err := a.transport(opts)
	if err != nil {
		return false, err
	}
	p, err := a.remotePath(item, opts)
	if err != nil {
		return false, err
	}

	ok := true
	err = a.attempt(ctx, func() error { return t.Delete(ctx, p) })
	if err != nil && !errors.Is(err, ErrNotFound) {
		ok = a.Failed(opts, "cannot delete %s: %s", t.Address(p), err)
	}
	a.forget(t, p)
	a.Record(ctx, "delete", item, "", ok, opts)
	return ok, nil
}

func gzipFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return errors.Join(err, gz.Close(), out.Close())
	}
	return errors.Join(gz.Close(), out.Close())
}

func gunzip(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	defer gz.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, gz); err != nil {
		return errors.Join(err, out.Close())
	}
	return out.Close()
}
