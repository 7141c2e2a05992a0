// Package cache implements filesystem cache backends.
//
// A cache lives under `<rootdir>/<headdir>`. The root directory is either
// given explicitly or probed from the environment, depending on the kind
// of cache:
//
//   - std: explicit root directory.
//   - mtool: step cache of MTOOL jobs ($MTOOL_STEP_CACHE, then $MTOOLDIR/cache,
//     then $WORKDIR, $FTDIR or $TMPDIR /mtool/cache).
//   - op2r: operational products seen from research (read-only).
//   - hack: user's hand-made resources in ~/.vortexrc/hack (read-only).
//   - market: shared cache of a group of users.
//   - buddies: caches of other users (read-only).
package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opst/vortexflow/pkg/backends"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/utils/files"
	"github.com/opst/vortexflow/pkg/utils/tarball"
)

// Auto asks a cache to probe its root directory.
const Auto = "auto"

// Config describes a cache.
type Config struct {
	Kind string

	// RootDir is the root directory, or Auto.
	RootDir string

	// HeadDir is the subdirectory of the root holding the cache.
	// Empty means the default of the kind.
	HeadDir string

	ReadOnly bool

	// RTouch enables directory touch on inserts, RTouchSkip levels below
	// the root are left untouched.
	RTouch     bool
	RTouchSkip int
}

type flavour struct {
	probes   []backends.Probe
	headdir  string
	readonly bool
}

var flavours = map[string]flavour{
	"std": {
		probes:  []backends.Probe{backends.EnvDir("VORTEX_CACHE_ROOT"), backends.EnvDir("HOME", ".vortexrc", "cache")},
		headdir: "vortex",
	},
	"mtool": {
		probes: []backends.Probe{
			backends.EnvDir("MTOOL_STEP_CACHE"),
			backends.EnvDir("MTOOLDIR", "cache"),
			backends.EnvDir("WORKDIR", "mtool", "cache"),
			backends.EnvDir("FTDIR", "mtool", "cache"),
			backends.EnvDir("TMPDIR", "mtool", "cache"),
		},
		headdir: "vortex",
	},
	"op2r": {
		probes:   []backends.Probe{backends.EnvDir("OP2R_CACHE_ROOT"), backends.EnvDir("MTOOLDIR", "cache")},
		headdir:  "vortex",
		readonly: true,
	},
	"hack": {
		probes:   []backends.Probe{backends.EnvDir("HOME", ".vortexrc", "hack")},
		readonly: true,
	},
	"market": {
		probes:  []backends.Probe{backends.EnvDir("MARKET_CACHE_ROOT")},
		headdir: "vortex",
	},
	"buddies": {
		probes:   []backends.Probe{backends.EnvDir("BUDDIES_CACHE_ROOT")},
		headdir:  "vortex",
		readonly: true,
	},
}

// Kinds returns the known cache kinds.
func Kinds() []string {
	ks := make([]string, 0, len(flavours))
	for k := range flavours {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// Cache is a filesystem cache backend.
type Cache struct {
	backends.Base
	entry string
}

var _ backends.Backend = &Cache{}

// New builds a cache. The root directory is resolved now, so that a cache
// keeps addressing items at the same place during its lifetime.
func New(conf Config, env backends.Environ, options ...backends.Option) (*Cache, error) {
	fl, ok := flavours[conf.Kind]
	if !ok {
		return nil, xe.Configurationf("unknown cache kind %q", conf.Kind)
	}

	root := conf.RootDir
	if root == "" || root == Auto {
		r, err := backends.ProbeRoot(conf.Kind, env, fl.probes...)
		if err != nil {
			return nil, err
		}
		root = r
	}
	headdir := conf.HeadDir
	if headdir == "" {
		headdir = fl.headdir
	}

	opts := []backends.Option{backends.ReadOnly(fl.readonly || conf.ReadOnly)}
	if conf.RTouch {
		opts = append(opts, backends.WithRTouch(conf.RTouchSkip))
	}
	opts = append(opts, options...)

	return &Cache{
		Base:  backends.NewBase(conf.Kind, opts...),
		entry: filepath.Join(root, headdir),
	}, nil
}

// Entry returns the directory holding the cache.
func (c *Cache) Entry() string {
	return c.entry
}

func (c *Cache) Fullpath(item string) (string, error) {
	clean := filepath.Clean("/" + item)
	if clean == "/" {
		return "", xe.InvalidRemotef("empty item for %s cache", c.Kind())
	}
	return filepath.Join(c.entry, clean), nil
}

func (c *Cache) Check(ctx context.Context, item string, opts backends.TransferOptions) (*backends.Stat, error) {
	path, err := c.Fullpath(item)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		c.Failed(opts, "cannot stat %s: %s", path, err)
		return nil, nil
	}
	return &backends.Stat{Path: path, Size: stat.Size(), ModTime: stat.ModTime(), IsDir: stat.IsDir()}, nil
}

func (c *Cache) Insert(ctx context.Context, item string, local string, opts backends.TransferOptions) (bool, error) {
	if err := c.EnsureWritable("insert", item); err != nil {
		return false, err
	}
	path, err := c.Fullpath(item)
	if err != nil {
		return false, err
	}

	ok := true
	if err := files.Copy(local, path); err != nil {
		ok = c.Failed(opts, "cannot insert %s as %s: %s", local, path, err)
	}
	c.Record(ctx, "insert", item, local, ok, opts)
	if ok && c.RTouchEnabled() {
		if err := backends.RTouch(c.entry, path, c.RTouchSkip(), time.Now()); err != nil {
			c.Logger().Printf("[WARN] %s: cannot touch directories of %s: %s", c.Kind(), path, err)
		}
	}
	return ok, nil
}

func (c *Cache) Retrieve(ctx context.Context, item string, local string, opts backends.TransferOptions) (bool, error) {
	path, err := c.Fullpath(item)
	if err != nil {
		return false, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return c.Failed(opts, "cannot retrieve %s: %s", path, err), nil
	}

	if opts.DirExtract && stat.IsDir() && tarball.LooksLikeTarball(local) {
		copied, err := files.CopyChildren(path, filepath.Dir(local))
		if err != nil {
			return c.Failed(opts, "cannot extract directory %s: %s", path, err), nil
		}
		c.Logger().Printf("%s: %d files of %s are copied into %s", c.Kind(), len(copied), path, filepath.Dir(local))
		return true, nil
	}

	if err := files.Copy(path, local); err != nil {
		return c.Failed(opts, "cannot retrieve %s into %s: %s", path, local, err), nil
	}

	if opts.TarExtract && !stat.IsDir() && tarball.IsTarball(local) {
		if err := tarball.Extract(ctx, local, filepath.Dir(local)); err != nil {
			return c.Failed(opts, "cannot extract tarball %s: %s", local, err), nil
		}
	}
	return true, nil
}

func (c *Cache) Delete(ctx context.Context, item string, opts backends.TransferOptions) (bool, error) {
	if err := c.EnsureWritable("delete", item); err != nil {
		return false, err
	}
	path, err := c.Fullpath(item)
	if err != nil {
		return false, err
	}
	ok := true
	if err := os.RemoveAll(path); err != nil {
		ok = c.Failed(opts, "cannot delete %s: %s", path, err)
	}
	c.Record(ctx, "delete", item, "", ok, opts)
	return ok, nil
}

// Catalog lists items under the cache (files only), relative to its entry.
func (c *Cache) Catalog(prefix string) ([]string, error) {
	base := c.entry
	if prefix != "" {
		p, err := c.Fullpath(prefix)
		if err != nil {
			return nil, err
		}
		base = p
	}
	items := []string{}
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.entry, path)
		if err != nil {
			return err
		}
		items = append(items, filepath.ToSlash(rel))
		return nil
	})
	return items, err
}

func (c *Cache) String() string {
	return c.Kind() + "-cache:" + strings.TrimSuffix(c.entry, "/")
}
