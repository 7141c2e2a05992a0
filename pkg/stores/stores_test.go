package stores_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/opst/vortexflow/internal/testutils/try"
	"github.com/opst/vortexflow/pkg/backends"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
	"github.com/opst/vortexflow/pkg/stores"
	"github.com/opst/vortexflow/pkg/utils/files"
)

const gridURI = "vortex://vortex.cache.fr/arpege/4dvarfr/ABCD/20240101T0000P/forecast/grid.fa"

func TestVortexCacheStore(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, "std", false)
	bus := events.New()
	rec := record(bus)
	s := stores.NewVortexCacheStore("vortex.cache.fr", c, stores.WithBus(bus), stores.WithLogger(logger.Null()))

	if s.Kind() != "vortex-std-cache" || s.Readonly() || !slices.Equal(s.Schemes(), []string{"vortex"}) {
		t.Fatalf("unexpected store: %s", stores.Describe(s))
	}

	r := mustRemote(t, gridURI)
	src := writeFile(t, filepath.Join(t.TempDir(), "grid.fa"), "GRID")

	if !try.To(s.Put(ctx, src, r, backends.TransferOptions{})).OrFatal(t) {
		t.Fatal("put failed")
	}
	stored := filepath.Join(c.Entry(), "arpege/4dvarfr/ABCD/20240101T0000P/forecast/grid.fa")
	if got := readFile(t, stored); got != "GRID" {
		t.Errorf("stored content: %s", got)
	}

	if loc := try.To(s.Locate(ctx, r, backends.TransferOptions{})).OrFatal(t); loc != stored {
		t.Errorf("locate: %s", loc)
	}
	if st := try.To(s.Check(ctx, r, backends.TransferOptions{})).OrFatal(t); st == nil || st.Size != 4 {
		t.Errorf("check: %+v", st)
	}

	dest := filepath.Join(t.TempDir(), "local", "grid.fa")
	if !try.To(s.Get(ctx, r, dest, backends.TransferOptions{})).OrFatal(t) {
		t.Fatal("get failed")
	}
	if got := readFile(t, dest); got != "GRID" {
		t.Errorf("retrieved content: %s", got)
	}

	if !try.To(s.Delete(ctx, r, backends.TransferOptions{})).OrFatal(t) {
		t.Fatal("delete failed")
	}
	if files.Exists(stored) {
		t.Error("stored file is left")
	}
	if st := try.To(s.Check(ctx, r, backends.TransferOptions{})).OrFatal(t); st != nil {
		t.Errorf("check after delete: %+v", st)
	}

	expected := []observed{
		{action: events.Put, netloc: "vortex.cache.fr", ok: true},
		{action: events.Locate, netloc: "vortex.cache.fr", ok: true},
		{action: events.Check, netloc: "vortex.cache.fr", ok: true},
		{action: events.Get, netloc: "vortex.cache.fr", ok: true},
		{action: events.Delete, netloc: "vortex.cache.fr", ok: true},
		{action: events.Check, netloc: "vortex.cache.fr", ok: false},
	}
	if actual := rec.observed(); !slices.Equal(actual, expected) {
		t.Errorf("events:\n  actual  : %+v\n  expected: %+v", actual, expected)
	}
	if rec.events[3].Local != dest || rec.events[3].Store.Kind != "vortex-std-cache" {
		t.Errorf("get event: %+v", rec.events[3])
	}

	t.Run("unknown schemes are not implemented, and not published", func(t *testing.T) {
		before := len(rec.events)
		_, err := s.Check(ctx, mustRemote(t, "olive://vortex.cache.fr/ABCD/grid"), backends.TransferOptions{})
		if !errors.Is(err, xe.ErrNotImplemented) {
			t.Errorf("unexpected error: %v", err)
		}
		if len(rec.events) != before {
			t.Error("failed dispatch is published")
		}
	})

	t.Run("remotes which cannot be remapped are errors", func(t *testing.T) {
		_, err := s.Get(ctx, mustRemote(t, "vortex://vortex.cache.fr/arpege/4dvarfr/ABCD"), dest, backends.TransferOptions{})
		if !errors.Is(err, xe.ErrInvalidRemote) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing resources are reported as false", func(t *testing.T) {
		ok, err := s.Get(ctx, r, dest, backends.TransferOptions{Silent: true})
		if err != nil || ok {
			t.Errorf("get of missing: (%v, %v)", ok, err)
		}
	})
}

func TestCacheStore_ReadOnly(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, "buddies", false)
	s := stores.NewVortexCacheStore("vortex.cache-buddies.fr", c, stores.WithLogger(logger.Null()))
	if !s.Readonly() {
		t.Fatal("buddies caches are read-only")
	}
	src := writeFile(t, filepath.Join(t.TempDir(), "grid.fa"), "GRID")
	_, err := s.Put(ctx, src, mustRemote(t, "vortex://vortex.cache-buddies.fr/a/b/ABCD/grid"), backends.TransferOptions{})
	if !errors.Is(err, xe.ErrReadOnly) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestVortexArchiveStore(t *testing.T) {
	ctx := context.Background()
	a, base := newFileArchive(t, "vortex", false)
	s := stores.NewVortexArchiveStore("vortex.archive.fr", a, stores.WithLogger(logger.Null()))

	src := writeFile(t, filepath.Join(t.TempDir(), "grid.fa"), "ARCHIVED")

	t.Run("fixed-width experiments", func(t *testing.T) {
		r := mustRemote(t, "vortex://vortex.archive.fr/arpege/4dvarfr/ABCD/20240101T0000P/forecast/grid.fa")
		if !try.To(s.Put(ctx, src, r, backends.TransferOptions{})).OrFatal(t) {
			t.Fatal("put failed")
		}
		stored := filepath.Join(base, "vortex/arpege/4dvarfr/A/B/C/D/2024/01/01/T0000P/forecast/grid.fa")
		if got := readFile(t, stored); got != "ARCHIVED" {
			t.Errorf("stored content: %s", got)
		}
		if loc := try.To(s.Locate(ctx, r, backends.TransferOptions{})).OrFatal(t); loc != "file://"+filepath.ToSlash(stored) {
			t.Errorf("locate: %s", loc)
		}
	})

	t.Run("free-form experiments are rooted in the tree of their user", func(t *testing.T) {
		r := mustRemote(t, "vortex://vortex.archive.fr/arpege/4dvarfr/trial@jdoe/20240101T0600A/grid.fa")
		if !try.To(s.Put(ctx, src, r, backends.TransferOptions{})).OrFatal(t) {
			t.Fatal("put failed")
		}
		stored := filepath.Join(base, "home/jdoe/vortex/arpege/4dvarfr/trial/2024/01/01/T0600A/grid.fa")
		if !files.Exists(stored) {
			t.Errorf("not stored at %s", stored)
		}
	})

	t.Run("root given in the remote wins", func(t *testing.T) {
		r := mustRemote(t, "vortex://vortex.archive.fr/arpege/4dvarfr/ABCD/listing?root=/elsewhere")
		if !try.To(s.Put(ctx, src, r, backends.TransferOptions{})).OrFatal(t) {
			t.Fatal("put failed")
		}
		if stored := filepath.Join(base, "elsewhere/arpege/4dvarfr/A/B/C/D/listing"); !files.Exists(stored) {
			t.Errorf("not stored at %s", stored)
		}
	})

	t.Run("compression is read from the query", func(t *testing.T) {
		r := mustRemote(t, "vortex://vortex.archive.fr/arpege/4dvarfr/ABCD/compressed?compress=gzip")
		if !try.To(s.Put(ctx, src, r, backends.TransferOptions{})).OrFatal(t) {
			t.Fatal("put failed")
		}
		if stored := filepath.Join(base, "vortex/arpege/4dvarfr/A/B/C/D/compressed.gz"); !files.Exists(stored) {
			t.Errorf("not stored at %s", stored)
		}
		dest := filepath.Join(t.TempDir(), "compressed")
		if !try.To(s.Get(ctx, r, dest, backends.TransferOptions{})).OrFatal(t) {
			t.Fatal("get failed")
		}
		if got := readFile(t, dest); got != "ARCHIVED" {
			t.Errorf("retrieved content: %s", got)
		}
	})
}

func TestArchiveStore_TransportsAreSchemes(t *testing.T) {
	ctx := context.Background()
	a, base := newFileArchive(t, "archive", false)
	s := stores.NewArchiveStore("open.archive.fr", a, stores.WithLogger(logger.Null()))
	if !slices.Equal(s.Schemes(), []string{"file"}) {
		t.Fatalf("schemes: %v", s.Schemes())
	}
	writeFile(t, filepath.Join(base, "vortex/some/where/data.txt"), "DATA")

	dest := filepath.Join(t.TempDir(), "data.txt")
	if !try.To(s.Get(ctx, mustRemote(t, "file://open.archive.fr/some/where/data.txt"), dest, backends.TransferOptions{})).OrFatal(t) {
		t.Fatal("get failed")
	}
	if got := readFile(t, dest); got != "DATA" {
		t.Errorf("retrieved content: %s", got)
	}
}

func TestOpArchiveStore_StoreTrue(t *testing.T) {
	ctx := context.Background()
	r := mustRemote(t, "op://oper.archive.fr/arpege/oper/production/20240101T1800P/grid.fa")
	src := writeFile(t, filepath.Join(t.TempDir(), "grid.fa"), "OPER")

	t.Run("storetrue on", func(t *testing.T) {
		a, base := newFileArchive(t, "op", false)
		s := stores.NewOpArchiveStore("oper.archive.fr", a, true, stores.WithLogger(logger.Null()))
		if !try.To(s.Put(ctx, src, r, backends.TransferOptions{})).OrFatal(t) {
			t.Fatal("put failed")
		}
		if stored := filepath.Join(base, "vortex/arpege/oper/production/2024/01/01/r18/grid.fa"); !files.Exists(stored) {
			t.Errorf("not stored at %s", stored)
		}
	})

	t.Run("storetrue off", func(t *testing.T) {
		a, base := newFileArchive(t, "op", false)
		bus := events.New()
		rec := record(bus)
		s := stores.NewOpArchiveStore("oper.archive.fr", a, false,
			stores.WithBus(bus), stores.WithLogger(logger.Null()))
		if !try.To(s.Put(ctx, src, r, backends.TransferOptions{})).OrFatal(t) {
			t.Fatal("suppressed put is a success")
		}
		if stored := filepath.Join(base, "vortex/arpege/oper/production/2024/01/01/r18/grid.fa"); files.Exists(stored) {
			t.Errorf("stored at %s", stored)
		}
		if len(rec.events) != 0 {
			t.Errorf("suppressed put is published: %+v", rec.observed())
		}
	})
}
