package stores_test

import (
	"errors"
	"testing"

	"github.com/opst/vortexflow/internal/testutils/try"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/remote"
	"github.com/opst/vortexflow/pkg/stores"
)

func mustRemote(t *testing.T, uri string) remote.Remote {
	t.Helper()
	return try.To(remote.Parse(uri)).OrFatal(t)
}

func TestVortexArchiveRemap(t *testing.T) {
	type Then struct {
		item    string
		root    string
		wantErr error
	}
	theory := func(uri string, then Then) func(*testing.T) {
		return func(t *testing.T) {
			r := mustRemote(t, uri)
			before := r.Copy()
			item, root, err := stores.VortexArchiveRemap(r)
			if !r.Equal(before) {
				t.Errorf("remote is mutated: %+v", r)
			}
			if then.wantErr != nil {
				if !errors.Is(err, then.wantErr) {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if item != then.item || root != then.root {
				t.Errorf("(item, root): (actual, expected) = (%s %s, %s %s)", item, root, then.item, then.root)
			}
		}
	}

	t.Run("fixed-width xpid is split, date is expanded", theory(
		"vortex://vortex.archive.fr/arpege/4dvarfr/abcd/20240101T0000P/forecast/grid.fa",
		Then{item: "arpege/4dvarfr/A/B/C/D/2024/01/01/T0000P/forecast/grid.fa"},
	))
	t.Run("free-form xpid moves into the user tree", theory(
		"vortex://vortex.archive.fr/arpege/4dvarfr/my-exp@jdoe/20240101T0600A/grid.fa",
		Then{item: "arpege/4dvarfr/my-exp/2024/01/01/T0600A/grid.fa", root: "/home/jdoe/vortex"},
	))
	t.Run("other xpids are kept", theory(
		"vortex://vortex.archive.fr/arpege/4dvarfr/OPER/listing",
		Then{item: "arpege/4dvarfr/O/P/E/R/listing"},
	))
	t.Run("long xpids are kept whole", theory(
		"vortex://vortex.archive.fr/arpege/4dvarfr/e2e-testing/listing",
		Then{item: "arpege/4dvarfr/e2e-testing/listing"},
	))
	t.Run("only the segment after xpid may be a date", theory(
		"vortex://vortex.archive.fr/arpege/4dvarfr/ABCD/misc/20240101T0000P",
		Then{item: "arpege/4dvarfr/A/B/C/D/misc/20240101T0000P"},
	))
	t.Run("shallow paths cannot be remapped", theory(
		"vortex://vortex.archive.fr/arpege/4dvarfr/ABCD",
		Then{wantErr: xe.ErrInvalidRemote},
	))
	t.Run("malformed free-form xpid", theory(
		"vortex://vortex.archive.fr/arpege/4dvarfr/@jdoe/grid",
		Then{wantErr: xe.ErrInvalidRemote},
	))
}

func TestOpArchiveRemap(t *testing.T) {
	item := try.To(stores.OpArchiveRemap(mustRemote(t, "op://oper.archive.fr/arpege/oper/production/20240101T1800P/grid.fa"))).OrFatal(t)
	if item != "arpege/oper/production/2024/01/01/r18/grid.fa" {
		t.Errorf("item: %s", item)
	}
	item = try.To(stores.OpArchiveRemap(mustRemote(t, "op://oper.archive.fr/arpege/oper/assim/20240101T0000/sub/grid.fa"))).OrFatal(t)
	if item != "arpege/oper/assim/2024/01/01/r0/sub/grid.fa" {
		t.Errorf("item: %s", item)
	}

	for _, uri := range []string{
		"op://oper.archive.fr/arpege/oper/production/grid.fa",
		"op://oper.archive.fr/arpege/oper/production/yesterday/grid.fa",
		"op://oper.archive.fr/arpege/oper/production/20240101T2500/grid.fa",
	} {
		if _, err := stores.OpArchiveRemap(mustRemote(t, uri)); !errors.Is(err, xe.ErrInvalidRemote) {
			t.Errorf("%s: unexpected error: %v", uri, err)
		}
	}
}

func TestOliveArchiveRemap(t *testing.T) {
	item := try.To(stores.OliveArchiveRemap(mustRemote(t, "olive://olive.archive.fr/ABCD/20240101H00P/grid.fa"))).OrFatal(t)
	if item != "A/B/C/D/20240101H00P/grid.fa" {
		t.Errorf("item: %s", item)
	}
	item = try.To(stores.OliveArchiveRemap(mustRemote(t, "olive://olive.archive.fr/trial@jdoe/grid.fa"))).OrFatal(t)
	if item != "jdoe/trial/grid.fa" {
		t.Errorf("item: %s", item)
	}
	if _, err := stores.OliveArchiveRemap(mustRemote(t, "olive://olive.archive.fr/ABCD")); !errors.Is(err, xe.ErrInvalidRemote) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIdentity(t *testing.T) {
	item := try.To(stores.Identity(mustRemote(t, "ftp://open.archive.fr/a/../b//c"))).OrFatal(t)
	if item != "b/c" {
		t.Errorf("item: %s", item)
	}
	if _, err := stores.Identity(mustRemote(t, "ftp://open.archive.fr/")); !errors.Is(err, xe.ErrInvalidRemote) {
		t.Errorf("unexpected error: %v", err)
	}
}
