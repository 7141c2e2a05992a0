package stores_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opst/vortexflow/internal/testutils/try"
	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/archive"
	"github.com/opst/vortexflow/pkg/backends/cache"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
)

func newCache(t *testing.T, kind string, readonly bool) *cache.Cache {
	t.Helper()
	return try.To(cache.New(
		cache.Config{Kind: kind, RootDir: t.TempDir(), ReadOnly: readonly},
		backends.MapEnviron{},
		backends.WithLogger(logger.Null()),
	)).OrFatal(t)
}

// newFileArchive returns an archive mounted at the returned directory.
func newFileArchive(t *testing.T, kind string, readonly bool) (*archive.Archive, string) {
	t.Helper()
	base := t.TempDir()
	a := try.To(archive.New(
		archive.Config{Kind: kind, Root: "vortex", Scheme: "file", ReadOnly: readonly},
		[]archive.Transport{archive.NewFileTransport(base)},
		backends.WithLogger(logger.Null()),
	)).OrFatal(t)
	return a, base
}

func writeFile(t *testing.T, path string, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	return string(try.To(os.ReadFile(path)).OrFatal(t))
}

type recorder struct {
	events []events.Event
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	bus.Subscribe(events.ListenerFunc(func(ev events.Event) { r.events = append(r.events, ev) }))
	return r
}

type observed struct {
	action events.Action
	netloc string
	ok     bool
}

func (r *recorder) observed() []observed {
	obs := []observed{}
	for _, ev := range r.events {
		obs = append(obs, observed{action: ev.Action, netloc: ev.Store.Netloc, ok: ev.Ok})
	}
	return obs
}
