package dataflow_test

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/opst/vortexflow/internal/testutils/try"
	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/cache"
	"github.com/opst/vortexflow/pkg/dataflow"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
	"github.com/opst/vortexflow/pkg/remote"
	"github.com/opst/vortexflow/pkg/stores"
)

const experiment = "vortex://vortex.cache.fr/arpege/4dvarfr/ABCD/20240101T0000P/"

type env struct {
	bus   *events.Bus
	ctx   *dataflow.Context
	store stores.Store
	cache *cache.Cache
	work  string
	log   *bytes.Buffer
}

func newEnv(t *testing.T) env {
	t.Helper()
	bus := events.New()
	c := try.To(cache.New(
		cache.Config{Kind: "std", RootDir: t.TempDir()},
		backends.MapEnviron{},
		backends.WithLogger(logger.Null()),
	)).OrFatal(t)
	buf := new(bytes.Buffer)
	l := log.New(buf, "", 0)
	return env{
		bus:   bus,
		ctx:   dataflow.NewContext(bus, dataflow.WithContextLogger(l)),
		store: stores.NewVortexCacheStore("vortex.cache.fr", c, stores.WithBus(bus), stores.WithLogger(logger.Null())),
		cache: c,
		work:  t.TempDir(),
		log:   buf,
	}
}

func (e env) remote(t *testing.T, item string) remote.Remote {
	t.Helper()
	return try.To(remote.Parse(experiment + item)).OrFatal(t)
}

// seed stores content as item in the cache.
func (e env) seed(t *testing.T, item string, content string) {
	t.Helper()
	path := try.To(e.cache.Fullpath("arpege/4dvarfr/ABCD/20240101T0000P/" + item)).OrFatal(t)
	writeFile(t, path, content)
}

// seedPromise stores a promise of item in the cache.
func (e env) seedPromise(t *testing.T, item string) {
	t.Helper()
	path := try.To(e.cache.Fullpath("arpege/4dvarfr/ABCD/20240101T0000P/" + item)).OrFatal(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := stores.WritePromise(path, stores.Promise{ItSelf: experiment + item}); err != nil {
		t.Fatal(err)
	}
}

// handler binds item of the cache to a local file named local.
func (e env) handler(t *testing.T, kind string, item string, local string) *dataflow.Handler {
	t.Helper()
	return e.ctx.Handler(kind, filepath.Join(e.work, local), e.store, e.remote(t, item), backends.TransferOptions{})
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

// brokenStore fails every transfer: with err when it is set, by reporting
// false otherwise.
type brokenStore struct {
	err error
}

var _ stores.Store = brokenStore{}

func (brokenStore) Kind() string      { return "broken" }
func (brokenStore) Netloc() string    { return "broken.fr" }
func (brokenStore) Schemes() []string { return []string{"vortex"} }
func (brokenStore) Readonly() bool    { return false }

func (brokenStore) Check(context.Context, remote.Remote, backends.TransferOptions) (*backends.Stat, error) {
	return nil, nil
}

func (brokenStore) Locate(_ context.Context, r remote.Remote, _ backends.TransferOptions) (string, error) {
	return "broken://" + r.Path, nil
}

func (b brokenStore) Get(context.Context, remote.Remote, string, backends.TransferOptions) (bool, error) {
	return false, b.err
}

func (b brokenStore) Put(context.Context, string, remote.Remote, backends.TransferOptions) (bool, error) {
	return false, b.err
}

func (b brokenStore) Delete(context.Context, remote.Remote, backends.TransferOptions) (bool, error) {
	return false, b.err
}
