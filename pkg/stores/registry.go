package stores

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/opst/vortexflow/pkg/archivehost"
	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/archive"
	"github.com/opst/vortexflow/pkg/backends/cache"
	"github.com/opst/vortexflow/pkg/configs"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
	"github.com/opst/vortexflow/pkg/remote"
)

// Constructor builds the store serving netloc. Settings are read from the
// configuration section named after netloc.
type Constructor func(reg *Registry, netloc string) (Store, error)

// Registry builds stores by netloc, once, on first use.
type Registry struct {
	conf    *configs.Generic
	env     backends.Environ
	bus     *events.Bus
	logger  *log.Logger
	history *backends.History
	dialer  archive.Dialer

	mu           sync.Mutex
	constructors map[string]Constructor
	built        map[string]Store
}

var _ Resolver = &Registry{}

type RegistryOption func(*Registry) *Registry

func WithEnviron(env backends.Environ) RegistryOption {
	return func(r *Registry) *Registry {
		r.env = env
		return r
	}
}

func WithRegistryBus(bus *events.Bus) RegistryOption {
	return func(r *Registry) *Registry {
		r.bus = bus
		return r
	}
}

func WithRegistryLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) *Registry {
		r.logger = l
		return r
	}
}

// WithBackendHistory makes every backend record its mutations into h.
func WithBackendHistory(h *backends.History) RegistryOption {
	return func(r *Registry) *Registry {
		r.history = h
		return r
	}
}

// WithFTPDialer replaces the dialer of ftp transports.
func WithFTPDialer(d archive.Dialer) RegistryOption {
	return func(r *Registry) *Registry {
		r.dialer = d
		return r
	}
}

// NewRegistry returns a registry knowing the default netlocs.
//
// conf may be nil: every setting then takes its default.
func NewRegistry(conf *configs.Generic, options ...RegistryOption) *Registry {
	if conf == nil {
		conf = &configs.Generic{}
	}
	reg := &Registry{
		conf:         conf,
		constructors: map[string]Constructor{},
		built:        map[string]Store{},
	}
	for _, opt := range options {
		reg = opt(reg)
	}
	reg.env = backends.EnvironOr(reg.env)
	reg.logger = logger.Or(reg.logger)

	for netloc := range VortexCacheKinds {
		reg.Register(netloc, VortexCache)
	}
	reg.Register("promise.cache.fr", PromiseCache)
	reg.Register("vortex.archive.fr", VortexArchive)
	reg.Register("olive.archive.fr", OliveArchive)
	reg.Register("oper.archive.fr", OpArchive)
	reg.Register("dble.archive.fr", OpArchive)
	reg.Register("open.archive.fr", OpenArchive)
	reg.Register("vortex.multi.fr", VortexMulti)
	reg.Register("vortex.promise.fr", VortexPromise)
	return reg
}

// Register binds a constructor to netloc, replacing the previous one.
func (reg *Registry) Register(netloc string, c Constructor) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.constructors[netloc] = c
	delete(reg.built, netloc)
}

// Netlocs returns registered netlocs, sorted.
func (reg *Registry) Netlocs() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ns := make([]string, 0, len(reg.constructors))
	for n := range reg.constructors {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

func (reg *Registry) Config() *configs.Generic { return reg.conf }

func (reg *Registry) Logger() *log.Logger { return reg.logger }

// Resolve returns the store of netloc, building it on first use.
func (reg *Registry) Resolve(netloc string) (Store, error) {
	reg.mu.Lock()
	if s, ok := reg.built[netloc]; ok {
		reg.mu.Unlock()
		return s, nil
	}
	c, ok := reg.constructors[netloc]
	reg.mu.Unlock()
	if !ok {
		return nil, xe.NotImplementedf("no store serves netloc %q", netloc)
	}

	// constructors may resolve other netlocs, so the lock is not held here.
	s, err := c(reg, netloc)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if prev, ok := reg.built[netloc]; ok {
		return prev, nil
	}
	reg.built[netloc] = s
	return s, nil
}

// Open parses uri and resolves the store serving it.
func (reg *Registry) Open(uri string) (Store, remote.Remote, error) {
	r, err := remote.Parse(uri)
	if err != nil {
		return nil, remote.Remote{}, err
	}
	s, err := reg.Resolve(r.Netloc)
	if err != nil {
		return nil, remote.Remote{}, err
	}
	return s, r, nil
}

func (reg *Registry) storeOptions(netloc string) ([]Option, error) {
	opts := []Option{WithBus(reg.bus), WithLogger(reg.logger)}
	_, set, err := reg.conf.Lookup(netloc, "readonly")
	if err != nil {
		return nil, err
	}
	if set {
		ro, err := reg.conf.Bool(netloc, "readonly", false)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ReadOnly(ro))
	}
	return opts, nil
}

func (reg *Registry) backendOptions() []backends.Option {
	opts := []backends.Option{backends.WithLogger(reg.logger)}
	if reg.history != nil {
		opts = append(opts, backends.WithHistory(reg.history))
	}
	return opts
}

// Cache builds the cache configured in section, of kind unless the
// section names another one.
func (reg *Registry) Cache(section string, kind string) (*cache.Cache, error) {
	c := reg.conf
	kind, err := c.GetOr(section, "kind", kind)
	if err != nil {
		return nil, err
	}
	conf := cache.Config{Kind: kind}
	if conf.RootDir, err = c.GetOr(section, "rootdir", cache.Auto); err != nil {
		return nil, err
	}
	if conf.HeadDir, err = c.GetOr(section, "headdir", ""); err != nil {
		return nil, err
	}
	if conf.ReadOnly, err = c.Bool(section, "readonly", false); err != nil {
		return nil, err
	}
	if conf.RTouch, err = c.Bool(section, "rtouch", false); err != nil {
		return nil, err
	}
	if conf.RTouchSkip, err = c.Int(section, "rtouchskip", 0); err != nil {
		return nil, err
	}
	return cache.New(conf, reg.env, reg.backendOptions()...)
}

// Archive builds the archive configured in section, with the transports
// the section gives settings for:
//
//   - ftp and ftserv when `host` is set,
//   - file when `filebase` is set,
//   - http when `hosturl` is set (an archive host).
func (reg *Registry) Archive(section string, kind string) (*archive.Archive, error) {
	c := reg.conf
	conf := archive.Config{Kind: kind}
	var err error
	if conf.Root, err = c.GetOr(section, "root", ""); err != nil {
		return nil, err
	}
	if conf.Scheme, err = c.GetOr(section, "scheme", "ftp"); err != nil {
		return nil, err
	}
	if conf.ReadOnly, err = c.Bool(section, "readonly", false); err != nil {
		return nil, err
	}
	if conf.Attempts, err = c.Int(section, "attempts", 1); err != nil {
		return nil, err
	}
	if conf.Backoff, err = c.Duration(section, "backoff", 0); err != nil {
		return nil, err
	}
	if conf.CheckTTL, err = c.Duration(section, "checkttl", 0); err != nil {
		return nil, err
	}

	transports := []archive.Transport{}
	host, err := c.GetOr(section, "host", "")
	if err != nil {
		return nil, err
	}
	if host != "" {
		ftpConf := archive.FTPConfig{Host: host}
		if ftpConf.User, err = c.GetOr(section, "user", ""); err != nil {
			return nil, err
		}
		if ftpConf.Password, err = c.GetOr(section, "password", ""); err != nil {
			return nil, err
		}
		if ftpConf.Timeout, err = c.Duration(section, "timeout", 0); err != nil {
			return nil, err
		}
		for _, scheme := range []string{"ftp", "ftserv"} {
			sc := ftpConf
			sc.Scheme = scheme
			transports = append(transports, archive.NewFTPTransport(sc, reg.dialer))
		}
	}

	filebase, err := c.GetOr(section, "filebase", "")
	if err != nil {
		return nil, err
	}
	if filebase != "" {
		transports = append(transports, archive.NewFileTransport(filebase))
	}

	hosturl, err := c.GetOr(section, "hosturl", "")
	if err != nil {
		return nil, err
	}
	if hosturl != "" {
		token, err := c.GetOr(section, "token", "")
		if err != nil {
			return nil, err
		}
		client, err := archivehost.NewClient(archivehost.ClientConfig{BaseURL: hosturl, Token: token})
		if err != nil {
			return nil, err
		}
		transports = append(transports, client)
	}

	if len(transports) == 0 {
		return nil, xe.Configurationf("%s: no transport is configured (host, filebase or hosturl)", section)
	}
	return archive.New(conf, transports, reg.backendOptions()...)
}

// VortexCache builds the vortex cache store of netloc (see VortexCacheKinds).
func VortexCache(reg *Registry, netloc string) (Store, error) {
	// other netlocs name their kind in their section
	c, err := reg.Cache(netloc, VortexCacheKinds[netloc])
	if err != nil {
		return nil, err
	}
	opts, err := reg.storeOptions(netloc)
	if err != nil {
		return nil, err
	}
	return NewVortexCacheStore(netloc, c, opts...), nil
}

func PromiseCache(reg *Registry, netloc string) (Store, error) {
	c, err := reg.Cache(netloc, "std")
	if err != nil {
		return nil, err
	}
	opts, err := reg.storeOptions(netloc)
	if err != nil {
		return nil, err
	}
	return NewPromiseCacheStore(netloc, c, opts...), nil
}

func VortexArchive(reg *Registry, netloc string) (Store, error) {
	a, err := reg.Archive(netloc, "vortex")
	if err != nil {
		return nil, err
	}
	opts, err := reg.storeOptions(netloc)
	if err != nil {
		return nil, err
	}
	return NewVortexArchiveStore(netloc, a, opts...), nil
}

func OliveArchive(reg *Registry, netloc string) (Store, error) {
	a, err := reg.Archive(netloc, "olive")
	if err != nil {
		return nil, err
	}
	opts, err := reg.storeOptions(netloc)
	if err != nil {
		return nil, err
	}
	return NewOliveArchiveStore(netloc, a, opts...), nil
}

func OpArchive(reg *Registry, netloc string) (Store, error) {
	a, err := reg.Archive(netloc, "op")
	if err != nil {
		return nil, err
	}
	storetrue, err := reg.conf.Bool(netloc, "storetrue", true)
	if err != nil {
		return nil, err
	}
	opts, err := reg.storeOptions(netloc)
	if err != nil {
		return nil, err
	}
	return NewOpArchiveStore(netloc, a, storetrue, opts...), nil
}

func OpenArchive(reg *Registry, netloc string) (Store, error) {
	a, err := reg.Archive(netloc, "archive")
	if err != nil {
		return nil, err
	}
	opts, err := reg.storeOptions(netloc)
	if err != nil {
		return nil, err
	}
	return NewArchiveStore(netloc, a, opts...), nil
}

// VortexMulti builds the multi store of netloc. Its alternates are read
// from the `alternates` option, DefaultVortexAlternates otherwise.
func VortexMulti(reg *Registry, netloc string) (Store, error) {
	alternates, err := reg.conf.List(netloc, "alternates")
	if err != nil {
		return nil, err
	}
	for _, a := range alternates {
		if a == netloc {
			return nil, xe.Configurationf("%s: a multi store cannot be its own alternate", netloc)
		}
	}
	refill, err := reg.conf.Bool(netloc, "refill", true)
	if err != nil {
		return nil, err
	}
	opts, err := reg.storeOptions(netloc)
	if err != nil {
		return nil, err
	}
	return NewVortexStore(netloc, reg, refill, alternates, opts...), nil
}

// VortexPromise pairs the store named by the `itstore` option (default
// vortex.multi.fr) with the promise cache named by `prstore` (default
// promise.cache.fr).
func VortexPromise(reg *Registry, netloc string) (Store, error) {
	itNetloc, err := reg.conf.GetOr(netloc, "itstore", "vortex.multi.fr")
	if err != nil {
		return nil, err
	}
	prNetloc, err := reg.conf.GetOr(netloc, "prstore", "promise.cache.fr")
	if err != nil {
		return nil, err
	}
	if itNetloc == netloc || prNetloc == netloc {
		return nil, xe.Configurationf("%s: a promise store cannot wrap itself", netloc)
	}
	it, err := reg.Resolve(itNetloc)
	if err != nil {
		return nil, fmt.Errorf("%s: itstore: %w", netloc, err)
	}
	pr, err := reg.Resolve(prNetloc)
	if err != nil {
		return nil, fmt.Errorf("%s: prstore: %w", netloc, err)
	}
	opts, err := reg.storeOptions(netloc)
	if err != nil {
		return nil, err
	}
	return NewPromiseStore(netloc, pr, it, opts...), nil
}

// Describe returns a one-line description of a store, for humans.
func Describe(s Store) string {
	ro := ""
	if s.Readonly() {
		ro = " (read-only)"
	}
	return fmt.Sprintf("%s [%s] schemes=%s%s", s.Netloc(), s.Kind(), strings.Join(s.Schemes(), ","), ro)
}
