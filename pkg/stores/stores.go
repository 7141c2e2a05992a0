// Package stores is the façade between logical remotes and storage backends.
//
// A Store serves one netloc. It picks a SchemeHandler by the scheme of the
// remote, remaps the remote into a backend item and delegates the call.
// Schemes are resolved per call: a store is built without knowing whether
// every item it will be asked for can be remapped.
//
// Every verb performed by a leaf store is published on the events.Bus.
package stores

import (
	"context"
	"log"
	"sort"
	"strconv"

	"github.com/opst/vortexflow/pkg/backends"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
	"github.com/opst/vortexflow/pkg/remote"
)

type Store interface {
	// Kind names the store family (e.g. "vortex-archive").
	Kind() string

	Netloc() string

	// Schemes returns the schemes this store serves.
	Schemes() []string

	// Readonly tells the store refuses writes from consumers.
	Readonly() bool

	// Check returns the metadata of the resource, or nil if it is missing.
	Check(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (*backends.Stat, error)

	// Locate returns the physical address(es) of the resource.
	Locate(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (string, error)

	Get(ctx context.Context, r remote.Remote, local string, opts backends.TransferOptions) (bool, error)

	Put(ctx context.Context, local string, r remote.Remote, opts backends.TransferOptions) (bool, error)

	Delete(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (bool, error)
}

// SchemeHandler performs the verbs of a store for one scheme.
type SchemeHandler interface {
	Check(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (*backends.Stat, error)
	Locate(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (string, error)
	Get(ctx context.Context, r remote.Remote, local string, opts backends.TransferOptions) (bool, error)
	Put(ctx context.Context, local string, r remote.Remote, opts backends.TransferOptions) (bool, error)
	Delete(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (bool, error)
}

type config struct {
	bus      *events.Bus
	logger   *log.Logger
	readonly bool
}

type Option func(*config) *config

// WithBus sets the board where store activity is published.
func WithBus(bus *events.Bus) Option {
	return func(c *config) *config {
		c.bus = bus
		return c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *config) *config {
		c.logger = l
		return c
	}
}

// ReadOnly marks the store as read-only for consumers.
func ReadOnly(readonly bool) Option {
	return func(c *config) *config {
		c.readonly = readonly
		return c
	}
}

func newConfig(options []Option) *config {
	c := &config{}
	for _, opt := range options {
		c = opt(c)
	}
	c.logger = logger.Or(c.logger)
	return c
}

// SchemeStore is a store dispatching verbs to a table of scheme handlers.
type SchemeStore struct {
	kind     string
	netloc   string
	handlers map[string]SchemeHandler
	bus      *events.Bus
	logger   *log.Logger
	readonly bool
}

var _ Store = &SchemeStore{}

func NewSchemeStore(kind string, netloc string, handlers map[string]SchemeHandler, options ...Option) *SchemeStore {
	conf := newConfig(options)
	hs := make(map[string]SchemeHandler, len(handlers))
	for k, v := range handlers {
		hs[k] = v
	}
	return &SchemeStore{
		kind:     kind,
		netloc:   netloc,
		handlers: hs,
		bus:      conf.bus,
		logger:   conf.logger,
		readonly: conf.readonly,
	}
}

func (s *SchemeStore) Kind() string { return s.kind }

func (s *SchemeStore) Netloc() string { return s.netloc }

func (s *SchemeStore) Readonly() bool { return s.readonly }

func (s *SchemeStore) Schemes() []string {
	ss := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		ss = append(ss, k)
	}
	sort.Strings(ss)
	return ss
}

func (s *SchemeStore) Logger() *log.Logger { return s.logger }

func (s *SchemeStore) handler(r remote.Remote) (SchemeHandler, error) {
	h, ok := s.handlers[r.Scheme]
	if !ok {
		return nil, xe.NotImplementedf("%s store (%s) does not serve scheme %q", s.kind, s.netloc, r.Scheme)
	}
	return h, nil
}

func (s *SchemeStore) notify(action events.Action, r remote.Remote, local string, ok bool) {
	s.bus.Publish(events.Event{
		Source: events.FromStore,
		Action: action,
		Ok:     ok,
		Store:  events.StoreInfo{Kind: s.kind, Scheme: r.Scheme, Netloc: s.netloc},
		Remote: r.Copy(),
		Local:  local,
	})
}

func (s *SchemeStore) Check(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (*backends.Stat, error) {
	h, err := s.handler(r)
	if err != nil {
		return nil, err
	}
	st, err := h.Check(ctx, r, withQuery(r, opts))
	if err != nil {
		return nil, err
	}
	s.notify(events.Check, r, "", st != nil)
	return st, nil
}

func (s *SchemeStore) Locate(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (string, error) {
	h, err := s.handler(r)
	if err != nil {
		return "", err
	}
	loc, err := h.Locate(ctx, r, withQuery(r, opts))
	if err != nil {
		return "", err
	}
	s.notify(events.Locate, r, "", true)
	return loc, nil
}

func (s *SchemeStore) Get(ctx context.Context, r remote.Remote, local string, opts backends.TransferOptions) (bool, error) {
	h, err := s.handler(r)
	if err != nil {
		return false, err
	}
	ok, err := h.Get(ctx, r, local, withQuery(r, opts))
	if err != nil {
		return false, err
	}
	s.notify(events.Get, r, local, ok)
	return ok, nil
}

func (s *SchemeStore) Put(ctx context.Context, local string, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	h, err := s.handler(r)
	if err != nil {
		return false, err
	}
	ok, err := h.Put(ctx, local, r, withQuery(r, opts))
	if err != nil {
		return false, err
	}
	// nothing is stored: there is nothing to track
	if sp, isSuppressor := h.(putSuppressor); isSuppressor && sp.suppressesPuts() {
		return ok, nil
	}
	s.notify(events.Put, r, local, ok)
	return ok, nil
}

// putSuppressor is a handler which may accept puts without storing.
type putSuppressor interface {
	suppressesPuts() bool
}

func (s *SchemeStore) Delete(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	h, err := s.handler(r)
	if err != nil {
		return false, err
	}
	ok, err := h.Delete(ctx, r, withQuery(r, opts))
	if err != nil {
		return false, err
	}
	s.notify(events.Delete, r, "", ok)
	return ok, nil
}

// withQuery completes opts with transfer options given in the query of r.
// Options set by the caller win.
func withQuery(r remote.Remote, opts backends.TransferOptions) backends.TransferOptions {
	if opts.Extract == "" {
		opts.Extract = r.First("extract")
	}
	if opts.Compression == "" {
		opts.Compression = r.First("compress")
	}
	if !opts.DirExtract {
		opts.DirExtract = flag(r, "dirextract")
	}
	if !opts.TarExtract {
		opts.TarExtract = flag(r, "tarextract")
	}
	if opts.Fmt == "" {
		opts.Fmt = r.First("fmt")
	}
	return opts
}

func flag(r remote.Remote, key string) bool {
	v := r.First(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v == "yes" || v == "on"
	}
	return b
}

// extra returns a copy of opts whose Extra map holds key=value.
func extra(opts backends.TransferOptions, key string, value string) backends.TransferOptions {
	m := make(map[string]string, len(opts.Extra)+1)
	for k, v := range opts.Extra {
		m[k] = v
	}
	m[key] = value
	opts.Extra = m
	return opts
}
