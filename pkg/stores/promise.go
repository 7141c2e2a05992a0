package stores

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/cache"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/remote"
)

// Promise is the descriptor of a resource which is expected but not yet
// produced.
type Promise struct {
	Promise  bool      `json:"promise"`
	Stamp    time.Time `json:"stamp"`
	ItSelf   string    `json:"itself"`
	Locate   string    `json:"locate"`
	Hostname string    `json:"hostname"`
	PID      int       `json:"pid"`
}

// ReadPromise reads the promise at path. It tells false when path does
// not hold a promise.
func ReadPromise(path string) (*Promise, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	p := new(Promise)
	if err := json.Unmarshal(content, p); err != nil || !p.Promise {
		return nil, false
	}
	return p, true
}

func WritePromise(path string, p Promise) error {
	p.Promise = true
	content, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, os.FileMode(0644))
}

// promiseHandler forces promise transfers to be ascii, and inputs.
type promiseHandler struct {
	SchemeHandler
}

func promised(opts backends.TransferOptions) backends.TransferOptions {
	opts.Fmt = "ascii"
	opts.Intent = backends.IntentIn
	return opts
}

func (h promiseHandler) Check(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (*backends.Stat, error) {
	return h.SchemeHandler.Check(ctx, r, promised(opts))
}

func (h promiseHandler) Locate(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (string, error) {
	return h.SchemeHandler.Locate(ctx, r, promised(opts))
}

func (h promiseHandler) Get(ctx context.Context, r remote.Remote, local string, opts backends.TransferOptions) (bool, error) {
	return h.SchemeHandler.Get(ctx, r, local, promised(opts))
}

func (h promiseHandler) Put(ctx context.Context, local string, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	return h.SchemeHandler.Put(ctx, local, r, promised(opts))
}

func (h promiseHandler) Delete(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	return h.SchemeHandler.Delete(ctx, r, promised(opts))
}

// NewPromiseCacheStore serves promises of `vortex://` resources out of a
// cache. It is read-only for consumers: only PromiseStore writes there.
func NewPromiseCacheStore(netloc string, c *cache.Cache, options ...Option) *SchemeStore {
	return NewSchemeStore("promise-cache", netloc, map[string]SchemeHandler{
		"vortex": promiseHandler{newBackendHandler(c, unrooted(VortexCacheRemap), nil)},
	}, append(options, ReadOnly(true))...)
}

// PromiseStore pairs a store of actual resources with a promise cache.
//
// A put with the Promise option leaves a promise; an actual put withdraws
// it. A get falls back to the promise when the resource is not there yet,
// and is then reported as Expected.
type PromiseStore struct {
	netloc   string
	prstore  Store
	itstore  Store
	bus      *events.Bus
	logger   *log.Logger
	hostname func() (string, error)
	now      func() time.Time
}

var _ Store = &PromiseStore{}

func NewPromiseStore(netloc string, prstore Store, itstore Store, options ...Option) *PromiseStore {
	conf := newConfig(options)
	return &PromiseStore{
		netloc:   netloc,
		prstore:  prstore,
		itstore:  itstore,
		bus:      conf.bus,
		logger:   conf.logger,
		hostname: os.Hostname,
		now:      time.Now,
	}
}

func (p *PromiseStore) Kind() string { return "promise" }

func (p *PromiseStore) Netloc() string { return p.netloc }

func (p *PromiseStore) Schemes() []string { return p.itstore.Schemes() }

func (p *PromiseStore) Readonly() bool { return p.itstore.Readonly() }

func (p *PromiseStore) Check(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (*backends.Stat, error) {
	st, err := p.itstore.Check(ctx, alternate(r, p.itstore), opts)
	if err != nil || st != nil {
		return st, err
	}
	return p.prstore.Check(ctx, alternate(r, p.prstore), opts)
}

func (p *PromiseStore) Locate(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (string, error) {
	it, err := p.itstore.Locate(ctx, alternate(r, p.itstore), opts)
	if err != nil {
		return "", err
	}
	pr, err := p.prstore.Locate(ctx, alternate(r, p.prstore), opts)
	if err != nil {
		return it, nil
	}
	return strings.Join([]string{it, pr}, ";"), nil
}

func (p *PromiseStore) Get(ctx context.Context, r remote.Remote, local string, opts backends.TransferOptions) (bool, error) {
	itr := alternate(r, p.itstore)
	quiet := opts
	quiet.Silent = true
	st, err := p.itstore.Check(ctx, itr, quiet)
	if err != nil {
		return false, err
	}
	if st != nil {
		return p.itstore.Get(ctx, itr, local, opts)
	}

	prr := alternate(r, p.prstore)
	st, err = p.prstore.Check(ctx, prr, quiet)
	if err != nil {
		return false, err
	}
	if st == nil {
		if !opts.Silent {
			p.logger.Printf("[ERROR] %s: %s is neither available nor promised", p.netloc, r.URI())
		}
		return false, nil
	}
	ok, err := p.prstore.Get(ctx, prr, local, opts)
	if err != nil {
		return false, err
	}
	p.bus.Publish(events.Event{
		Source: events.FromStore,
		Action: events.Expected,
		Ok:     ok,
		Store:  events.StoreInfo{Kind: p.Kind(), Scheme: r.Scheme, Netloc: p.netloc},
		Remote: r.Copy(),
		Local:  local,
	})
	return ok, nil
}

func (p *PromiseStore) Put(ctx context.Context, local string, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	if opts.Promise {
		return p.promise(ctx, r, opts)
	}
	ok, err := p.itstore.Put(ctx, local, alternate(r, p.itstore), opts)
	if err != nil || !ok {
		return ok, err
	}
	p.withdraw(ctx, r, opts)
	return true, nil
}

func (p *PromiseStore) promise(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	itr := alternate(r, p.itstore)
	loc, err := p.itstore.Locate(ctx, itr, opts)
	if err != nil {
		return false, err
	}
	host, err := p.hostname()
	if err != nil {
		host = "localhost"
	}

	f, err := os.CreateTemp("", "promise-*.json")
	if err != nil {
		return false, err
	}
	tmp := f.Name()
	f.Close()
	defer os.Remove(tmp)
	if err := WritePromise(tmp, Promise{
		Stamp: p.now(), ItSelf: itr.URI(), Locate: loc, Hostname: host, PID: os.Getpid(),
	}); err != nil {
		return false, err
	}
	return p.prstore.Put(ctx, tmp, alternate(r, p.prstore), opts)
}

// withdraw deletes the promise of r, if any.
func (p *PromiseStore) withdraw(ctx context.Context, r remote.Remote, opts backends.TransferOptions) {
	prr := alternate(r, p.prstore)
	quiet := opts
	quiet.Silent = true
	st, err := p.prstore.Check(ctx, prr, quiet)
	if err != nil || st == nil {
		return
	}
	if ok, err := p.prstore.Delete(ctx, prr, opts); err != nil || !ok {
		p.logger.Printf("[WARN] %s: cannot withdraw the promise of %s: %v", p.netloc, r.URI(), err)
	}
}

func (p *PromiseStore) Delete(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	ok, err := p.itstore.Delete(ctx, alternate(r, p.itstore), opts)
	if err != nil {
		return false, err
	}
	p.withdraw(ctx, r, opts)
	return ok, nil
}
