package stores

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/opst/vortexflow/pkg/backends"
	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/remote"
)

// Resolver finds the store serving a netloc.
type Resolver interface {
	Resolve(netloc string) (Store, error)
}

type ResolverFunc func(netloc string) (Store, error)

func (f ResolverFunc) Resolve(netloc string) (Store, error) { return f(netloc) }

// DefaultVortexAlternates is the priority list of vortex.multi.fr.
var DefaultVortexAlternates = []string{
	"vortex.cache-mt.fr",
	"vortex.cache-buddies.fr",
	"vortex.cache-market.fr",
	"vortex.archive.fr",
}

// MultiStore tries a list of alternate stores in priority order.
//
// Reads are served by the first alternate holding the resource. With
// refill, alternates of higher priority which missed it are then fed with
// the local copy; refill failures are logged only. Writes go to every
// writeable alternate.
//
// Alternates are resolved at each call. Alternates which cannot be resolved
// are skipped; a call fails only when none can be.
type MultiStore struct {
	kind       string
	netloc     string
	alternates []string
	resolver   Resolver
	refill     bool
	logger     *log.Logger
}

var _ Store = &MultiStore{}

func NewMultiStore(kind string, netloc string, alternates []string, resolver Resolver, refill bool, options ...Option) *MultiStore {
	conf := newConfig(options)
	return &MultiStore{
		kind:       kind,
		netloc:     netloc,
		alternates: append([]string{}, alternates...),
		resolver:   resolver,
		refill:     refill,
		logger:     conf.logger,
	}
}

// NewVortexStore is the multi store of vortex resources: caches first, then
// the archive.
func NewVortexStore(netloc string, resolver Resolver, refill bool, alternates []string, options ...Option) *MultiStore {
	if len(alternates) == 0 {
		alternates = DefaultVortexAlternates
	}
	return NewMultiStore("vortex-multi", netloc, alternates, resolver, refill, options...)
}

func (m *MultiStore) Kind() string { return m.kind }

func (m *MultiStore) Netloc() string { return m.netloc }

// AlternatesNetloc returns netlocs of alternates, by priority.
func (m *MultiStore) AlternatesNetloc() []string {
	return append([]string{}, m.alternates...)
}

func (m *MultiStore) Refill() bool { return m.refill }

func (m *MultiStore) resolve() ([]Store, error) {
	if len(m.alternates) == 0 {
		return nil, xe.NotImplementedf("%s: no alternates", m.netloc)
	}
	if m.resolver == nil {
		return nil, xe.NotImplementedf("%s: alternates cannot be resolved", m.netloc)
	}
	stores := make([]Store, 0, len(m.alternates))
	var lastErr error
	for _, netloc := range m.alternates {
		s, err := m.resolver.Resolve(netloc)
		if err != nil {
			m.logger.Printf("[WARN] %s: alternate %s is skipped: %s", m.netloc, netloc, err)
			lastErr = err
			continue
		}
		stores = append(stores, s)
	}
	if len(stores) == 0 {
		return nil, xe.WrapWithNote(m.netloc, lastErr)
	}
	return stores, nil
}

// Schemes returns schemes served by every resolvable alternate.
func (m *MultiStore) Schemes() []string {
	stores, err := m.resolve()
	if err != nil {
		return nil
	}
	count := map[string]int{}
	for _, s := range stores {
		for _, scheme := range s.Schemes() {
			count[scheme]++
		}
	}
	schemes := []string{}
	for scheme, n := range count {
		if n == len(stores) {
			schemes = append(schemes, scheme)
		}
	}
	sort.Strings(schemes)
	return schemes
}

// Readonly tells no alternate accepts writes.
func (m *MultiStore) Readonly() bool {
	stores, err := m.resolve()
	if err != nil {
		return true
	}
	for _, s := range stores {
		if !s.Readonly() {
			return false
		}
	}
	return true
}

// alternate returns r as addressed to s.
func alternate(r remote.Remote, s Store) remote.Remote {
	ar := r.Copy()
	ar.Netloc = s.Netloc()
	return ar
}

func (m *MultiStore) Check(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (*backends.Stat, error) {
	stores, err := m.resolve()
	if err != nil {
		return nil, err
	}
	var firstErr error
	failures := 0
	opts.Silent = true
	for _, s := range stores {
		st, err := s.Check(ctx, alternate(r, s), opts)
		if err != nil {
			m.logger.Printf("[WARN] %s: check on %s failed: %s", m.netloc, s.Netloc(), err)
			if firstErr == nil {
				firstErr = err
			}
			failures++
			continue
		}
		if st != nil {
			return st, nil
		}
	}
	if failures == len(stores) {
		return nil, firstErr
	}
	return nil, nil
}

// Locate returns the addresses of every alternate, joined by ";".
func (m *MultiStore) Locate(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (string, error) {
	stores, err := m.resolve()
	if err != nil {
		return "", err
	}
	var firstErr error
	locs := []string{}
	for _, s := range stores {
		loc, err := s.Locate(ctx, alternate(r, s), opts)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		locs = append(locs, loc)
	}
	if len(locs) == 0 {
		return "", firstErr
	}
	return strings.Join(locs, ";"), nil
}

func (m *MultiStore) Get(ctx context.Context, r remote.Remote, local string, opts backends.TransferOptions) (bool, error) {
	stores, err := m.resolve()
	if err != nil {
		return false, err
	}

	quiet := opts
	quiet.Silent = true

	var firstErr error
	failures := 0
	missed := []Store{}
	for _, s := range stores {
		ar := alternate(r, s)
		st, err := s.Check(ctx, ar, quiet)
		if err != nil {
			m.logger.Printf("[WARN] %s: check on %s failed: %s", m.netloc, s.Netloc(), err)
			if firstErr == nil {
				firstErr = err
			}
			failures++
			continue
		}
		if st == nil {
			missed = append(missed, s)
			continue
		}

		ok, err := s.Get(ctx, ar, local, opts)
		if err != nil {
			m.logger.Printf("[WARN] %s: get from %s failed: %s", m.netloc, s.Netloc(), err)
			if firstErr == nil {
				firstErr = err
			}
			failures++
			continue
		}
		if !ok {
			continue
		}
		if m.refill {
			m.refillInto(ctx, missed, r, local, opts)
		}
		return true, nil
	}

	if failures == len(stores) {
		return false, firstErr
	}
	if !opts.Silent {
		m.logger.Printf("[ERROR] %s: %s is not found in %s", m.netloc, r.URI(), strings.Join(m.alternates, ", "))
	}
	return false, nil
}

// refillInto puts local into every writeable store of targets.
func (m *MultiStore) refillInto(ctx context.Context, targets []Store, r remote.Remote, local string, opts backends.TransferOptions) {
	if opts.Extract != "" || opts.TarExtract || opts.DirExtract {
		// local is not the stored item anymore
		return
	}
	opts.Intent = backends.IntentIn
	opts.Promise = false
	for _, s := range targets {
		if s.Readonly() {
			continue
		}
		ok, err := s.Put(ctx, local, alternate(r, s), opts)
		switch {
		case err != nil:
			m.logger.Printf("[WARN] %s: refill of %s failed: %s", m.netloc, s.Netloc(), err)
		case !ok:
			m.logger.Printf("[WARN] %s: refill of %s failed", m.netloc, s.Netloc())
		}
	}
}

func (m *MultiStore) writeable() ([]Store, error) {
	stores, err := m.resolve()
	if err != nil {
		return nil, err
	}
	ws := []Store{}
	for _, s := range stores {
		if !s.Readonly() {
			ws = append(ws, s)
		}
	}
	if len(ws) == 0 {
		return nil, xe.ReadOnlyf("%s: every alternate is read-only", m.netloc)
	}
	return ws, nil
}

// Put writes through every writeable alternate. It succeeds when they all do.
func (m *MultiStore) Put(ctx context.Context, local string, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	stores, err := m.writeable()
	if err != nil {
		return false, err
	}
	all := true
	var firstErr error
	for _, s := range stores {
		ok, err := s.Put(ctx, local, alternate(r, s), opts)
		if err != nil {
			m.logger.Printf("[ERROR] %s: put into %s failed: %s", m.netloc, s.Netloc(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
		all = all && ok && err == nil
	}
	return all, firstErr
}

// Delete removes the resource from every writeable alternate.
func (m *MultiStore) Delete(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	stores, err := m.writeable()
	if err != nil {
		return false, err
	}
	all := true
	var firstErr error
	for _, s := range stores {
		ok, err := s.Delete(ctx, alternate(r, s), opts)
		if err != nil {
			m.logger.Printf("[ERROR] %s: delete from %s failed: %s", m.netloc, s.Netloc(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
		all = all && ok && err == nil
	}
	return all, firstErr
}
