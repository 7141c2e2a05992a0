// Package dataflow tracks the inputs and outputs of a unit of work.
//
// A Handler binds a resource (its kind, its local container and its remote)
// to the store serving it. Sections plan the use of handlers inside a
// Sequence; they never change their stage by themselves, they follow the
// notifications published on the events.Bus by handlers. A LocalTracker
// records which handlers, hooks and store URIs touched each local file.
package dataflow

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
	"github.com/opst/vortexflow/pkg/remote"
	"github.com/opst/vortexflow/pkg/stores"
	"github.com/opst/vortexflow/pkg/utils/files"
)

// Handler is a resource bound to its local container and its store.
type Handler struct {
	id     string
	kind   string
	local  string
	remote remote.Remote
	store  stores.Store
	opts   backends.TransferOptions
	bus    *events.Bus
	logger *log.Logger
}

type HandlerOption func(*Handler) *Handler

// WithTransferOptions sets options passed to every store call.
func WithTransferOptions(opts backends.TransferOptions) HandlerOption {
	return func(h *Handler) *Handler {
		h.opts = opts
		return h
	}
}

func WithHandlerBus(bus *events.Bus) HandlerOption {
	return func(h *Handler) *Handler {
		h.bus = bus
		return h
	}
}

func WithHandlerLogger(l *log.Logger) HandlerOption {
	return func(h *Handler) *Handler {
		h.logger = l
		return h
	}
}

// NewHandler binds the resource of kind stored at r in s to the local path.
func NewHandler(kind string, local string, s stores.Store, r remote.Remote, options ...HandlerOption) *Handler {
	h := &Handler{
		id:     uuid.NewString(),
		kind:   kind,
		local:  local,
		remote: r.Copy(),
		store:  s,
	}
	for _, opt := range options {
		h = opt(h)
	}
	h.logger = logger.Or(h.logger)
	return h
}

func (h *Handler) ID() string { return h.id }

// Kind is the kind of the resource (e.g. "gridpoint", "namelist").
func (h *Handler) Kind() string { return h.kind }

// Local is the path of the local container.
func (h *Handler) Local() string { return h.local }

func (h *Handler) Remote() remote.Remote { return h.remote.Copy() }

func (h *Handler) Store() stores.Store { return h.store }

// Exists tells the local container is there.
func (h *Handler) Exists() bool {
	return files.Exists(h.local)
}

// Snapshot describes the handler. Transfer options are left out.
func (h *Handler) Snapshot() map[string]any {
	return map[string]any{
		"id":     h.id,
		"kind":   h.kind,
		"local":  h.local,
		"remote": h.remote.URI(),
		"store":  h.store.Netloc(),
		"scheme": h.remote.Scheme,
		"intent": string(h.opts.Intent),
		"fmt":    h.opts.Fmt,
	}
}

func (h *Handler) String() string {
	return h.kind + ":" + h.remote.URI() + " -> " + h.local
}

func (h *Handler) publish(stage events.Action, ok bool) {
	h.bus.Publish(events.Event{
		Source:   events.FromHandler,
		Action:   stage,
		Ok:       ok,
		Store:    events.StoreInfo{Kind: h.store.Kind(), Scheme: h.remote.Scheme, Netloc: h.store.Netloc()},
		Remote:   h.remote.Copy(),
		Local:    h.local,
		Handler:  h.id,
		Snapshot: h.Snapshot(),
	})
}

// Load announces the handler is ready to be transferred.
func (h *Handler) Load() {
	h.publish(events.Load, true)
}

// Locate returns the physical address(es) of the resource.
func (h *Handler) Locate(ctx context.Context) (string, error) {
	return h.store.Locate(ctx, h.remote, h.opts)
}

// Check returns the metadata of the stored resource, or nil when missing.
func (h *Handler) Check(ctx context.Context) (*backends.Stat, error) {
	return h.store.Check(ctx, h.remote, h.opts)
}

// Get fetches the resource into its local container.
//
// When the fetched file is a promise, the resource is announced as
// expected instead of got.
func (h *Handler) Get(ctx context.Context) (bool, error) {
	ok, err := h.store.Get(ctx, h.remote, h.local, h.opts)
	if err != nil || !ok {
		return ok, err
	}
	stage := events.Get
	if _, promised := stores.ReadPromise(h.local); promised {
		stage = events.Expected
	}
	h.publish(stage, true)
	return true, nil
}

// Put stores the local container.
//
// A missing container is not put: the handler is announced as a ghost.
func (h *Handler) Put(ctx context.Context) (bool, error) {
	if !h.Exists() {
		h.logger.Printf("[WARN] %s: local container %s is missing", h.remote.URI(), h.local)
		h.publish(events.Ghost, false)
		return false, nil
	}
	opts := h.opts
	opts.Promise = false
	ok, err := h.store.Put(ctx, h.local, h.remote, opts)
	if err != nil || !ok {
		return ok, err
	}
	h.publish(events.Put, true)
	return true, nil
}

// Promise leaves a promise of the resource in its store. Stages are not
// affected: the resource itself is still to come.
func (h *Handler) Promise(ctx context.Context) (bool, error) {
	opts := h.opts
	opts.Promise = true
	return h.store.Put(ctx, h.local, h.remote, opts)
}

// Delete removes the resource from its store.
func (h *Handler) Delete(ctx context.Context) (bool, error) {
	return h.store.Delete(ctx, h.remote, h.opts)
}
