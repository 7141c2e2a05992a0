package stores

import (
	"context"
	"log"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/archive"
	"github.com/opst/vortexflow/pkg/remote"
)

// rootedRemap is a remap which may relocate the root of the backend.
type rootedRemap func(r remote.Remote) (item string, root string, err error)

func unrooted(f RemapFunc) rootedRemap {
	return func(r remote.Remote) (string, string, error) {
		item, err := f(r)
		return item, "", err
	}
}

// backendHandler serves a scheme out of one backend.
type backendHandler struct {
	backend backends.Backend

	// remaps for read verbs (check, locate, get) and write verbs (put, delete)
	read  rootedRemap
	write rootedRemap

	// scheme of the backend transport to be used, if any
	transport string
}

var _ SchemeHandler = &backendHandler{}

func newBackendHandler(b backends.Backend, read rootedRemap, write rootedRemap) *backendHandler {
	if write == nil {
		write = read
	}
	return &backendHandler{backend: b, read: read, write: write}
}

func (h *backendHandler) item(r remote.Remote, remap rootedRemap, opts backends.TransferOptions) (string, backends.TransferOptions, error) {
	item, root, err := remap(r)
	if err != nil {
		return "", opts, err
	}
	if r.Root != "" {
		root = r.Root
	}
	if root != "" {
		opts = extra(opts, archive.ExtraRoot, root)
	}
	if h.transport != "" {
		opts = extra(opts, archive.ExtraScheme, h.transport)
	}
	return item, opts, nil
}

func (h *backendHandler) Check(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (*backends.Stat, error) {
	item, opts, err := h.item(r, h.read, opts)
	if err != nil {
		return nil, err
	}
	return h.backend.Check(ctx, item, opts)
}

type fullpather interface {
	FullpathWith(item string, opts backends.TransferOptions) (string, error)
}

func (h *backendHandler) Locate(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (string, error) {
	item, opts, err := h.item(r, h.read, opts)
	if err != nil {
		return "", err
	}
	if fp, ok := h.backend.(fullpather); ok {
		return fp.FullpathWith(item, opts)
	}
	return h.backend.Fullpath(item)
}

func (h *backendHandler) Get(ctx context.Context, r remote.Remote, local string, opts backends.TransferOptions) (bool, error) {
	item, opts, err := h.item(r, h.read, opts)
	if err != nil {
		return false, err
	}
	return h.backend.Retrieve(ctx, item, local, opts)
}

func (h *backendHandler) Put(ctx context.Context, local string, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	item, opts, err := h.item(r, h.write, opts)
	if err != nil {
		return false, err
	}
	return h.backend.Insert(ctx, item, local, opts)
}

func (h *backendHandler) Delete(ctx context.Context, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	item, opts, err := h.item(r, h.write, opts)
	if err != nil {
		return false, err
	}
	return h.backend.Delete(ctx, item, opts)
}

// storeTrueHandler turns puts into logged no-ops when storing is disabled.
type storeTrueHandler struct {
	SchemeHandler
	storetrue bool
	netloc    string
	logger    *log.Logger
}

func (h *storeTrueHandler) suppressesPuts() bool { return !h.storetrue }

func (h *storeTrueHandler) Put(ctx context.Context, local string, r remote.Remote, opts backends.TransferOptions) (bool, error) {
	if !h.storetrue {
		h.logger.Printf("[WARN] %s: put of %s suppressed (storetrue is off)", h.netloc, r.URI())
		return true, nil
	}
	return h.SchemeHandler.Put(ctx, local, r, opts)
}
