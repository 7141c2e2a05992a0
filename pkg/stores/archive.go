package stores

import (
	"github.com/opst/vortexflow/pkg/backends/archive"
)

// NewArchiveStore serves an archive through the schemes of its transports:
// `ftp://open.archive.fr/some/path` is fetched by the ftp transport.
func NewArchiveStore(netloc string, a *archive.Archive, options ...Option) *SchemeStore {
	handlers := map[string]SchemeHandler{}
	for _, scheme := range a.Schemes() {
		h := newBackendHandler(a, unrooted(Identity), nil)
		h.transport = scheme
		handlers[scheme] = h
	}
	return NewSchemeStore("archive", netloc, handlers, withReadonly(a.Readonly(), options)...)
}

// NewVortexArchiveStore serves `vortex://` remotes out of an archive,
// remapped by VortexArchiveRemap.
func NewVortexArchiveStore(netloc string, a *archive.Archive, options ...Option) *SchemeStore {
	return NewSchemeStore("vortex-archive", netloc, map[string]SchemeHandler{
		"vortex": newBackendHandler(a, VortexArchiveRemap, nil),
	}, withReadonly(a.Readonly(), options)...)
}

// NewOliveArchiveStore serves `olive://` remotes, remapped by OliveArchiveRemap.
func NewOliveArchiveStore(netloc string, a *archive.Archive, options ...Option) *SchemeStore {
	return NewSchemeStore("olive-archive", netloc, map[string]SchemeHandler{
		"olive": newBackendHandler(a, unrooted(OliveArchiveRemap), nil),
	}, withReadonly(a.Readonly(), options)...)
}

// NewOpArchiveStore serves `op://` remotes, remapped by OpArchiveRemap.
//
// When storetrue is false, puts succeed without writing anything and are not
// published.
func NewOpArchiveStore(netloc string, a *archive.Archive, storetrue bool, options ...Option) *SchemeStore {
	s := NewSchemeStore("op-archive", netloc, nil, withReadonly(a.Readonly(), options)...)
	s.handlers["op"] = &storeTrueHandler{
		SchemeHandler: newBackendHandler(a, unrooted(OpArchiveRemap), nil),
		storetrue:     storetrue,
		netloc:        netloc,
		logger:        s.logger,
	}
	return s
}

// withReadonly puts the readonly flag of a backend before options, so
// that options can still override it.
func withReadonly(readonly bool, options []Option) []Option {
	return append([]Option{ReadOnly(readonly)}, options...)
}
