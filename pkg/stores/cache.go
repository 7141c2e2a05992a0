package stores

import (
	"github.com/opst/vortexflow/pkg/backends/cache"
)

// Netlocs of vortex caches, and the cache kind serving each of them.
var VortexCacheKinds = map[string]string{
	"vortex.cache.fr":         "std",
	"vortex.cache-mt.fr":      "mtool",
	"vortex.cache-buddies.fr": "buddies",
	"vortex.cache-market.fr":  "market",
	"vortex.cache-op2r.fr":    "op2r",
	"vortex.cache-hack.fr":    "hack",
}

// NewCacheStore serves a cache for the given schemes, with paths addressed
// as they are.
func NewCacheStore(netloc string, c *cache.Cache, schemes []string, options ...Option) *SchemeStore {
	handlers := map[string]SchemeHandler{}
	for _, scheme := range schemes {
		handlers[scheme] = newBackendHandler(c, unrooted(Identity), nil)
	}
	return NewSchemeStore(c.Kind()+"-cache", netloc, handlers, withReadonly(c.Readonly(), options)...)
}

// NewVortexCacheStore serves `vortex://` remotes out of a cache.
func NewVortexCacheStore(netloc string, c *cache.Cache, options ...Option) *SchemeStore {
	return NewSchemeStore("vortex-"+c.Kind()+"-cache", netloc, map[string]SchemeHandler{
		"vortex": newBackendHandler(c, unrooted(VortexCacheRemap), nil),
	}, withReadonly(c.Readonly(), options)...)
}
