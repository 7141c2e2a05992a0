// Package remote describes the logical address of a resource as seen by a
// store, before any backend specific remapping.
package remote

import (
	"net/url"
	"sort"
	"strings"

	xe "github.com/opst/vortexflow/pkg/errors"
)

// Remote is a logical address: scheme://netloc/path;params?query#fragment.
//
// Root optionally overrides the root directory of the backend.
type Remote struct {
	Scheme   string              `json:"scheme"`
	Netloc   string              `json:"netloc"`
	Path     string              `json:"path"`
	Params   string              `json:"params"`
	Query    map[string][]string `json:"query"`
	Fragment string              `json:"fragment"`
	Root     string              `json:"root,omitempty"`
}

// Parse reads an URI into a Remote.
func Parse(uri string) (Remote, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Remote{}, xe.InvalidRemotef("%s: %s", uri, err)
	}
	if u.Scheme == "" {
		return Remote{}, xe.InvalidRemotef("%s: scheme is missing", uri)
	}
	p, params, _ := strings.Cut(u.Path, ";")
	r := Remote{
		Scheme:   strings.ToLower(u.Scheme),
		Netloc:   u.Host,
		Path:     p,
		Params:   params,
		Query:    map[string][]string(u.Query()),
		Fragment: u.Fragment,
	}
	if root := r.First("root"); root != "" {
		r.Root = root
		delete(r.Query, "root")
	}
	return r, nil
}

// Copy returns a deep copy. Remapping works on copies only.
func (r Remote) Copy() Remote {
	c := r
	if r.Query != nil {
		c.Query = make(map[string][]string, len(r.Query))
		for k, v := range r.Query {
			c.Query[k] = append([]string{}, v...)
		}
	}
	return c
}

// First returns the first value of query key, or "".
func (r Remote) First(key string) string {
	if v := r.Query[key]; len(v) != 0 {
		return v[0]
	}
	return ""
}

// Has tells the query holds key.
func (r Remote) Has(key string) bool {
	_, ok := r.Query[key]
	return ok
}

// WithQuery returns a copy whose query key is set to values.
func (r Remote) WithQuery(key string, values ...string) Remote {
	c := r.Copy()
	if c.Query == nil {
		c.Query = map[string][]string{}
	}
	c.Query[key] = append([]string{}, values...)
	return c
}

// WithPath returns a copy with another path.
func (r Remote) WithPath(path string) Remote {
	c := r.Copy()
	c.Path = path
	return c
}

// Segments returns the non-empty components of the path.
func (r Remote) Segments() []string {
	segs := []string{}
	for _, s := range strings.Split(r.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// URI formats the remote back. Query keys are sorted.
func (r Remote) URI() string {
	sb := new(strings.Builder)
	sb.WriteString(r.Scheme)
	sb.WriteString("://")
	sb.WriteString(r.Netloc)
	if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
		sb.WriteString("/")
	}
	sb.WriteString(r.Path)
	if r.Params != "" {
		sb.WriteString(";" + r.Params)
	}

	q := url.Values{}
	for k, v := range r.Query {
		q[k] = v
	}
	if r.Root != "" {
		q.Set("root", r.Root)
	}
	if len(q) != 0 {
		sb.WriteString("?" + q.Encode())
	}
	if r.Fragment != "" {
		sb.WriteString("#" + r.Fragment)
	}
	return sb.String()
}

func (r Remote) String() string {
	return r.URI()
}

// Equal compares remotes field by field. Order of query keys is not significant.
func (r Remote) Equal(o Remote) bool {
	if r.Scheme != o.Scheme || r.Netloc != o.Netloc || r.Path != o.Path ||
		r.Params != o.Params || r.Fragment != o.Fragment || r.Root != o.Root {
		return false
	}
	if len(r.Query) != len(o.Query) {
		return false
	}
	for _, k := range keys(r.Query) {
		x, y := r.Query[k], o.Query[k]
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
	}
	return true
}

func keys(m map[string][]string) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}
