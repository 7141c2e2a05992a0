package backends

import (
	"os"
	"path/filepath"
	"strings"

	xe "github.com/opst/vortexflow/pkg/errors"
)

// Environ looks up environment variables.
type Environ interface {
	Lookup(key string) (string, bool)
}

// OSEnviron reads the process environment.
type OSEnviron struct{}

func (OSEnviron) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnviron is an Environ backed by a map.
type MapEnviron map[string]string

func (m MapEnviron) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// EnvironOr returns env, or the process environment when env is nil.
func EnvironOr(env Environ) Environ {
	if env == nil {
		return OSEnviron{}
	}
	return env
}

// Probe is one candidate location of a root directory.
type Probe struct {
	// Name describes the candidate in error messages.
	Name string

	// Resolve returns the location and whether the candidate applies.
	Resolve func(Environ) (string, bool)
}

// EnvDir is a Probe applying when the environment variable key is set and
// not empty. It resolves to its value joined with subpath.
func EnvDir(key string, subpath ...string) Probe {
	name := "$" + key
	if len(subpath) != 0 {
		name = filepath.Join(append([]string{name}, subpath...)...)
	}
	return Probe{
		Name: name,
		Resolve: func(env Environ) (string, bool) {
			v, ok := env.Lookup(key)
			if !ok || strings.TrimSpace(v) == "" {
				return "", false
			}
			return filepath.Join(append([]string{v}, subpath...)...), true
		},
	}
}

// Fixed is a Probe always resolving to path.
func Fixed(path string) Probe {
	return Probe{
		Name:    path,
		Resolve: func(Environ) (string, bool) { return path, true },
	}
}

// ProbeRoot evaluates probes in order and returns the first location which
// applies. It fails with ErrConfiguration when none applies.
func ProbeRoot(kind string, env Environ, probes ...Probe) (string, error) {
	env = EnvironOr(env)
	names := make([]string, 0, len(probes))
	for _, p := range probes {
		if root, ok := p.Resolve(env); ok {
			return root, nil
		}
		names = append(names, p.Name)
	}
	return "", xe.Configurationf(
		"no root directory for %s backend (tried: %s)", kind, strings.Join(names, ", "),
	)
}
