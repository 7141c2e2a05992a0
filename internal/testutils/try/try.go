// Package try shortens "value, err" handling in tests.
//
//	content := try.To(os.ReadFile(path)).OrFatal(t)
package try

// something have method `Fatal`, like *testing.T or *log.Logger.
type Fataler interface {
	Fatal(...any)
}

// Result wraps a pair of (T, error).
type Result[T any] struct {
	value T
	err   error
}

func To[T any](value T, err error) Result[T] {
	return Result[T]{value: value, err: err}
}

func (r Result[T]) Get() (T, error) {
	return r.value, r.err
}

// OrFatal returns the value, or calls ftl.Fatal with the error.
//
// If ftl has "Helper()" method (like *testing.T), that is called before `Fatal`.
func (r Result[T]) OrFatal(ftl Fataler) T {
	if r.err == nil {
		return r.value
	}
	if hlp, ok := ftl.(interface{ Helper() }); ok {
		hlp.Helper()
	}
	ftl.Fatal(r.err)
	return *new(T)
}

func (r Result[T]) OrDefault(d T) T {
	if r.err != nil {
		return d
	}
	return r.value
}
