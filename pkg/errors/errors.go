// Error taxonomy shared by backends, stores and dataflow.
//
// Expected failures (missing remote, failed copy) are reported as `false`
// by the storage layers. Errors built here are for the other categories:
// configuration problems, read-only violations and unsupported schemes.
//
// `Wrap` annotates an error with the place where it is wrapped:
//
//	wrapped := xerrors.Wrap(err)
//
// When you read message of this, replace
//
//	s/<-/\n/
//
// and it gives you "stacks" of where you marks.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrConfiguration is raised when a mandatory setting cannot be resolved
	// (no usable root directory, missing key, bad value).
	ErrConfiguration = errors.New("configuration error")

	// ErrReadOnly is raised when a mutating operation hits a read-only backend.
	ErrReadOnly = errors.New("read-only storage")

	// ErrNotImplemented is raised for schemes or verbs a store/backend does not serve.
	ErrNotImplemented = errors.New("not implemented")

	// ErrInvalidRemote is raised when a remote descriptor cannot be remapped.
	ErrInvalidRemote = errors.New("invalid remote")
)

// Configurationf builds an error wrapping ErrConfiguration.
func Configurationf(format string, args ...any) error {
	return wrap("", fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...), 1)
}

// ReadOnlyf builds an error wrapping ErrReadOnly.
func ReadOnlyf(format string, args ...any) error {
	return wrap("", fmt.Errorf("%w: "+format, append([]any{ErrReadOnly}, args...)...), 1)
}

// NotImplementedf builds an error wrapping ErrNotImplemented.
func NotImplementedf(format string, args ...any) error {
	return wrap("", fmt.Errorf("%w: "+format, append([]any{ErrNotImplemented}, args...)...), 1)
}

// InvalidRemotef builds an error wrapping ErrInvalidRemote.
func InvalidRemotef(format string, args ...any) error {
	return wrap("", fmt.Errorf("%w: "+format, append([]any{ErrInvalidRemote}, args...)...), 1)
}

type ErrWithCaller struct {
	file     string
	line     int
	funcname string
	note     string
	err      error
}

func (e *ErrWithCaller) File() string {
	return e.file
}

func (e *ErrWithCaller) Line() int {
	return e.line
}

func (e *ErrWithCaller) Error() string {
	if e.note == "" {
		return fmt.Sprintf(`@ %s "%s" l%d <- %s`, e.funcname, e.file, e.line, e.err.Error())
	}
	return fmt.Sprintf(`@ %s "%s" l%d (%s) <- %s`, e.funcname, e.file, e.line, e.note, e.err.Error())
}

func (e *ErrWithCaller) Unwrap() error {
	return e.err
}

func New(text string) error {
	return wrap("", errors.New(text), 1)
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return wrap("", err, 1)
}

func WrapWithNote(note string, err error) error {
	if err == nil {
		return nil
	}
	return wrap(note, err, 1)
}

func wrap(note string, err error, depth int) error {
	pc, file, line, ok := runtime.Caller(depth + 1)
	funcname := "(unknown func)"
	if !ok {
		file = "?"
		line = -1
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcname = fn.Name()
	}

	return &ErrWithCaller{
		funcname: funcname,
		file:     file,
		line:     line,
		note:     note,
		err:      err,
	}
}
