// Package backends defines the contract shared by storage backends (caches
// and archives): check, insert, retrieve and delete named items under a
// rooted namespace.
//
// Expected failures (missing item, failed copy) are reported as `false`
// and logged. Errors are returned for configuration problems and for
// mutations of read-only backends (see pkg/errors).
package backends

import (
	"context"
	"log"
	"time"

	xe "github.com/opst/vortexflow/pkg/errors"
	"github.com/opst/vortexflow/pkg/logger"
)

// Stat is the metadata of a stored item.
type Stat struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

type Intent string

const (
	IntentIn    Intent = "in"
	IntentOut   Intent = "out"
	IntentInOut Intent = "inout"
)

// TransferOptions carries per-call options of backend operations.
type TransferOptions struct {
	Intent Intent

	// Fmt is the format of the resource (e.g. "ascii", "grib").
	Fmt string

	// Info is a free description, recorded in the history.
	Info string

	// Silent suppresses error logs of expected failures.
	Silent bool

	// DirExtract copies the children of a directory item flatly next to
	// the local target when the target has an archive-like name.
	DirExtract bool

	// TarExtract extracts a retrieved tarball into the directory of the
	// local target.
	TarExtract bool

	// Extract names members to extract out of an archived tarball, or
	// "all". Extractions are stamped to be done once.
	Extract string

	// Compression of the stored item ("gzip" or "").
	Compression string

	// Promise marks the payload as a promise descriptor.
	Promise bool

	// Extra holds backend specific options.
	Extra map[string]string
}

// Backend is a storage backend.
type Backend interface {
	// Kind names the backend (e.g. "mtool", "archive").
	Kind() string

	// Readonly tells mutations are refused.
	Readonly() bool

	// Fullpath returns the physical address of item.
	Fullpath(item string) (string, error)

	// Check returns the metadata of item, or nil if it is missing.
	Check(ctx context.Context, item string, opts TransferOptions) (*Stat, error)

	// Insert stores the local file (or directory) as item.
	Insert(ctx context.Context, item string, local string, opts TransferOptions) (bool, error)

	// Retrieve copies item into local.
	Retrieve(ctx context.Context, item string, local string, opts TransferOptions) (bool, error)

	// Delete removes item. Deleting a missing item succeeds.
	Delete(ctx context.Context, item string, opts TransferOptions) (bool, error)

	// History returns the log of mutating calls, or nil if not recorded.
	History() *History
}

// Base holds settings common to all backends. Concrete backends embed it.
type Base struct {
	kind       string
	readonly   bool
	history    *History
	logger     *log.Logger
	rtouch     bool
	rtouchSkip int
}

type Option func(*Base) *Base

// WithLogger sets the logger. nil means the default logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Base) *Base {
		b.logger = logger.Or(l)
		return b
	}
}

// WithHistory records mutating calls into h.
func WithHistory(h *History) Option {
	return func(b *Base) *Base {
		b.history = h
		return b
	}
}

// ReadOnly makes the backend refuse mutations.
func ReadOnly(readonly bool) Option {
	return func(b *Base) *Base {
		b.readonly = b.readonly || readonly
		return b
	}
}

// WithRTouch touches parent directories of inserted items, leaving the
// `skip` uppermost levels below the root untouched.
func WithRTouch(skip int) Option {
	return func(b *Base) *Base {
		b.rtouch = true
		b.rtouchSkip = skip
		return b
	}
}

func NewBase(kind string, options ...Option) Base {
	b := &Base{kind: kind, logger: logger.Default()}
	for _, opt := range options {
		b = opt(b)
	}
	return *b
}

func (b *Base) Kind() string        { return b.kind }
func (b *Base) Readonly() bool      { return b.readonly }
func (b *Base) History() *History   { return b.history }
func (b *Base) Logger() *log.Logger { return b.logger }
func (b *Base) RTouchEnabled() bool { return b.rtouch && !b.readonly }
func (b *Base) RTouchSkip() int     { return b.rtouchSkip }

// EnsureWritable returns an ErrReadOnly error for read-only backends.
func (b *Base) EnsureWritable(action string, item string) error {
	if b.readonly {
		return xe.ReadOnlyf("%s backend refuses to %s %s", b.kind, action, item)
	}
	return nil
}

// Record appends an entry to the history, if any.
func (b *Base) Record(ctx context.Context, action string, item string, local string, ok bool, opts TransferOptions) {
	if b.history == nil {
		return
	}
	b.history.Append(ctx, Entry{
		Backend: b.kind,
		Action:  action,
		Item:    item,
		Local:   local,
		Ok:      ok,
		Info:    opts.Info,
	})
}

// Failed logs an expected failure (unless silent) and returns false.
func (b *Base) Failed(opts TransferOptions, format string, args ...any) bool {
	if !opts.Silent {
		b.logger.Printf("[ERROR] "+b.kind+": "+format, args...)
	}
	return false
}
