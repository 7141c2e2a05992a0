package dataflow

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
	"github.com/opst/vortexflow/pkg/remote"
	"github.com/opst/vortexflow/pkg/stores"
)

// HookFunc alters a local file in place.
type HookFunc func(ctx context.Context, local string, args ...string) error

// Context owns the sequence and the tracker of a unit of work, both
// listening to the bus of the run.
type Context struct {
	bus      *events.Bus
	sequence *Sequence
	tracker  *LocalTracker
	logger   *log.Logger

	stopSequence func()
	stopTracker  func()
}

type ContextOption func(*Context) *Context

func WithContextLogger(l *log.Logger) ContextOption {
	return func(c *Context) *Context {
		c.logger = l
		return c
	}
}

// WithTracker starts the context with a tracker restored from a previous
// step.
func WithTracker(t *LocalTracker) ContextOption {
	return func(c *Context) *Context {
		c.tracker = t
		return c
	}
}

// NewContext builds a context listening to bus. A nil bus means a private one.
func NewContext(bus *events.Bus, options ...ContextOption) *Context {
	if bus == nil {
		bus = events.New()
	}
	c := &Context{bus: bus}
	for _, opt := range options {
		c = opt(c)
	}
	c.logger = logger.Or(c.logger)
	if c.tracker == nil {
		c.tracker = NewLocalTracker()
	}
	c.sequence = NewSequence(c.logger)
	c.stopSequence = bus.Subscribe(c.sequence)
	c.stopTracker = bus.Subscribe(c.tracker)
	return c
}

func (c *Context) Bus() *events.Bus { return c.bus }

func (c *Context) Sequence() *Sequence { return c.sequence }

func (c *Context) Tracker() *LocalTracker { return c.tracker }

// Close stops listening to the bus.
func (c *Context) Close() {
	c.stopSequence()
	c.stopTracker()
}

// Handler builds a handler publishing on the bus of the context.
func (c *Context) Handler(kind string, local string, s stores.Store, r remote.Remote, opts backends.TransferOptions) *Handler {
	return NewHandler(kind, local, s, r,
		WithTransferOptions(opts), WithHandlerBus(c.bus), WithHandlerLogger(c.logger),
	)
}

// ApplyHook calls fn on the local file of h, unless a hook of the same
// name has already been applied to it for action. It tells whether fn
// was called.
func (c *Context) ApplyHook(ctx context.Context, h *Handler, action Action, name string, fn HookFunc, args ...string) (bool, error) {
	if c.tracker.Has(h.Local()) && c.tracker.Entry(h.Local()).RedundantHook(action, name) {
		c.logger.Printf("hook %s has already been applied to %s", name, h.Local())
		return false, nil
	}
	if err := fn(ctx, h.Local(), args...); err != nil {
		c.logger.Printf("[ERROR] hook %s on %s failed: %s", name, h.Local(), err)
		return false, err
	}
	stage := events.Get
	if action == TrackPut {
		stage = events.Put
	}
	c.bus.Publish(events.Event{
		Source:  events.FromHook,
		Action:  stage,
		Ok:      true,
		Remote:  h.Remote(),
		Local:   h.Local(),
		Handler: h.ID(),
		Hook:    &events.Hook{Name: name, Args: append([]string{}, args...)},
	})
	return true, nil
}

// Recorder diverts tracking into a fresh tracker, for a sub-context, until
// the recorder is appended back with Append.
func (c *Context) Recorder() *Recorder {
	c.stopTracker()
	return NewRecorder(c.bus)
}

// Append stops rec, merges what it recorded into the tracker of the
// context and resumes tracking.
func (c *Context) Append(rec *Recorder) {
	rec.Stop()
	c.tracker.Append(rec.Tracker())
	c.stopTracker()
	c.stopTracker = c.bus.Subscribe(c.tracker)
}

// Save writes the tracker into dir, as TrackerFile.
func (c *Context) Save(dir string) error {
	return c.tracker.DumpFile(filepath.Join(dir, TrackerFile))
}

// Restore appends the tracker saved in dir, if any.
func (c *Context) Restore(dir string) error {
	t, err := LoadTrackerFile(filepath.Join(dir, TrackerFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	c.tracker.Append(t)
	return nil
}

// Recorder captures events into its own tracker until stopped.
type Recorder struct {
	tracker *LocalTracker
	stop    func()
}

func NewRecorder(bus *events.Bus) *Recorder {
	t := NewLocalTracker()
	return &Recorder{tracker: t, stop: bus.Subscribe(t)}
}

func (r *Recorder) Tracker() *LocalTracker { return r.tracker }

// Stop stops recording. Stopping twice is fine.
func (r *Recorder) Stop() {
	r.stop()
}
