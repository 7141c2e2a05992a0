package dataflow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
)

// Kind of a section.
type Kind string

const (
	Input  Kind = "input"
	Output Kind = "output"
	Exec   Kind = "exec"
)

// Stage of a section.
type Stage string

const (
	Void     Stage = "void"
	Loaded   Stage = Stage(events.Load)
	Got      Stage = Stage(events.Get)
	Expected Stage = Stage(events.Expected)
	Put      Stage = Stage(events.Put)
	Ghost    Stage = Stage(events.Ghost)
)

var stagesOf = map[Kind]map[Stage]bool{
	Input:  {Loaded: true, Got: true, Expected: true},
	Exec:   {Loaded: true, Got: true, Expected: true},
	Output: {Loaded: true, Put: true, Ghost: true},
}

var (
	// ErrTransferFailed is reported when a store refused to transfer a
	// resource without raising an error.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrWrongKind is returned when an output section is asked to get, or
	// an input section to put.
	ErrWrongKind = errors.New("section cannot perform this action")
)

// SectionFatalError is the failure of a fatal section.
type SectionFatalError struct {
	Kind    Kind
	Role    string
	Handler string
	Locate  string
	Err     error
}

func (e *SectionFatalError) Error() string {
	return fmt.Sprintf("fatal %s section (role %q) failed: %s (%s): %s", e.Kind, e.Role, e.Handler, e.Locate, e.Err)
}

func (e *SectionFatalError) Unwrap() error {
	return e.Err
}

// Section is one planned use of a handler.
type Section struct {
	kind      Kind
	intent    backends.Intent
	role      string
	alternate string
	fatal     bool
	handler   *Handler
	stages    []Stage
	logger    *log.Logger
}

type SectionOption func(*Section) *Section

// Role names what the section stands for in the task.
func Role(role string) SectionOption {
	return func(s *Section) *Section {
		s.role = role
		s.alternate = ""
		return s
	}
}

// AlternateOf makes the section stand in for the nominal section of role.
func AlternateOf(role string) SectionOption {
	return func(s *Section) *Section {
		s.alternate = role
		s.role = ""
		return s
	}
}

// Fatal sets whether a failure of the section is an error. Sections are
// fatal by default.
func Fatal(fatal bool) SectionOption {
	return func(s *Section) *Section {
		s.fatal = fatal
		return s
	}
}

func WithIntent(intent backends.Intent) SectionOption {
	return func(s *Section) *Section {
		s.intent = intent
		return s
	}
}

func WithSectionLogger(l *log.Logger) SectionOption {
	return func(s *Section) *Section {
		s.logger = l
		return s
	}
}

func newSection(kind Kind, h *Handler, options ...SectionOption) *Section {
	s := &Section{
		kind:    kind,
		intent:  backends.IntentIn,
		fatal:   true,
		handler: h,
		stages:  []Stage{Void},
	}
	if kind == Output {
		s.intent = backends.IntentOut
	}
	for _, opt := range options {
		s = opt(s)
	}
	s.logger = logger.Or(s.logger)
	return s
}

func (s *Section) Kind() Kind { return s.kind }

func (s *Section) Intent() backends.Intent { return s.intent }

func (s *Section) Role() string { return s.role }

// Alternate returns the role this section stands in for, or "".
func (s *Section) Alternate() string { return s.alternate }

func (s *Section) IsAlternate() bool { return s.alternate != "" }

func (s *Section) Fatal() bool { return s.fatal }

func (s *Section) Handler() *Handler { return s.handler }

// Stage returns the current stage.
func (s *Section) Stage() Stage { return s.stages[len(s.stages)-1] }

// Stages returns the history of stages, the current one last.
func (s *Section) Stages() []Stage {
	return append([]Stage{}, s.stages...)
}

// Notify follows stage changes of the handler of the section. Stages which
// the section cannot reach are ignored.
func (s *Section) Notify(ev events.Event) {
	if ev.Source != events.FromHandler || ev.Handler != s.handler.ID() {
		return
	}
	stage := Stage(ev.Action)
	if !stagesOf[s.kind][stage] {
		s.logger.Printf("[WARN] %s section of %s: stage %q is ignored", s.kind, s.handler, stage)
		return
	}
	s.stages = append(s.stages, stage)
}

// Get fetches the resource of an input (or exec) section.
//
// Failures are logged. They are returned as *SectionFatalError for fatal
// sections and swallowed (false, nil) otherwise.
func (s *Section) Get(ctx context.Context) (bool, error) {
	if s.kind == Output {
		return false, fmt.Errorf("%w: get on %s section", ErrWrongKind, s.kind)
	}
	s.handler.Load()
	return s.settle(ctx, "get", s.handler.Get)
}

// Put stores the resource of an output section. See Get for failures.
func (s *Section) Put(ctx context.Context) (bool, error) {
	if s.kind != Output {
		return false, fmt.Errorf("%w: put on %s section", ErrWrongKind, s.kind)
	}
	s.handler.Load()
	return s.settle(ctx, "put", s.handler.Put)
}

func (s *Section) settle(ctx context.Context, verb string, transfer func(context.Context) (bool, error)) (bool, error) {
	ok, err := transfer(ctx)
	if err == nil && ok {
		return true, nil
	}
	if err == nil {
		err = ErrTransferFailed
	}

	loc, lerr := s.handler.Locate(ctx)
	if lerr != nil {
		loc = "(cannot locate: " + lerr.Error() + ")"
	}
	s.logger.Printf("[ERROR] %s of %s failed: %s. locate: %s", verb, s.handler, err, loc)
	if !s.fatal {
		return false, nil
	}
	return false, &SectionFatalError{Kind: s.kind, Role: s.role + s.alternate, Handler: s.handler.String(), Locate: loc, Err: err}
}
