package dataflow

import (
	"log"
	"regexp"
	"strings"

	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/logger"
)

// Sequence is the ordered collection of sections of a unit of work.
//
// A Sequence is an events.Listener: subscribed to a bus, it forwards
// handler notifications to its sections.
type Sequence struct {
	sections []*Section
	logger   *log.Logger
}

var _ events.Listener = &Sequence{}

func NewSequence(l *log.Logger) *Sequence {
	return &Sequence{logger: logger.Or(l)}
}

func (sq *Sequence) add(kind Kind, h *Handler, options []SectionOption) *Section {
	s := newSection(kind, h, append([]SectionOption{WithSectionLogger(sq.logger)}, options...)...)
	sq.sections = append(sq.sections, s)
	return s
}

// Input declares an input section.
func (sq *Sequence) Input(h *Handler, options ...SectionOption) *Section {
	return sq.add(Input, h, options)
}

func (sq *Sequence) Output(h *Handler, options ...SectionOption) *Section {
	return sq.add(Output, h, options)
}

func (sq *Sequence) Exec(h *Handler, options ...SectionOption) *Section {
	return sq.add(Exec, h, options)
}

// Sections returns every section, in declaration order.
func (sq *Sequence) Sections() []*Section {
	return append([]*Section{}, sq.sections...)
}

// Inputs returns input and exec sections.
func (sq *Sequence) Inputs() []*Section {
	ins := []*Section{}
	for _, s := range sq.sections {
		if s.kind != Output {
			ins = append(ins, s)
		}
	}
	return ins
}

func (sq *Sequence) Outputs() []*Section {
	outs := []*Section{}
	for _, s := range sq.sections {
		if s.kind == Output {
			outs = append(outs, s)
		}
	}
	return outs
}

func (sq *Sequence) Notify(ev events.Event) {
	if ev.Source != events.FromHandler {
		return
	}
	for _, s := range sq.sections {
		s.Notify(ev)
	}
}

// Filter selects sections by role, then by resource kind.
//
// Names are compared case-insensitively. A name holding regular expression
// operators (other than dots) is a pattern matching the whole name.
type Filter struct {
	Roles []string
	Kinds []string
}

func (f Filter) empty() bool {
	return len(f.Roles) == 0 && len(f.Kinds) == 0
}

func isPattern(p string) bool {
	return strings.ContainsAny(p, `*+?()[]{}|^$\`)
}

func matches(patterns []string, name string) bool {
	if name == "" {
		return false
	}
	for _, p := range patterns {
		if strings.EqualFold(p, name) {
			return true
		}
		if !isPattern(p) {
			continue
		}
		re, err := regexp.Compile(`(?i)^(?:` + p + `)$`)
		if err == nil && re.MatchString(name) {
			return true
		}
	}
	return false
}

// filtered applies f to sections.
//
// Sections whose role or alternate matches Roles are returned. Only when
// there is none, sections whose resource kind matches Kinds are returned.
// Matching nothing is not an error.
func filtered(sections []*Section, f Filter) []*Section {
	if f.empty() {
		return sections
	}
	byRole := []*Section{}
	for _, s := range sections {
		if matches(f.Roles, s.role) || matches(f.Roles, s.alternate) {
			byRole = append(byRole, s)
		}
	}
	if len(byRole) != 0 || len(f.Kinds) == 0 {
		return byRole
	}

	byKind := []*Section{}
	for _, s := range sections {
		if matches(f.Kinds, s.handler.Kind()) {
			byKind = append(byKind, s)
		}
	}
	return byKind
}

// EffectiveInputs returns input sections which got their resource (or its
// promise) and whose local container exists, selected by f.
func (sq *Sequence) EffectiveInputs(f Filter) []*Section {
	done := []*Section{}
	for _, s := range sq.Inputs() {
		if st := s.Stage(); (st == Got || st == Expected) && s.handler.Exists() {
			done = append(done, s)
		}
	}
	return filtered(done, f)
}

// EffectiveOutputs returns output sections selected by f, whatever their
// stage.
func (sq *Sequence) EffectiveOutputs(f Filter) []*Section {
	return filtered(sq.Outputs(), f)
}

// InputsReport summarizes the state of inputs.
func (sq *Sequence) InputsReport() *InputsReport {
	return NewInputsReport(sq.Inputs())
}
