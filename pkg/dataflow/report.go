package dataflow

import (
	"fmt"
	"io"
	"sort"
)

// Status of a local input.
type Status string

const (
	Present  Status = "present"
	Promised Status = "expected"
	Missing  Status = "missing"
)

// LocalStatus is the status of one local path of the inputs.
type LocalStatus struct {
	Local  string
	Status Status

	// Handler is the handler which provided the local file: the nominal
	// one, or the alternate which stood in for it.
	Handler *Handler

	// Nominal is set when an alternate stood in for the nominal handler.
	Nominal *Handler

	// AlternateUsed tells an alternate stood in.
	AlternateUsed bool
}

type localSections struct {
	nominal    []*Section
	alternates []*Section
}

// InputsReport is a read-only summary of input sections per local path.
type InputsReport struct {
	locals []string
	status map[string]LocalStatus
}

// NewInputsReport builds the report of sections.
//
// For each local path, the last nominal section wins when it got its
// resource (or a promise of it). Otherwise, alternates are scanned in
// declaration order and the first one which got something wins. Otherwise
// the local is missing.
func NewInputsReport(sections []*Section) *InputsReport {
	byLocal := map[string]*localSections{}
	locals := []string{}
	for _, s := range sections {
		local := s.handler.Local()
		ls, ok := byLocal[local]
		if !ok {
			ls = &localSections{}
			byLocal[local] = ls
			locals = append(locals, local)
		}
		if s.IsAlternate() {
			ls.alternates = append(ls.alternates, s)
		} else {
			ls.nominal = append(ls.nominal, s)
		}
	}

	report := &InputsReport{locals: locals, status: map[string]LocalStatus{}}
	for _, local := range locals {
		report.status[local] = settle(local, byLocal[local])
	}
	return report
}

func statusOf(s *Section) Status {
	switch s.Stage() {
	case Got:
		return Present
	case Expected:
		return Promised
	}
	return Missing
}

func settle(local string, ls *localSections) LocalStatus {
	var nominal *Handler
	if len(ls.nominal) != 0 {
		last := ls.nominal[len(ls.nominal)-1]
		nominal = last.handler
		if st := statusOf(last); st != Missing {
			return LocalStatus{Local: local, Status: st, Handler: nominal}
		}
	}
	for _, alt := range ls.alternates {
		if st := statusOf(alt); st != Missing {
			return LocalStatus{Local: local, Status: st, Handler: alt.handler, Nominal: nominal, AlternateUsed: true}
		}
	}
	return LocalStatus{Local: local, Status: Missing, Handler: nominal}
}

// Locals returns local paths in order of first declaration.
func (r *InputsReport) Locals() []string {
	return append([]string{}, r.locals...)
}

func (r *InputsReport) Status(local string) (LocalStatus, bool) {
	st, ok := r.status[local]
	return st, ok
}

// ActiveAlternates returns statuses of locals provided by an alternate.
func (r *InputsReport) ActiveAlternates() map[string]LocalStatus {
	alts := map[string]LocalStatus{}
	for local, st := range r.status {
		if st.AlternateUsed {
			alts[local] = st
		}
	}
	return alts
}

// MissingResources returns statuses of missing locals.
func (r *InputsReport) MissingResources() map[string]LocalStatus {
	missing := map[string]LocalStatus{}
	for local, st := range r.status {
		if st.Status == Missing {
			missing[local] = st
		}
	}
	return missing
}

// Print writes the report, one local per line, sorted by status.
func (r *InputsReport) Print(w io.Writer) error {
	locals := r.Locals()
	rank := map[Status]int{Present: 0, Promised: 1, Missing: 2}
	sort.SliceStable(locals, func(i, j int) bool {
		return rank[r.status[locals[i]].Status] < rank[r.status[locals[j]].Status]
	})
	for _, local := range locals {
		st := r.status[local]
		line := fmt.Sprintf("  * %-8s %s", st.Status, local)
		if st.Handler != nil {
			line += " <- " + st.Handler.Remote().URI()
		}
		if st.AlternateUsed {
			line += "  ALTERNATE USED"
			if st.Nominal != nil {
				line += " (nominal: " + st.Nominal.Remote().URI() + ")"
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
