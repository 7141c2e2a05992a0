package dataflow

import (
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/remote"
)

// TrackerFile is the default name of a persisted LocalTracker.
const TrackerFile = "local-tracker-state.json"

// Action buckets of tracker entries.
type Action string

const (
	TrackGet Action = "get"
	TrackPut Action = "put"
)

// TrackerEntry is the ledger of one local file.
type TrackerEntry struct {
	RHDict map[Action][]map[string]any `json:"rhdict"`
	Hook   map[Action][]events.Hook    `json:"hook"`
	URI    map[Action][]remote.Remote  `json:"uri"`
}

func newTrackerEntry() *TrackerEntry {
	return &TrackerEntry{
		RHDict: map[Action][]map[string]any{TrackGet: {}, TrackPut: {}},
		Hook:   map[Action][]events.Hook{TrackGet: {}, TrackPut: {}},
		URI:    map[Action][]remote.Remote{TrackGet: {}, TrackPut: {}},
	}
}

// fill makes buckets of entries read from JSON non-nil.
func (e *TrackerEntry) fill() {
	if e.RHDict == nil {
		e.RHDict = map[Action][]map[string]any{}
	}
	if e.Hook == nil {
		e.Hook = map[Action][]events.Hook{}
	}
	if e.URI == nil {
		e.URI = map[Action][]remote.Remote{}
	}
	for _, a := range []Action{TrackGet, TrackPut} {
		if e.RHDict[a] == nil {
			e.RHDict[a] = []map[string]any{}
		}
		if e.Hook[a] == nil {
			e.Hook[a] = []events.Hook{}
		}
		if e.URI[a] == nil {
			e.URI[a] = []remote.Remote{}
		}
	}
}

// RedundantHook tells the hook name has already been applied for action.
func (e *TrackerEntry) RedundantHook(action Action, name string) bool {
	for _, h := range e.Hook[action] {
		if h.Name == name {
			return true
		}
	}
	return false
}

// HasURI tells r has been transferred for action.
func (e *TrackerEntry) HasURI(action Action, r remote.Remote) bool {
	for _, u := range e.URI[action] {
		if u.Equal(r) {
			return true
		}
	}
	return false
}

func (e *TrackerEntry) addHook(action Action, h events.Hook) {
	if !e.RedundantHook(action, h.Name) {
		e.Hook[action] = append(e.Hook[action], h)
	}
}

// forget removes r from the uris of action. It tells r was there.
func (e *TrackerEntry) forget(action Action, r remote.Remote) bool {
	kept := e.URI[action][:0:0]
	for _, u := range e.URI[action] {
		if !u.Equal(r) {
			kept = append(kept, u)
		}
	}
	removed := len(kept) != len(e.URI[action])
	e.URI[action] = kept
	return removed
}

// LocalTracker maps local paths to their ledger.
//
// A LocalTracker is an events.Listener. It is owned by one context at a
// time and is not safe for concurrent use.
type LocalTracker struct {
	entries map[string]*TrackerEntry
}

var _ events.Listener = &LocalTracker{}

func NewLocalTracker() *LocalTracker {
	return &LocalTracker{entries: map[string]*TrackerEntry{}}
}

// Entry returns the ledger of local, creating it when missing.
func (t *LocalTracker) Entry(local string) *TrackerEntry {
	e, ok := t.entries[local]
	if !ok {
		e = newTrackerEntry()
		t.entries[local] = e
	}
	return e
}

// Has tells local has a ledger, without creating one.
func (t *LocalTracker) Has(local string) bool {
	_, ok := t.entries[local]
	return ok
}

// Locals returns tracked local paths, sorted.
func (t *LocalTracker) Locals() []string {
	ls := make([]string, 0, len(t.entries))
	for l := range t.entries {
		ls = append(ls, l)
	}
	sort.Strings(ls)
	return ls
}

// Notify records handler stages, hook calls and store transfers.
//
// A successful delete on a store withdraws the same remote from the puts
// of every entry.
func (t *LocalTracker) Notify(ev events.Event) {
	switch ev.Source {
	case events.FromHandler:
		switch ev.Action {
		case events.Get:
			t.addRH(ev.Local, TrackGet, ev.Snapshot)
		case events.Put:
			t.addRH(ev.Local, TrackPut, ev.Snapshot)
		}
	case events.FromHook:
		if ev.Hook == nil || ev.Local == "" {
			return
		}
		action := TrackGet
		if ev.Action == events.Put {
			action = TrackPut
		}
		t.Entry(ev.Local).addHook(action, *ev.Hook)
	case events.FromStore:
		if !ev.Ok {
			return
		}
		switch ev.Action {
		case events.Get:
			if ev.Local != "" {
				e := t.Entry(ev.Local)
				e.URI[TrackGet] = append(e.URI[TrackGet], ev.Remote.Copy())
			}
		case events.Put:
			if ev.Local != "" {
				e := t.Entry(ev.Local)
				e.URI[TrackPut] = append(e.URI[TrackPut], ev.Remote.Copy())
			}
		case events.Delete:
			for _, e := range t.entries {
				e.forget(TrackPut, ev.Remote)
			}
		}
	}
}

func (t *LocalTracker) addRH(local string, action Action, snapshot map[string]any) {
	if local == "" {
		return
	}
	s := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		s[k] = v
	}
	e := t.Entry(local)
	e.RHDict[action] = append(e.RHDict[action], s)
}

// Append concatenates the buckets of other after those of t.
func (t *LocalTracker) Append(other *LocalTracker) {
	for _, local := range other.Locals() {
		src := other.entries[local]
		dst := t.Entry(local)
		for _, a := range []Action{TrackGet, TrackPut} {
			dst.RHDict[a] = append(dst.RHDict[a], src.RHDict[a]...)
			dst.Hook[a] = append(dst.Hook[a], src.Hook[a]...)
			dst.URI[a] = append(dst.URI[a], src.URI[a]...)
		}
	}
}

func (t *LocalTracker) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.entries)
}

func (t *LocalTracker) UnmarshalJSON(b []byte) error {
	entries := map[string]*TrackerEntry{}
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		e.fill()
	}
	t.entries = entries
	return nil
}

// Dump writes t as indented JSON.
func (t *LocalTracker) Dump(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

// LoadTracker reads a tracker written by Dump.
func LoadTracker(r io.Reader) (*LocalTracker, error) {
	t := NewLocalTracker()
	if err := json.NewDecoder(r).Decode(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *LocalTracker) DumpFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func LoadTrackerFile(path string) (*LocalTracker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTracker(f)
}
