package dataflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opst/vortexflow/internal/testutils/try"
	"github.com/opst/vortexflow/pkg/dataflow"
	"github.com/opst/vortexflow/pkg/events"
	"github.com/opst/vortexflow/pkg/remote"
)

func TestLocalTracker_Hooks(t *testing.T) {
	tracker := dataflow.NewLocalTracker()
	hook := events.Event{
		Source: events.FromHook, Action: events.Get, Ok: true, Local: "/work/fort.4",
		Hook: &events.Hook{Name: "update_namelist", Args: []string{"NAMFPC"}},
	}
	tracker.Notify(hook)
	if !tracker.Entry("/work/fort.4").RedundantHook(dataflow.TrackGet, "update_namelist") {
		t.Error("hook is not recorded")
	}
	tracker.Notify(hook)

	entry := tracker.Entry("/work/fort.4")
	if n := len(entry.Hook[dataflow.TrackGet]); n != 1 {
		t.Errorf("hooks recorded: %d", n)
	}
	if entry.RedundantHook(dataflow.TrackPut, "update_namelist") {
		t.Error("hook is recorded for put")
	}

	content := try.To(json.Marshal(tracker)).OrFatal(t)
	if strings.Count(string(content), "update_namelist") != 1 {
		t.Errorf("serialized: %s", content)
	}
}

func TestLocalTracker_URIs(t *testing.T) {
	r := try.To(remote.Parse(experiment + "forecast/grid.fa")).OrFatal(t)
	other := try.To(remote.Parse(experiment + "forecast/other.fa")).OrFatal(t)
	store := events.StoreInfo{Kind: "vortex-std-cache", Scheme: "vortex", Netloc: "vortex.cache.fr"}

	tracker := dataflow.NewLocalTracker()
	tracker.Notify(events.Event{Source: events.FromStore, Action: events.Get, Ok: true, Store: store, Remote: r, Local: "/work/in.fa"})
	tracker.Notify(events.Event{Source: events.FromStore, Action: events.Put, Ok: true, Store: store, Remote: r, Local: "/work/out.fa"})
	tracker.Notify(events.Event{Source: events.FromStore, Action: events.Put, Ok: true, Store: store, Remote: other, Local: "/work/out.fa"})
	tracker.Notify(events.Event{Source: events.FromStore, Action: events.Put, Ok: false, Store: store, Remote: r, Local: "/work/failed.fa"})
	tracker.Notify(events.Event{Source: events.FromStore, Action: events.Check, Ok: true, Store: store, Remote: r})

	if !tracker.Entry("/work/in.fa").HasURI(dataflow.TrackGet, r) {
		t.Error("get is not recorded")
	}
	out := tracker.Entry("/work/out.fa")
	if !out.HasURI(dataflow.TrackPut, r) || !out.HasURI(dataflow.TrackPut, other) {
		t.Error("puts are not recorded")
	}
	if tracker.Has("/work/failed.fa") {
		t.Error("failed put is recorded")
	}

	tracker.Notify(events.Event{Source: events.FromStore, Action: events.Delete, Ok: true, Store: store, Remote: r})
	if out.HasURI(dataflow.TrackPut, r) || !out.HasURI(dataflow.TrackPut, other) {
		t.Errorf("puts after delete: %+v", out.URI[dataflow.TrackPut])
	}
	if !tracker.Entry("/work/in.fa").HasURI(dataflow.TrackGet, r) {
		t.Error("delete withdraws gets")
	}
}

func TestLocalTracker_Persistence(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seed(t, "forecast/grid.fa", "GRID")
	in := e.ctx.Sequence().Input(e.handler(t, "gridpoint", "forecast/grid.fa", "grid.fa"), dataflow.Role("X"))
	try.To(in.Get(ctx)).OrFatal(t)
	out := e.ctx.Sequence().Output(e.handler(t, "gridpoint", "forecast/out.fa", "out.fa"), dataflow.Role("Y"))
	writeFile(t, out.Handler().Local(), "OUT")
	try.To(out.Put(ctx)).OrFatal(t)
	try.To(e.ctx.ApplyHook(ctx, in.Handler(), dataflow.TrackGet, "touch", func(context.Context, string, ...string) error { return nil }, "now")).OrFatal(t)

	tracker := e.ctx.Tracker()
	entry := tracker.Entry(in.Handler().Local())
	if len(entry.RHDict[dataflow.TrackGet]) != 1 || entry.RHDict[dataflow.TrackGet][0]["kind"] != "gridpoint" {
		t.Errorf("rhdict: %+v", entry.RHDict)
	}
	if _, ok := entry.RHDict[dataflow.TrackGet][0]["options"]; ok {
		t.Error("transient options are recorded")
	}

	t.Run("dump and load", func(t *testing.T) {
		buf := new(bytes.Buffer)
		if err := tracker.Dump(buf); err != nil {
			t.Fatal(err)
		}
		first := buf.String()

		var doc map[string]map[string]map[string][]any
		if err := json.Unmarshal([]byte(first), &doc); err != nil {
			t.Fatal(err)
		}
		for _, bucket := range []string{"rhdict", "hook", "uri"} {
			for _, action := range []string{"get", "put"} {
				if _, ok := doc[in.Handler().Local()][bucket][action]; !ok {
					t.Errorf("%s/%s is missing in %s", bucket, action, first)
				}
			}
		}

		loaded := try.To(dataflow.LoadTracker(strings.NewReader(first))).OrFatal(t)
		buf.Reset()
		if err := loaded.Dump(buf); err != nil {
			t.Fatal(err)
		}
		if buf.String() != first {
			t.Errorf("round trip:\n%s\n---\n%s", first, buf.String())
		}
		if !loaded.Entry(in.Handler().Local()).RedundantHook(dataflow.TrackGet, "touch") {
			t.Error("hook is lost")
		}
		if !loaded.Entry(out.Handler().Local()).HasURI(dataflow.TrackPut, out.Handler().Remote()) {
			t.Error("put is lost")
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), dataflow.TrackerFile)
		if err := tracker.DumpFile(path); err != nil {
			t.Fatal(err)
		}
		loaded := try.To(dataflow.LoadTrackerFile(path)).OrFatal(t)
		if len(loaded.Locals()) != len(tracker.Locals()) {
			t.Errorf("locals: %v", loaded.Locals())
		}
	})
}

func TestLocalTracker_Append(t *testing.T) {
	r := try.To(remote.Parse(experiment + "forecast/grid.fa")).OrFatal(t)
	get := events.Event{Source: events.FromStore, Action: events.Get, Ok: true, Remote: r, Local: "/work/grid.fa"}

	a := dataflow.NewLocalTracker()
	a.Notify(get)
	b := dataflow.NewLocalTracker()
	b.Notify(get)
	b.Notify(events.Event{Source: events.FromStore, Action: events.Get, Ok: true, Remote: r, Local: "/work/other.fa"})

	a.Append(b)
	if n := len(a.Entry("/work/grid.fa").URI[dataflow.TrackGet]); n != 2 {
		t.Errorf("gets of grid.fa: %d", n)
	}
	if n := len(a.Entry("/work/other.fa").URI[dataflow.TrackGet]); n != 1 {
		t.Errorf("gets of other.fa: %d", n)
	}
	if n := len(b.Entry("/work/grid.fa").URI[dataflow.TrackGet]); n != 1 {
		t.Errorf("appended tracker is modified: %d", n)
	}
}
