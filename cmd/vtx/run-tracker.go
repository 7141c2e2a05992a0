package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/urfave/cli"

	"github.com/opst/vortexflow/pkg/dataflow"
)

func runTrackerShow(c *cli.Context) error {
	target := c.Args().First()
	if target == "" {
		target = "."
	}
	if st, err := os.Stat(target); err == nil && st.IsDir() {
		target = filepath.Join(target, dataflow.TrackerFile)
	}

	t, err := dataflow.LoadTrackerFile(target)
	if err != nil {
		return err
	}
	printTracker(meta(c).w, t)
	return nil
}

func printTracker(w io.Writer, t *dataflow.LocalTracker) {
	for _, local := range t.Locals() {
		fmt.Fprintf(w, "%s\n", local)
		e := t.Entry(local)
		for _, action := range []dataflow.Action{dataflow.TrackGet, dataflow.TrackPut} {
			for _, r := range e.URI[action] {
				fmt.Fprintf(w, "  %-4s %s\n", action, r.URI())
			}
			hooks := e.Hook[action]
			names := make([]string, 0, len(hooks))
			for _, h := range hooks {
				names = append(names, h.Name)
			}
			sort.Strings(names)
			for _, n := range names {
				fmt.Fprintf(w, "  %-4s hook %s\n", action, n)
			}
		}
	}
}
