package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/backends/history/leveldb"
	pghistory "github.com/opst/vortexflow/pkg/db/postgres/history"
)

func runHistory(c *cli.Context) error {
	if 1 < c.NArg() {
		return fmt.Errorf("history: at most one item expected")
	}
	item := c.Args().First()
	since := time.Time{}
	if d := c.Duration("since"); 0 < d {
		since = time.Now().Add(-d)
	}

	m := meta(c)
	ctx := context.Background()
	var entries []backends.Entry
	switch {
	case m.historyDSN != "":
		if item == "" {
			return fmt.Errorf("history: an item is required with a history database")
		}
		pool, err := pghistory.Connect(ctx, m.historyDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if entries, err = pghistory.New(pool).Grep(ctx, item, since); err != nil {
			return err
		}
	case m.historyDB != "":
		sink, err := leveldb.Open(m.historyDB)
		if err != nil {
			return err
		}
		defer sink.Close()
		all, err := sink.Since(since)
		if err != nil {
			return err
		}
		for _, e := range all {
			if item == "" || e.Item == item {
				entries = append(entries, e)
			}
		}
	default:
		return errors.New("history: neither --history-db nor --history-dsn is set")
	}

	printEntries(m.w, entries)
	return nil
}

func printEntries(w io.Writer, entries []backends.Entry) {
	for _, e := range entries {
		status := "ok"
		if !e.Ok {
			status = "failed"
		}
		line := fmt.Sprintf("%s %-8s %-6s %s", e.Time.Format(time.RFC3339), e.Backend, e.Action, e.Item)
		if e.Local != "" {
			line += " <-> " + e.Local
		}
		fmt.Fprintf(w, "%s %s\n", line, status)
	}
}
