// Command vtx resolves vortex URIs against the configured stores, formats
// namelist files and shows local tracker states.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli"
)

type metadata struct {
	config     string
	historyDB  string
	historyDSN string
	verbose    bool
	logger     *log.Logger
	w          io.Writer
	e          io.Writer
}

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero"

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "vtx: %s\n", err)
		os.Exit(1)
	}
}

func newApp(w io.Writer, e io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "vtx"
	app.Usage = "resolve vortex resources"
	app.Version = version
	app.HideVersion = true

	app.Writer = w
	app.ErrWriter = e

	transferFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "fmt, f",
			Value: "",
			Usage: " format of the resource `FMT`",
		},
		cli.StringFlag{
			Name:  "intent",
			Value: "in",
			Usage: " intent of the retrieval `INTENT` [in|out|inout]",
		},
		cli.BoolFlag{
			Name:  "tarextract, x",
			Usage: " extract a retrieved tarball next to the local target",
		},
		cli.BoolFlag{
			Name:  "silent, s",
			Usage: " do not log expected failures",
		},
	}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "",
			Usage:  " store configuration `FILE`",
			EnvVar: "VORTEX_CONFIG",
		},
		cli.StringFlag{
			Name:  "history-db",
			Value: "",
			Usage: " record backend mutations into a leveldb journal at `DIR`",
		},
		cli.StringFlag{
			Name:   "history-dsn",
			Value:  "",
			Usage:  " record backend mutations into the postgres database `DSN`",
			EnvVar: "VORTEX_HISTORY_DSN",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " log store events",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "stores",
			Usage:     "list known netlocs",
			ArgsUsage: " ",
			Action:    runStores,
		},
		{
			Name:      "check",
			Usage:     "show metadata of a resource",
			ArgsUsage: "URI",
			Flags:     transferFlags,
			Action:    runCheck,
		},
		{
			Name:      "locate",
			Usage:     "show physical addresses of a resource",
			ArgsUsage: "URI",
			Flags:     transferFlags,
			Action:    runLocate,
		},
		{
			Name:      "get",
			Usage:     "retrieve a resource",
			ArgsUsage: "URI LOCAL",
			Flags:     transferFlags,
			Action:    runGet,
		},
		{
			Name:      "put",
			Usage:     "store a local file or directory",
			ArgsUsage: "LOCAL URI",
			Flags: append([]cli.Flag{
				cli.BoolFlag{
					Name:  "promise",
					Usage: " store a promise instead of the file",
				},
			}, transferFlags...),
			Action: runPut,
		},
		{
			Name:      "delete",
			Usage:     "delete a resource",
			ArgsUsage: "URI",
			Flags:     transferFlags,
			Action:    runDelete,
		},
		{
			Name:      "history",
			Usage:     "show recorded backend mutations",
			ArgsUsage: "[ITEM]",
			Flags: []cli.Flag{
				cli.DurationFlag{
					Name:  "since",
					Usage: " only entries recorded in the last `DURATION`",
				},
			},
			Action: runHistory,
		},
		{
			Name:  "namelist",
			Usage: "namelist utilities",
			Subcommands: []cli.Command{
				{
					Name:      "fmt",
					Usage:     "parse namelist files and dump them back",
					ArgsUsage: "FILE [DELTA...]",
					Flags: []cli.Flag{
						cli.StringFlag{
							Name:  "sort",
							Value: "none",
							Usage: " key order `MODE` [none|first|second]",
						},
						cli.StringSliceFlag{
							Name:  "macro, m",
							Usage: " macro `NAME[=VALUE]`, may be repeated",
						},
					},
					Action: runNamelistFmt,
				},
			},
		},
		{
			Name:  "tracker",
			Usage: "local tracker utilities",
			Subcommands: []cli.Command{
				{
					Name:      "show",
					Usage:     "show what happened to local files",
					ArgsUsage: "[FILE|DIR]",
					Action:    runTrackerShow,
				},
			},
		},
	}

	m := &metadata{w: w, e: e}
	app.Before = func(c *cli.Context) error {
		m.config = c.GlobalString("config")
		m.historyDB = c.GlobalString("history-db")
		m.historyDSN = c.GlobalString("history-dsn")
		m.verbose = c.GlobalBool("verbose")
		m.logger = log.New(e, "", log.LstdFlags)
		c.App.Metadata = map[string]interface{}{"vtx": m}
		return nil
	}
	return app
}

func meta(c *cli.Context) *metadata {
	return c.App.Metadata["vtx"].(*metadata)
}

func checkArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s: %d argument(s) expected, got %d (usage: %s)", c.Command.Name, n, c.NArg(), c.Command.ArgsUsage)
	}
	return nil
}
