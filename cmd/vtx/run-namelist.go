package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli"

	"github.com/opst/vortexflow/pkg/fortran"
)

func sortMode(name string) (fortran.SortMode, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return fortran.NoSorting, nil
	case "first":
		return fortran.FirstOrder, nil
	case "second":
		return fortran.SecondOrder, nil
	}
	return fortran.NoSorting, fmt.Errorf("unknown sort mode: %s", name)
}

// runNamelistFmt dumps FILE, with every DELTA merged into it.
func runNamelistFmt(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("namelist fmt: a file is required (usage: %s)", c.Command.ArgsUsage)
	}
	sorting, err := sortMode(c.String("sort"))
	if err != nil {
		return err
	}

	p := fortran.NewParser()
	bound := map[string]fortran.Value{}
	for _, m := range c.StringSlice("macro") {
		name, literal, hasValue := strings.Cut(m, "=")
		p.AddMacro(name)
		if !hasValue {
			continue
		}
		v, err := fortran.Parse(literal)
		if err != nil {
			return fmt.Errorf("macro %s: %w", name, err)
		}
		bound[name] = v
	}

	set, err := p.ParseFile(c.Args().First())
	if err != nil {
		return err
	}
	for _, delta := range c.Args().Tail() {
		d, err := p.ParseFile(delta)
		if err != nil {
			return err
		}
		set.Merge(d)
	}
	for name, v := range bound {
		set.SetMacro(name, v)
	}

	_, err = fmt.Fprint(meta(c).w, set.Dumps(sorting))
	return err
}
