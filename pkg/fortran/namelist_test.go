package fortran_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opst/vortexflow/internal/testutils/try"
	"github.com/opst/vortexflow/pkg/fortran"
)

func mustBlock(t *testing.T, set *fortran.Set, name string) *fortran.Block {
	t.Helper()
	b, ok := set.Get(name)
	if !ok {
		t.Fatalf("block %s is not found in %v", name, set.Names())
	}
	return b
}

func assertValues(t *testing.T, b *fortran.Block, key string, expected ...fortran.Value) {
	t.Helper()
	actual, ok := b.Get(key)
	if !ok {
		t.Fatalf("%s is missing in %s", key, b.Name())
	}
	if len(actual) != len(expected) {
		t.Fatalf("%s: (actual, expected) = (%#v, %#v)", key, actual, expected)
	}
	for i := range actual {
		if !fortran.Equal(actual[i], expected[i]) {
			t.Errorf("%s[%d]: (actual, expected) = (%#v, %#v)", key, i, actual[i], expected[i])
		}
	}
}

func TestParser_RoundTrip(t *testing.T) {
	text := " &FOO\n   A=1,2,3,\n   B='hello',\n /\n"

	set := try.To(fortran.NewParser().Parse(text)).OrFatal(t)
	foo := mustBlock(t, set, "foo")
	assertValues(t, foo, "A", fortran.Integer(1), fortran.Integer(2), fortran.Integer(3))
	assertValues(t, foo, "B", fortran.Character("hello"))

	dumped := foo.Dumps(fortran.NoSorting)
	if dumped != text {
		t.Errorf("dumps:\n===actual===\n%s\n===expected===\n%s", dumped, text)
	}

	reparsed := try.To(fortran.NewParser().Parse(dumped)).OrFatal(t)
	if !reparsed.Equal(set) {
		t.Errorf("reparsed set differs:\n%s", reparsed.Dumps(fortran.NoSorting))
	}
}

func TestParser_Syntax(t *testing.T) {
	type When struct {
		text   string
		macros []string
	}
	type Then struct {
		blocks []string
		check  func(*testing.T, *fortran.Set)
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			set := try.To(fortran.NewParser(when.macros...).Parse(when.text)).OrFatal(t)
			if actual := set.Names(); strings.Join(actual, ",") != strings.Join(then.blocks, ",") {
				t.Fatalf("blocks: (actual, expected) = (%v, %v)", actual, then.blocks)
			}
			if then.check != nil {
				then.check(t, set)
			}
		}
	}

	t.Run("empty text has no blocks", theory(When{text: "\n\n"}, Then{blocks: nil}))

	t.Run("comments, lowercase names and &end", theory(
		When{text: "! header\n&foo a=1, ! trailing\n b=.true. &end\n&bar /end\n"},
		Then{
			blocks: []string{"FOO", "BAR"},
			check: func(t *testing.T, set *fortran.Set) {
				foo := mustBlock(t, set, "FOO")
				assertValues(t, foo, "A", fortran.Integer(1))
				assertValues(t, foo, "B", fortran.Logical(true))
				if bar := mustBlock(t, set, "BAR"); bar.Len() != 0 {
					t.Errorf("BAR is not empty: %v", bar.Keys())
				}
			},
		},
	))

	t.Run("indexed and derived-type keys", theory(
		When{text: "&NAM X(1)=1.5, y (2,3) = 'a,b', Z%ATTR(2)=(1,2), /"},
		Then{
			blocks: []string{"NAM"},
			check: func(t *testing.T, set *fortran.Set) {
				nam := mustBlock(t, set, "NAM")
				if actual := strings.Join(nam.Keys(), " "); actual != "X(1) Y(2,3) Z%ATTR(2)" {
					t.Errorf("keys: %s", actual)
				}
				assertValues(t, nam, "Y(2,3)", fortran.Character("a,b"))
			},
		},
	))

	t.Run("repeat counts and whitespace separated values", theory(
		When{text: "&R A=3*0.5, B=1 2, /"},
		Then{
			blocks: []string{"R"},
			check: func(t *testing.T, set *fortran.Set) {
				r := mustBlock(t, set, "R")
				half := try.To(fortran.ParseReal("0.5")).OrFatal(t)
				assertValues(t, r, "A", half, half, half)
				assertValues(t, r, "B", fortran.Integer(1), fortran.Integer(2))
			},
		},
	))

	t.Run("BOZ values", theory(
		When{text: "&B MASK=Z'FF', BITS=b'11', /"},
		Then{
			blocks: []string{"B"},
			check: func(t *testing.T, set *fortran.Set) {
				b := mustBlock(t, set, "B")
				assertValues(t, b, "MASK", fortran.Integer(255))
				assertValues(t, b, "BITS", fortran.Integer(3))
			},
		},
	))

	t.Run("later assignment replaces earlier one", theory(
		When{text: "&D A=1, A=2,3, /"},
		Then{
			blocks: []string{"D"},
			check: func(t *testing.T, set *fortran.Set) {
				assertValues(t, mustBlock(t, set, "D"), "A", fortran.Integer(2), fortran.Integer(3))
			},
		},
	))

	t.Run("deletion marker", theory(
		When{text: "&D A=1, B=-, /"},
		Then{
			blocks: []string{"D"},
			check: func(t *testing.T, set *fortran.Set) {
				d := mustBlock(t, set, "D")
				if d.Has("B") {
					t.Error("B should not be set")
				}
				if rm := d.RmKeys(); len(rm) != 1 || rm[0] != "B" {
					t.Errorf("rmkeys: %v", rm)
				}
			},
		},
	))

	t.Run("macros bare and quoted", theory(
		When{
			text:   "&NAMPAR NPROC=NBPROC, LABEL='NBPROC', NAME='other', /",
			macros: []string{"NBPROC"},
		},
		Then{
			blocks: []string{"NAMPAR"},
			check: func(t *testing.T, set *fortran.Set) {
				nam := mustBlock(t, set, "NAMPAR")
				assertValues(t, nam, "NPROC", fortran.Macro("NBPROC"))
				assertValues(t, nam, "LABEL", fortran.Macro("NBPROC"))
				assertValues(t, nam, "NAME", fortran.Character("other"))
				if !nam.HasMacro("NBPROC") {
					t.Error("macro is not declared")
				}
				if _, bound := nam.MacroValue("NBPROC"); bound {
					t.Error("macro should be unbound")
				}
			},
		},
	))
}

func TestParser_Malformed(t *testing.T) {
	for name, testcase := range map[string]struct {
		text    string
		snippet string
	}{
		"not terminated":   {text: "&FOO A=1,", snippet: ""},
		"no block":         {text: "A=1, /", snippet: "A=1, /"},
		"bad literal":      {text: "&FOO A=@@, /", snippet: "@@, /"},
		"value before key": {text: "&FOO 1, /", snippet: "1, /"},
		"nested block":     {text: "&FOO A=1, &BAR /", snippet: "&BAR /"},
		"unterminated string": {
			text:    "&FOO A='abc, /",
			snippet: "'abc, /",
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := fortran.NewParser().Parse(testcase.text)
			if !errors.Is(err, fortran.ErrMalformedNamelist) {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(err.Error(), testcase.snippet) {
				t.Errorf("error does not show context %q: %v", testcase.snippet, err)
			}
		})
	}

	t.Run("context is limited to 32 characters", func(t *testing.T) {
		long := strings.Repeat("x", 40)
		_, err := fortran.NewParser().Parse("&FOO A=@" + long + ", /")
		if err == nil {
			t.Fatal("error is expected")
		}
		if strings.Contains(err.Error(), "@"+long[:32]) {
			t.Errorf("context is too long: %v", err)
		}
		if !strings.Contains(err.Error(), "@"+long[:31]) {
			t.Errorf("context is missing: %v", err)
		}
	})
}

func TestParser_ParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fort.4")
	if err := os.WriteFile(path, []byte("&NAMCT0 NCONF=1, /\n"), 0600); err != nil {
		t.Fatal(err)
	}
	set := try.To(fortran.NewParser().ParseFile(path)).OrFatal(t)
	assertValues(t, mustBlock(t, set, "NAMCT0"), "NCONF", fortran.Integer(1))
}

func TestBlock_Merge(t *testing.T) {
	t.Run("deletions in delta remove keys, and are remembered", func(t *testing.T) {
		base := fortran.NewBlock("foo")
		base.SetVar("A", fortran.Integer(1))
		base.SetVar("B", fortran.Integer(2))

		delta := fortran.NewBlock("foo")
		delta.DelVar("B")
		delta.SetVar("C", fortran.Integer(3))

		base.Merge(delta)

		if actual := strings.Join(base.Keys(), ","); actual != "A,C" {
			t.Errorf("keys: %s", actual)
		}
		assertValues(t, base, "A", fortran.Integer(1))
		assertValues(t, base, "C", fortran.Integer(3))
		if base.Has("B") {
			t.Error("B still exists")
		}
		rm := base.RmKeys()
		if len(rm) != 1 || rm[0] != "B" {
			t.Errorf("rmkeys: %v", rm)
		}
		for _, k := range rm {
			if base.Has(k) {
				t.Errorf("%s is both active and pending deletion", k)
			}
		}
	})

	t.Run("delta parsed from text", func(t *testing.T) {
		base := try.To(fortran.NewParser().Parse("&FOO A=1, B=2, /")).OrFatal(t)
		delta := try.To(fortran.NewParser().Parse("&FOO B=-, C=3, / &NEW X=.false., /")).OrFatal(t)

		base.Merge(delta)

		if actual := strings.Join(base.Names(), ","); actual != "FOO,NEW" {
			t.Errorf("names: %s", actual)
		}
		expected := " &FOO\n   A=1,\n   C=3,\n   B=-,\n /\n &NEW\n   X=.FALSE.,\n /\n"
		if actual := base.Dumps(fortran.NoSorting); actual != expected {
			t.Errorf("dumps:\n===actual===\n%s\n===expected===\n%s", actual, expected)
		}
	})

	t.Run("deletions survive a dump of the delta", func(t *testing.T) {
		delta := try.To(fortran.NewParser().Parse(" &FOO\n   B=-,\n   C=3,\n /\n")).OrFatal(t)
		dumped := delta.Dumps(fortran.NoSorting)
		if expected := " &FOO\n   C=3,\n   B=-,\n /\n"; dumped != expected {
			t.Errorf("dumps:\n===actual===\n%s\n===expected===\n%s", dumped, expected)
		}

		reparsed := try.To(fortran.NewParser().Parse(dumped)).OrFatal(t)
		if rm := mustBlock(t, reparsed, "FOO").RmKeys(); len(rm) != 1 || rm[0] != "B" {
			t.Errorf("rmkeys after re-parse: %v", rm)
		}

		base := try.To(fortran.NewParser().Parse("&FOO A=1, B=2, /")).OrFatal(t)
		base.Merge(reparsed)
		if actual := strings.Join(mustBlock(t, base, "FOO").Keys(), ","); actual != "A,C" {
			t.Errorf("keys after merge: %s", actual)
		}
	})

	t.Run("setting a key cancels its deletion", func(t *testing.T) {
		b := fortran.NewBlock("x")
		b.DelVar("k")
		b.SetVar("k", fortran.Logical(true))
		if len(b.RmKeys()) != 0 {
			t.Errorf("rmkeys: %v", b.RmKeys())
		}
	})
}

func TestBlock_SetVarAt(t *testing.T) {
	b := fortran.NewBlock("x")
	if err := b.SetVarAt("A", 0, fortran.Integer(1)); err != nil {
		t.Fatal(err)
	}
	if err := b.SetVarAt("A", 1, fortran.Integer(2)); err != nil {
		t.Fatal(err)
	}
	if err := b.SetVarAt("A", 0, fortran.Integer(9)); err != nil {
		t.Fatal(err)
	}
	assertValues(t, b, "A", fortran.Integer(9), fortran.Integer(2))

	if err := b.SetVarAt("A", 5, fortran.Integer(0)); err == nil {
		t.Error("out of range index is accepted")
	}
}

func TestBlock_Macros(t *testing.T) {
	set := try.To(fortran.NewParser("NBPROC").Parse("&NAMPAR NPROC=NBPROC, / &OTHER NPROC=NBPROC, /")).OrFatal(t)

	nampar := mustBlock(t, set, "NAMPAR")
	if actual := nampar.Dumps(fortran.NoSorting); actual != " &NAMPAR\n   NPROC=NBPROC,\n /\n" {
		t.Errorf("unbound macro dumps:\n%s", actual)
	}

	set.SetMacro("NBPROC", fortran.Integer(4))
	for _, name := range set.Names() {
		b := mustBlock(t, set, name)
		if actual := b.Dumps(fortran.NoSorting); !strings.Contains(actual, "NPROC=4,") {
			t.Errorf("bound macro dumps:\n%s", actual)
		}
	}

	nampar.SetMacro("NBPROC", nil)
	if actual := nampar.Dumps(fortran.NoSorting); !strings.Contains(actual, "NPROC=NBPROC,") {
		t.Errorf("unbound again:\n%s", actual)
	}
}

func TestBlock_Dumps_Sorting(t *testing.T) {
	b := fortran.NewBlock("s")
	for _, k := range []string{"B(10)", "B(2)", "A", "B"} {
		b.SetVar(k, fortran.Integer(0))
	}

	for name, testcase := range map[string]struct {
		mode     fortran.SortMode
		expected []string
	}{
		"no sorting":   {mode: fortran.NoSorting, expected: []string{"B(10)", "B(2)", "A", "B"}},
		"first order":  {mode: fortran.FirstOrder, expected: []string{"A", "B", "B(10)", "B(2)"}},
		"second order": {mode: fortran.SecondOrder, expected: []string{"A", "B", "B(2)", "B(10)"}},
	} {
		t.Run(name, func(t *testing.T) {
			lines := strings.Split(strings.TrimSpace(b.Dumps(testcase.mode)), "\n")
			lines = lines[1 : len(lines)-1]
			if len(lines) != len(testcase.expected) {
				t.Fatalf("lines: %v", lines)
			}
			for i, k := range testcase.expected {
				if want := "   " + k + "=0,"; lines[i] != want {
					t.Errorf("line %d: (actual, expected) = (%q, %q)", i, lines[i], want)
				}
			}
		})
	}
}

func TestBlock_CloneIsIndependent(t *testing.T) {
	b := fortran.NewBlock("c")
	b.SetVar("A", fortran.Integer(1))
	c := b.Clone()
	c.SetVar("A", fortran.Integer(2))
	c.SetVar("B", fortran.Integer(3))

	assertValues(t, b, "A", fortran.Integer(1))
	if b.Has("B") {
		t.Error("clone shares its pool")
	}
	if b.Equal(c) {
		t.Error("blocks should differ")
	}
}
