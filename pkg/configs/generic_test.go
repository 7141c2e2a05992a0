package configs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opst/vortexflow/internal/testutils/try"
	"github.com/opst/vortexflow/pkg/configs"
	xe "github.com/opst/vortexflow/pkg/errors"
)

const sample = `
defaults:
  user: mxpt001
  storetrue: yes
archive:
  scheme: ftp
  attempts: 3
  rootdir: /home/${user}
olive:
  rootdir: /olive/${user}
  backoff: 2s
vortex.archive.fr:archive:olive:
  rootdir: ${root}/vortex
  root: /chaine/${user}
op.archive.fr:olive:archive:
  formats: [grib, ascii]
`

func TestGeneric_Lookup(t *testing.T) {
	conf := try.To(configs.Parse([]byte(sample))).OrFatal(t)

	type When struct {
		section string
		option  string
	}
	type Then struct {
		value string
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			actual := try.To(conf.Get(when.section, when.option)).OrFatal(t)
			if actual != then.value {
				t.Errorf("%s.%s: (actual, expected) = (%s, %s)", when.section, when.option, actual, then.value)
			}
		}
	}

	t.Run("own option", theory(When{section: "archive", option: "scheme"}, Then{value: "ftp"}))
	t.Run("own option with interpolation through defaults", theory(
		When{section: "archive", option: "rootdir"},
		Then{value: "/home/mxpt001"},
	))
	t.Run("own option wins over parents", theory(
		When{section: "vortex.archive.fr", option: "rootdir"},
		Then{value: "/chaine/mxpt001/vortex"},
	))
	t.Run("first parent wins", theory(When{section: "vortex.archive.fr", option: "scheme"}, Then{value: "ftp"}))
	t.Run("parent order is declaration order", func(t *testing.T) {
		// both parents define rootdir but the section has none of its own
		actual := try.To(conf.Get("op.archive.fr", "rootdir")).OrFatal(t)
		if actual != "/olive/mxpt001" {
			t.Errorf("unexpected: %s", actual)
		}
	})
	t.Run("second parent fills what the first lacks", theory(
		When{section: "vortex.archive.fr", option: "backoff"},
		Then{value: "2s"},
	))
	t.Run("defaults are the last resort", theory(When{section: "olive", option: "storetrue"}, Then{value: "yes"}))
	t.Run("undeclared section reads defaults", theory(When{section: "nowhere", option: "user"}, Then{value: "mxpt001"}))
	t.Run("lists are joined", theory(When{section: "op.archive.fr", option: "formats"}, Then{value: "grib,ascii"}))
}

func TestGeneric_Typed(t *testing.T) {
	conf := try.To(configs.Parse([]byte(sample))).OrFatal(t)

	if n := try.To(conf.Int("vortex.archive.fr", "attempts", 1)).OrFatal(t); n != 3 {
		t.Errorf("attempts: %d", n)
	}
	if n := try.To(conf.Int("olive", "attempts", 1)).OrFatal(t); n != 1 {
		t.Errorf("attempts fallback: %d", n)
	}
	if b := try.To(conf.Bool("archive", "storetrue", false)).OrFatal(t); !b {
		t.Error("storetrue")
	}
	if d := try.To(conf.Duration("olive", "backoff", time.Second)).OrFatal(t); d != 2*time.Second {
		t.Errorf("backoff: %s", d)
	}
	if l := try.To(conf.List("op.archive.fr", "formats")).OrFatal(t); len(l) != 2 || l[0] != "grib" || l[1] != "ascii" {
		t.Errorf("formats: %v", l)
	}
	if _, err := conf.Int("archive", "scheme", 0); !errors.Is(err, xe.ErrConfiguration) {
		t.Errorf("not an integer: %v", err)
	}
	if v := try.To(conf.GetOr("archive", "missing", "fallback")).OrFatal(t); v != "fallback" {
		t.Errorf("GetOr: %s", v)
	}
}

func TestGeneric_Sections(t *testing.T) {
	conf := try.To(configs.Parse([]byte(sample))).OrFatal(t)

	expected := []string{"defaults", "archive", "olive", "vortex.archive.fr", "op.archive.fr"}
	actual := conf.Sections()
	if len(actual) != len(expected) {
		t.Fatalf("sections: %v", actual)
	}
	for i := range expected {
		if actual[i] != expected[i] {
			t.Errorf("sections: (actual, expected) = (%v, %v)", actual, expected)
		}
	}
	if p := conf.Parents("vortex.archive.fr"); len(p) != 2 || p[0] != "archive" || p[1] != "olive" {
		t.Errorf("parents: %v", p)
	}

	options := try.To(conf.Options("vortex.archive.fr")).OrFatal(t)
	for k, v := range map[string]string{
		"scheme": "ftp", "rootdir": "/chaine/mxpt001/vortex", "backoff": "2s", "user": "mxpt001",
	} {
		if options[k] != v {
			t.Errorf("options[%s]: (actual, expected) = (%s, %s)", k, options[k], v)
		}
	}
}

func TestGeneric_Errors(t *testing.T) {
	t.Run("missing mandatory option", func(t *testing.T) {
		conf := try.To(configs.Parse([]byte(sample))).OrFatal(t)
		if _, err := conf.Get("archive", "nothing"); !errors.Is(err, xe.ErrConfiguration) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("undefined reference", func(t *testing.T) {
		conf := try.To(configs.Parse([]byte("a:\n  x: ${nope}\n"))).OrFatal(t)
		if _, err := conf.Get("a", "x"); !errors.Is(err, xe.ErrConfiguration) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("reference loop", func(t *testing.T) {
		conf := try.To(configs.Parse([]byte("a:\n  x: ${y}\n  y: ${x}\n"))).OrFatal(t)
		if _, err := conf.Get("a", "x"); !errors.Is(err, xe.ErrConfiguration) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("inheritance loop", func(t *testing.T) {
		conf := try.To(configs.Parse([]byte("a:b:\n  x: 1\nb:a:\n  y: 2\n"))).OrFatal(t)
		if _, _, err := conf.Lookup("a", "z"); !errors.Is(err, xe.ErrConfiguration) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	for name, content := range map[string]string{
		"not a mapping":       "- a\n- b\n",
		"section is a list":   "a:\n  - 1\n",
		"nested mapping":      "a:\n  x:\n    y: 1\n",
		"duplicated sections": "a:\n  x: 1\na:b:\n  y: 1\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := configs.Parse([]byte(content)); !errors.Is(err, xe.ErrConfiguration) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stores.yaml")
	if err := os.WriteFile(path, []byte(sample), os.FileMode(0644)); err != nil {
		t.Fatal(err)
	}
	conf := try.To(configs.Load(path)).OrFatal(t)
	if !conf.Has("olive") || conf.Has("nowhere") {
		t.Errorf("sections: %v", conf.Sections())
	}

	if _, err := configs.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("unexpected error: %v", err)
	}
}
