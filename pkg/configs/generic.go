// Package configs reads the YAML configuration files of vortexflow.
//
// Generic is a read-only `(section, option)` lookup. A section header may
// name parents, `name:parentA:parentB`: options missing in a section are
// looked up in its parents (depth-first, in declaration order), then in the
// `defaults` section. Values may refer to other options of the resolved
// section as `${option}`.
//
//	defaults:
//	  user: mxpt001
//	archive:
//	  scheme: ftp
//	vortex.archive.fr:archive:
//	  rootdir: /home/${user}/vortex
package configs

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xe "github.com/opst/vortexflow/pkg/errors"
)

// DefaultSection holds fallback values of every section.
const DefaultSection = "defaults"

// interpolation depth limit, to stop reference loops.
const maxInterpolation = 16

var reReference = regexp.MustCompile(`\$\{([^}]+)\}`)

type section struct {
	name    string
	parents []string
	options map[string]string
}

type Generic struct {
	order    []string
	sections map[string]*section
}

// Load reads a configuration file.
func Load(path string) (*Generic, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

func Parse(content []byte) (*Generic, error) {
	g := &Generic{}
	if err := yaml.Unmarshal(content, g); err != nil {
		return nil, err
	}
	if g.sections == nil {
		g.sections = map[string]*section{}
	}
	return g, nil
}

// New builds a configuration out of section headers and options.
func New(sections map[string]map[string]string) (*Generic, error) {
	g := &Generic{sections: map[string]*section{}}
	headers := make([]string, 0, len(sections))
	for h := range sections {
		headers = append(headers, h)
	}
	sort.Strings(headers)
	for _, h := range headers {
		if err := g.add(h, sections[h]); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Generic) add(header string, options map[string]string) error {
	parts := strings.Split(header, ":")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return xe.Configurationf("empty section name in %q", header)
	}
	if _, ok := g.sections[name]; ok {
		return xe.Configurationf("section %s is declared twice", name)
	}
	s := &section{name: name, options: map[string]string{}}
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			s.parents = append(s.parents, p)
		}
	}
	for k, v := range options {
		s.options[k] = v
	}
	g.order = append(g.order, name)
	g.sections[name] = s
	return nil
}

func (g *Generic) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	g.sections = map[string]*section{}
	g.order = nil
	if node.Kind != yaml.MappingNode {
		return xe.Configurationf("line %d: sections should be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		header, body := node.Content[i], node.Content[i+1]
		options := map[string]string{}
		switch body.Kind {
		case yaml.MappingNode:
			for j := 0; j+1 < len(body.Content); j += 2 {
				k, v := body.Content[j], body.Content[j+1]
				value, err := scalar(v)
				if err != nil {
					return xe.Configurationf("line %d: %s.%s: %s", v.Line, header.Value, k.Value, err)
				}
				options[k.Value] = value
			}
		case yaml.ScalarNode:
			if body.Tag != "!!null" {
				return xe.Configurationf("line %d: section %s should be a mapping", body.Line, header.Value)
			}
		default:
			return xe.Configurationf("line %d: section %s should be a mapping", body.Line, header.Value)
		}
		if err := g.add(header.Value, options); err != nil {
			return err
		}
	}
	return nil
}

// scalar reads a value as a string. Sequences of scalars are joined by ",".
func scalar(node *yaml.Node) (string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return "", nil
		}
		return node.Value, nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		for _, c := range node.Content {
			v, err := scalar(c)
			if err != nil {
				return "", err
			}
			items = append(items, v)
		}
		return strings.Join(items, ","), nil
	}
	return "", fmt.Errorf("value should be a scalar or a list of scalars")
}

// Sections returns section names in declaration order.
func (g *Generic) Sections() []string {
	return append([]string{}, g.order...)
}

func (g *Generic) Has(section string) bool {
	_, ok := g.sections[section]
	return ok
}

// Parents returns the declared parents of section.
func (g *Generic) Parents(section string) []string {
	if s, ok := g.sections[section]; ok {
		return append([]string{}, s.parents...)
	}
	return nil
}

// raw looks option up through section, its ancestors and defaults.
func (g *Generic) raw(name string, option string) (string, bool, error) {
	v, ok, err := g.inherited(name, option, map[string]bool{})
	if err != nil || ok {
		return v, ok, err
	}
	if d, ok := g.sections[DefaultSection]; ok {
		v, ok := d.options[option]
		return v, ok, nil
	}
	return "", false, nil
}

func (g *Generic) inherited(name string, option string, visiting map[string]bool) (string, bool, error) {
	if visiting[name] {
		return "", false, xe.Configurationf("section %s inherits from itself", name)
	}
	s, ok := g.sections[name]
	if !ok {
		return "", false, nil
	}
	if v, ok := s.options[option]; ok {
		return v, true, nil
	}
	visiting[name] = true
	defer delete(visiting, name)
	for _, p := range s.parents {
		v, ok, err := g.inherited(p, option, visiting)
		if err != nil || ok {
			return v, ok, err
		}
	}
	return "", false, nil
}

func (g *Generic) interpolate(name string, value string, depth int) (string, error) {
	if !strings.Contains(value, "${") {
		return value, nil
	}
	if maxInterpolation < depth {
		return "", xe.Configurationf("section %s: interpolation is too deep in %q", name, value)
	}
	var ierr error
	out := reReference.ReplaceAllStringFunc(value, func(ref string) string {
		if ierr != nil {
			return ref
		}
		key := reReference.FindStringSubmatch(ref)[1]
		v, ok, err := g.raw(name, key)
		if err != nil {
			ierr = err
			return ref
		}
		if !ok {
			ierr = xe.Configurationf("section %s: ${%s} is not defined", name, key)
			return ref
		}
		v, err = g.interpolate(name, v, depth+1)
		if err != nil {
			ierr = err
			return ref
		}
		return v
	})
	return out, ierr
}

// Lookup returns the value of option for section.
func (g *Generic) Lookup(section string, option string) (string, bool, error) {
	v, ok, err := g.raw(section, option)
	if err != nil || !ok {
		return "", ok, err
	}
	v, err = g.interpolate(section, v, 0)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Get returns the value of a mandatory option.
func (g *Generic) Get(section string, option string) (string, error) {
	v, ok, err := g.Lookup(section, option)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", xe.Configurationf("%s: option %s is not set", section, option)
	}
	return v, nil
}

// GetOr returns the value of option, or fallback when it is not set.
func (g *Generic) GetOr(section string, option string, fallback string) (string, error) {
	v, ok, err := g.Lookup(section, option)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback, nil
	}
	return v, nil
}

func (g *Generic) Bool(section string, option string, fallback bool) (bool, error) {
	v, ok, err := g.Lookup(section, option)
	if err != nil || !ok {
		return fallback, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "yes", "true", "on":
		return true, nil
	case "0", "no", "false", "off", "":
		return false, nil
	}
	return false, xe.Configurationf("%s: option %s is not a boolean: %q", section, option, v)
}

func (g *Generic) Int(section string, option string, fallback int) (int, error) {
	v, ok, err := g.Lookup(section, option)
	if err != nil || !ok {
		return fallback, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, xe.Configurationf("%s: option %s is not an integer: %q", section, option, v)
	}
	return i, nil
}

func (g *Generic) Duration(section string, option string, fallback time.Duration) (time.Duration, error) {
	v, ok, err := g.Lookup(section, option)
	if err != nil || !ok {
		return fallback, err
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, xe.Configurationf("%s: option %s is not a duration: %q", section, option, v)
	}
	return d, nil
}

// List splits the value of option by ",". Blank items are dropped.
func (g *Generic) List(section string, option string) ([]string, error) {
	v, ok, err := g.Lookup(section, option)
	if err != nil || !ok {
		return nil, err
	}
	items := []string{}
	for _, i := range strings.Split(v, ",") {
		if i = strings.TrimSpace(i); i != "" {
			items = append(items, i)
		}
	}
	return items, nil
}

// Options returns every option visible from section, resolved.
func (g *Generic) Options(section string) (map[string]string, error) {
	keys := map[string]struct{}{}
	var collect func(string, map[string]bool)
	collect = func(name string, seen map[string]bool) {
		s, ok := g.sections[name]
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		for k := range s.options {
			keys[k] = struct{}{}
		}
		for _, p := range s.parents {
			collect(p, seen)
		}
	}
	collect(section, map[string]bool{})
	collect(DefaultSection, map[string]bool{})

	out := map[string]string{}
	for k := range keys {
		v, _, err := g.Lookup(section, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
