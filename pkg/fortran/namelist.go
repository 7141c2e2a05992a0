package fortran

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SortMode selects the order of variables when a block is dumped.
type SortMode int

const (
	// NoSorting keeps insertion order.
	NoSorting SortMode = iota
	// FirstOrder sorts by the full key.
	FirstOrder
	// SecondOrder sorts by radical, then by numeric indices.
	SecondOrder
)

func nice(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Block is a named group of variables of a namelist file.
//
// Keys are upper-cased. Insertion order is kept and drives dumps.
// Deleted keys are remembered (RmKeys) so that a block can act as a delta
// to be merged into another.
type Block struct {
	name   string
	keys   []string
	pool   map[string][]Value
	rmkeys []string

	macros     []string
	macroValue map[string]Value
}

func NewBlock(name string) *Block {
	return &Block{
		name:       nice(name),
		pool:       map[string][]Value{},
		macroValue: map[string]Value{},
	}
}

func (b *Block) Name() string { return b.name }

func (b *Block) Len() int { return len(b.keys) }

// Keys returns the variable names in insertion order.
func (b *Block) Keys() []string {
	return append([]string{}, b.keys...)
}

func (b *Block) Has(key string) bool {
	_, ok := b.pool[nice(key)]
	return ok
}

// Get returns the values of key. Scalars are single-element slices.
func (b *Block) Get(key string) ([]Value, bool) {
	v, ok := b.pool[nice(key)]
	if !ok {
		return nil, false
	}
	return append([]Value{}, v...), true
}

// SetVar assigns values to key. Setting a key cancels its pending deletion.
func (b *Block) SetVar(key string, values ...Value) {
	key = nice(key)
	if _, ok := b.pool[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.pool[key] = append([]Value{}, values...)
	b.rmkeys = remove(b.rmkeys, key)
	for _, v := range values {
		if m, ok := v.(Macro); ok {
			b.AddMacro(string(m))
		}
	}
}

// SetVarAt assigns the index-th element (0-based) of key.
//
// index may be the current length of the variable to append an element.
func (b *Block) SetVarAt(key string, index int, value Value) error {
	key = nice(key)
	current := b.pool[key]
	if index < 0 || len(current) < index {
		return fmt.Errorf("fortran: index %d out of range for %s (len %d)", index, key, len(current))
	}
	values := append([]Value{}, current...)
	if index == len(values) {
		values = append(values, value)
	} else {
		values[index] = value
	}
	b.SetVar(key, values...)
	return nil
}

// DelVar removes key and records it as a key to be deleted.
func (b *Block) DelVar(key string) {
	key = nice(key)
	if _, ok := b.pool[key]; ok {
		delete(b.pool, key)
		b.keys = remove(b.keys, key)
	}
	if !contains(b.rmkeys, key) {
		b.rmkeys = append(b.rmkeys, key)
	}
}

// RmKeys returns keys pending deletion.
func (b *Block) RmKeys() []string {
	return append([]string{}, b.rmkeys...)
}

// AddMacro declares a macro without binding a value to it.
func (b *Block) AddMacro(name string) {
	if !contains(b.macros, name) {
		b.macros = append(b.macros, name)
	}
}

// SetMacro declares name and binds value to it. A nil value unbinds it.
func (b *Block) SetMacro(name string, value Value) {
	b.AddMacro(name)
	if value == nil {
		delete(b.macroValue, name)
		return
	}
	b.macroValue[name] = value
}

func (b *Block) Macros() []string {
	return append([]string{}, b.macros...)
}

func (b *Block) HasMacro(name string) bool {
	return contains(b.macros, name)
}

// MacroValue returns the value bound to the macro, if any.
func (b *Block) MacroValue(name string) (Value, bool) {
	v, ok := b.macroValue[name]
	return v, ok
}

// Update assigns every variable of other into b, in other's order.
func (b *Block) Update(other *Block) {
	for _, k := range other.keys {
		b.SetVar(k, other.pool[k]...)
	}
}

// Merge applies delta: its pending deletions first, then its variables,
// then its macros (bound values of delta win).
func (b *Block) Merge(delta *Block) {
	for _, k := range delta.rmkeys {
		b.DelVar(k)
	}
	b.Update(delta)
	for _, m := range delta.macros {
		if v, ok := delta.macroValue[m]; ok {
			b.SetMacro(m, v)
		} else {
			b.AddMacro(m)
		}
	}
}

func (b *Block) Clone() *Block {
	c := NewBlock(b.name)
	for _, k := range b.keys {
		c.keys = append(c.keys, k)
		c.pool[k] = append([]Value{}, b.pool[k]...)
	}
	c.rmkeys = append(c.rmkeys, b.rmkeys...)
	c.macros = append(c.macros, b.macros...)
	for k, v := range b.macroValue {
		c.macroValue[k] = v
	}
	return c
}

// Equal compares names, key order and values.
func (b *Block) Equal(o *Block) bool {
	if b == nil || o == nil {
		return b == nil && o == nil
	}
	if b.name != o.name || len(b.keys) != len(o.keys) {
		return false
	}
	for i, k := range b.keys {
		if o.keys[i] != k {
			return false
		}
		x, y := b.pool[k], o.pool[k]
		if len(x) != len(y) {
			return false
		}
		for j := range x {
			if !Equal(x[j], y[j]) {
				return false
			}
		}
	}
	return true
}

func (b *Block) encode(v Value) string {
	if m, ok := v.(Macro); ok {
		if bound, ok := b.macroValue[string(m)]; ok {
			return bound.Encode()
		}
	}
	return v.Encode()
}

// Dumps writes the block in namelist form: a " &NAME" line, one
// "   KEY=v1,v2," line per variable, one "   KEY=-," line per key pending
// deletion and a closing " /" line.
func (b *Block) Dumps(sorting SortMode) string {
	sb := new(strings.Builder)
	sb.WriteString(" &" + b.name + "\n")
	for _, k := range sortKeys(b.keys, sorting) {
		sb.WriteString("   " + k + "=")
		for _, v := range b.pool[k] {
			sb.WriteString(b.encode(v))
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	for _, k := range sortKeys(b.rmkeys, sorting) {
		sb.WriteString("   " + k + "=-,\n")
	}
	sb.WriteString(" /\n")
	return sb.String()
}

func (b *Block) String() string {
	return b.Dumps(NoSorting)
}

var reKeyIndex = regexp.MustCompile(`^([^(%]*)(?:\(([^)]*)\))?(.*)$`)

type keyOrder struct {
	radical string
	index   []int
	rest    string
}

func splitKey(k string) keyOrder {
	m := reKeyIndex.FindStringSubmatch(k)
	ko := keyOrder{radical: m[1], rest: m[3]}
	if m[2] == "" {
		return ko
	}
	for _, part := range strings.FieldsFunc(m[2], func(r rune) bool { return r == ',' || r == ':' }) {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			n = 0
		}
		ko.index = append(ko.index, n)
	}
	return ko
}

func sortKeys(keys []string, sorting SortMode) []string {
	sorted := append([]string{}, keys...)
	switch sorting {
	case FirstOrder:
		sort.Strings(sorted)
	case SecondOrder:
		sort.SliceStable(sorted, func(i, j int) bool {
			a, b := splitKey(sorted[i]), splitKey(sorted[j])
			if a.radical != b.radical {
				return a.radical < b.radical
			}
			for n := 0; n < len(a.index) && n < len(b.index); n++ {
				if a.index[n] != b.index[n] {
					return a.index[n] < b.index[n]
				}
			}
			if len(a.index) != len(b.index) {
				return len(a.index) < len(b.index)
			}
			return a.rest < b.rest
		})
	}
	return sorted
}

// Set is the collection of blocks of a namelist file, in file order.
type Set struct {
	names  []string
	blocks map[string]*Block
}

func NewSet(blocks ...*Block) *Set {
	s := &Set{blocks: map[string]*Block{}}
	for _, b := range blocks {
		s.Add(b)
	}
	return s
}

// Add inserts b, replacing a block of the same name at its position.
func (s *Set) Add(b *Block) {
	if _, ok := s.blocks[b.name]; !ok {
		s.names = append(s.names, b.name)
	}
	s.blocks[b.name] = b
}

func (s *Set) Get(name string) (*Block, bool) {
	b, ok := s.blocks[nice(name)]
	return b, ok
}

func (s *Set) Remove(name string) {
	name = nice(name)
	delete(s.blocks, name)
	s.names = remove(s.names, name)
}

func (s *Set) Names() []string {
	return append([]string{}, s.names...)
}

func (s *Set) Len() int { return len(s.names) }

// SetMacro binds value to the macro in every block declaring it.
func (s *Set) SetMacro(name string, value Value) {
	for _, n := range s.names {
		if b := s.blocks[n]; b.HasMacro(name) {
			b.SetMacro(name, value)
		}
	}
}

// Merge merges same-named blocks of delta into s and appends the others.
func (s *Set) Merge(delta *Set) {
	for _, n := range delta.names {
		if b, ok := s.blocks[n]; ok {
			b.Merge(delta.blocks[n])
			continue
		}
		s.Add(delta.blocks[n].Clone())
	}
}

func (s *Set) Equal(o *Set) bool {
	if len(s.names) != len(o.names) {
		return false
	}
	for i, n := range s.names {
		if o.names[i] != n || !s.blocks[n].Equal(o.blocks[n]) {
			return false
		}
	}
	return true
}

// Dumps concatenates the dumps of every block.
func (s *Set) Dumps(sorting SortMode) string {
	sb := new(strings.Builder)
	for _, n := range s.names {
		sb.WriteString(s.blocks[n].Dumps(sorting))
	}
	return sb.String()
}

func contains(list []string, item string) bool {
	for _, i := range list {
		if i == item {
			return true
		}
	}
	return false
}

func remove(list []string, item string) []string {
	out := list[:0:0]
	for _, i := range list {
		if i != item {
			out = append(out, i)
		}
	}
	return out
}
