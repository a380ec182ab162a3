package api

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed ze_core.yaml
var defaultTable []byte

// Table is an immutable set of entry points keyed by name.
type Table struct {
	byName  map[string]*EntryPoint
	order   []*EntryPoint
	version string
}

type tableFile struct {
	Version     string        `yaml:"version"`
	EntryPoints []*EntryPoint `yaml:"entry_points"`
}

// Parse decodes a YAML entry-point table and checks every declaration.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse entry point table: %w", err)
	}
	t, err := NewTable(f.EntryPoints...)
	if err != nil {
		return nil, err
	}
	t.version = f.Version
	return t, nil
}

// NewTable builds a table from entry points declared in code.
func NewTable(eps ...*EntryPoint) (*Table, error) {
	t := &Table{
		byName: make(map[string]*EntryPoint, len(eps)),
		order:  make([]*EntryPoint, 0, len(eps)),
	}
	for _, ep := range eps {
		if ep == nil {
			continue
		}
		if err := ep.Check(); err != nil {
			return nil, fmt.Errorf("entry point table: %w", err)
		}
		if _, dup := t.byName[ep.Name]; dup {
			return nil, fmt.Errorf("entry point table: duplicate entry point %q", ep.Name)
		}
		t.byName[ep.Name] = ep
		t.order = append(t.order, ep)
	}
	return t, nil
}

var (
	defaultOnce sync.Once
	defaultTab  *Table
)

// Default returns the built-in table modelled on the core entry points of the
// Level Zero API. It panics if the embedded table is malformed.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Parse(defaultTable)
		if err != nil {
			panic(err)
		}
		defaultTab = t
	})
	return defaultTab
}

// Lookup returns the entry point with the given name.
func (t *Table) Lookup(name string) (*EntryPoint, bool) {
	ep, ok := t.byName[name]
	return ep, ok
}

// MustLookup is Lookup for names known to exist.
func (t *Table) MustLookup(name string) *EntryPoint {
	ep, ok := t.byName[name]
	if !ok {
		panic(fmt.Sprintf("api: unknown entry point %q", name))
	}
	return ep
}

// EntryPoints returns the entry points in declaration order.
func (t *Table) EntryPoints() []*EntryPoint {
	out := make([]*EntryPoint, len(t.order))
	copy(out, t.order)
	return out
}

// Names returns the entry point names, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classes returns every handle class the table mentions, sorted.
func (t *Table) Classes() []string {
	set := make(map[string]struct{})
	for _, ep := range t.order {
		for _, in := range ep.Inputs {
			set[in.Class] = struct{}{}
		}
		for _, out := range ep.Outputs {
			set[out.Class] = struct{}{}
		}
	}
	classes := make([]string, 0, len(set))
	for c := range set {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}

// Len returns the number of entry points.
func (t *Table) Len() int {
	return len(t.order)
}

// Version returns the version string of a parsed table.
func (t *Table) Version() string {
	return t.version
}
