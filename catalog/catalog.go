// Package catalog holds named, versioned source definitions: which driver
// serves a store and how to configure it. A catalog is an in-memory value
// with explicit YAML round-trip helpers; it makes no persistence promise.
package catalog

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/fogfactory/flume"
)

// Source declares where a store lives. Options are opaque to everything but
// the driver resolved through a registry.
type Source struct {
	Driver   string         `yaml:"driver"`
	Options  flume.Config   `yaml:"options,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// Latest selects the highest registered version of a source.
const Latest = -1

// Key identifies one version of a named source.
type Key struct {
	Identifier string
	Version    int
}

// Catalog maps identifiers to versioned sources. Not safe for concurrent
// mutation; derived catalogs (Copy, Union, ...) are deep copies, never views.
type Catalog struct {
	sources map[string]map[int]Source
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{sources: map[string]map[int]Source{}}
}

// Set registers a source under an explicit version (> 0).
func (c *Catalog) Set(id string, version int, s Source) error {
	if id == "" || version <= 0 {
		return errors.Wrap(flume.ErrConfig, "catalog entries need an identifier and a positive version")
	}
	if c.sources[id] == nil {
		c.sources[id] = map[int]Source{}
	}
	c.sources[id][version] = s
	return nil
}

// Add registers a source under the next free version and returns it.
func (c *Catalog) Add(id string, s Source) (int, error) {
	version := 1
	if versions := c.Versions(id); len(versions) > 0 {
		version = versions[len(versions)-1] + 1
	}
	return version, c.Set(id, version, s)
}

// Get resolves a key. Version Latest picks the highest registered version.
func (c *Catalog) Get(key Key) (Source, bool) {
	versions := c.sources[key.Identifier]
	if len(versions) == 0 {
		return Source{}, false
	}
	v := key.Version
	if v == Latest {
		sorted := c.Versions(key.Identifier)
		v = sorted[len(sorted)-1]
	}
	s, ok := versions[v]
	return s, ok
}

// Versions returns the registered versions of a source, sorted.
func (c *Catalog) Versions(id string) []int {
	versions := lo.Keys(c.sources[id])
	sort.Ints(versions)
	return versions
}

// Keys returns the source identifiers, sorted.
func (c *Catalog) Keys() []string {
	keys := lo.Keys(c.sources)
	sort.Strings(keys)
	return keys
}

// Len counts identifiers, not versions.
func (c *Catalog) Len() int { return len(c.sources) }

// Copy returns a deep copy. It round-trips through YAML so nothing is shared,
// whatever nesting ended up inside Options or Metadata. Panics on values YAML
// cannot represent, which a catalog is not supposed to hold.
func (c *Catalog) Copy() *Catalog {
	raw, err := yaml.Marshal(c.sources)
	if err != nil {
		panic(err)
	}
	cp := New()
	if err := yaml.Unmarshal(raw, &cp.sources); err != nil {
		panic(err)
	}
	if cp.sources == nil {
		cp.sources = map[string]map[int]Source{}
	}
	return cp
}

// Union merges two catalogs; on conflicting keys the other catalog wins.
func (c *Catalog) Union(other *Catalog) *Catalog {
	out := c.Copy()
	for id, versions := range other.Copy().sources {
		for v, s := range versions {
			_ = out.Set(id, v, s)
		}
	}
	return out
}

// Join unions two catalogs that must not overlap.
func (c *Catalog) Join(other *Catalog) (*Catalog, error) {
	if inter := c.Intersection(other); inter.Len() > 0 {
		return nil, errors.Wrapf(flume.ErrConfig, "catalogs overlap on %v", inter.Keys())
	}
	return c.Union(other), nil
}

// Difference returns the entries present in exactly one of the catalogs.
func (c *Catalog) Difference(other *Catalog) *Catalog {
	out := New()
	for _, pair := range [][2]*Catalog{{c, other}, {other, c}} {
		a, b := pair[0], pair[1]
		for id, versions := range a.Copy().sources {
			for v, s := range versions {
				if _, ok := b.sources[id][v]; !ok {
					_ = out.Set(id, v, s)
				}
			}
		}
	}
	return out
}

// Intersection returns the entries present in both catalogs, keeping the
// receiver's definition.
func (c *Catalog) Intersection(other *Catalog) *Catalog {
	out := New()
	for id, versions := range c.Copy().sources {
		for v, s := range versions {
			if _, ok := other.sources[id][v]; ok {
				_ = out.Set(id, v, s)
			}
		}
	}
	return out
}

// Slice returns a copy restricted to the given identifiers.
func (c *Catalog) Slice(ids ...string) *Catalog {
	out := New()
	cp := c.Copy()
	for _, id := range ids {
		for v, s := range cp.sources[id] {
			_ = out.Set(id, v, s)
		}
	}
	return out
}

// Filter keeps the entries matching the predicate.
func (c *Catalog) Filter(pred func(Key, Source) bool) *Catalog {
	out := New()
	for id, versions := range c.Copy().sources {
		for v, s := range versions {
			if pred(Key{Identifier: id, Version: v}, s) {
				_ = out.Set(id, v, s)
			}
		}
	}
	return out
}

// Driver resolves the driver serving a source through the registry.
func (c *Catalog) Driver(reg *flume.Registry, key Key) (flume.Driver[any], error) {
	s, ok := c.Get(key)
	if !ok {
		return nil, errors.Wrapf(flume.ErrConfig, "unknown source %s@%d", key.Identifier, key.Version)
	}
	return reg.New(s.Driver, s.Options)
}

// Save writes the catalog as YAML.
func (c *Catalog) Save(fsys afero.Fs, path string) error {
	raw, err := yaml.Marshal(c.sources)
	if err != nil {
		return errors.Wrap(err, "marshal catalog")
	}
	return errors.Wrapf(afero.WriteFile(fsys, path, raw, 0o644), "write %s", path)
}

// Load reads a YAML catalog from a file.
func Load(fsys afero.Fs, path string) (*Catalog, error) {
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, errors.Wrapf(flume.ErrUnavailable, "read %s: %v", path, err)
	}
	return FromBytes(raw)
}

// FromString parses a YAML catalog.
func FromString(s string) (*Catalog, error) { return FromBytes([]byte(s)) }

// FromBytes parses a YAML catalog.
func FromBytes(raw []byte) (*Catalog, error) {
	c := New()
	if err := yaml.Unmarshal(raw, &c.sources); err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	if c.sources == nil {
		c.sources = map[string]map[int]Source{}
	}
	return c, nil
}
