// Package model holds the immutable snapshot of one configuration layer: a
// value tree, the ordered keys it defines and its override blocks.
package model

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	overrideKeyPattern     = regexp.MustCompile(`^(\[[^\]]+\])+$`)
	overrideSegmentPattern = regexp.MustCompile(`\[([^\]]+)\]`)
)

// Override is a block of values that applies on top of the base tree when one
// of its identifiers (a language id, for instance) is requested.
type Override struct {
	Identifiers []string
	Contents    map[string]any
	Keys        []string
}

func (o Override) matches(identifier string) bool {
	return slices.Contains(o.Identifiers, identifier)
}

func (o Override) clone() Override {
	return Override{
		Identifiers: slices.Clone(o.Identifiers),
		Contents:    cloneTree(o.Contents),
		Keys:        slices.Clone(o.Keys),
	}
}

// Model is a read-only layer snapshot. Updates build a new Model; nothing
// mutates one after construction. A nil *Model behaves as an empty model.
type Model struct {
	contents  map[string]any
	keys      []string
	overrides []Override
}

// New takes ownership of contents, keys and overrides.
func New(contents map[string]any, keys []string, overrides []Override) *Model {
	if contents == nil {
		contents = make(map[string]any)
	}
	return &Model{contents: contents, keys: keys, overrides: overrides}
}

// Empty returns a model with no keys.
func Empty() *Model {
	return New(nil, nil, nil)
}

// FromEntries builds a model from ordered top-level entries. Override keys
// such as "[go]" become override blocks; their value is either an ordered
// []Entry or a plain object.
func FromEntries(entries []Entry, report ConflictReporter) *Model {
	if report == nil {
		report = discardConflicts
	}
	base := make([]Entry, 0, len(entries))
	var overrides []Override
	for _, e := range entries {
		if !IsOverrideKey(e.Key) {
			base = append(base, e)
			continue
		}
		var inner []Entry
		switch v := e.Value.(type) {
		case []Entry:
			inner = v
		case map[string]any:
			inner = sortedEntries(v)
		default:
			report(fmt.Sprintf("Ignoring %s as it is not an object", e.Key))
			continue
		}
		contents, keys := BuildTree(inner, report)
		overrides = append(overrides, Override{
			Identifiers: OverrideIdentifiers(e.Key),
			Contents:    contents,
			Keys:        keys,
		})
	}
	contents, keys := BuildTree(base, report)
	return New(contents, keys, overrides)
}

func (m *Model) IsEmpty() bool {
	return m == nil || (len(m.keys) == 0 && len(m.contents) == 0 && len(m.overrides) == 0)
}

// Keys returns the keys defined in this layer in order.
func (m *Model) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

// Contents returns a deep copy of the value tree.
func (m *Model) Contents() map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	return cloneTree(m.contents)
}

// Overrides returns a deep copy of the override blocks.
func (m *Model) Overrides() []Override {
	if m == nil {
		return nil
	}
	out := make([]Override, len(m.overrides))
	for i, o := range m.overrides {
		out[i] = o.clone()
	}
	return out
}

// OverrideIdentifiers lists every identifier that has an override block.
func (m *Model) OverrideIdentifiers() []string {
	if m == nil {
		return nil
	}
	s := newKeySet(len(m.overrides))
	for _, o := range m.overrides {
		s.add(o.Identifiers...)
	}
	return s.list
}

// GetValue returns the value at section, or the whole tree for "". The
// returned value is shared with the model and must not be modified.
func (m *Model) GetValue(section string) any {
	v, _ := m.Lookup(section)
	return v
}

// Lookup is GetValue with a presence flag.
func (m *Model) Lookup(section string) (any, bool) {
	if m == nil {
		return nil, false
	}
	return GetFromTree(m.contents, section)
}

// GetOverrideValue returns section as defined by the override blocks for
// identifier only, ignoring the base tree.
func (m *Model) GetOverrideValue(section, identifier string) (any, bool) {
	contents := m.overrideContents(identifier)
	if contents == nil {
		return nil, false
	}
	return GetFromTree(contents, section)
}

// overrideContents merges, in order, every override block naming identifier.
func (m *Model) overrideContents(identifier string) map[string]any {
	if m == nil || identifier == "" {
		return nil
	}
	var merged map[string]any
	for _, o := range m.overrides {
		if !o.matches(identifier) {
			continue
		}
		if merged == nil {
			merged = cloneTree(o.Contents)
			continue
		}
		mergeContents(merged, o.Contents)
	}
	return merged
}

// OverrideKeys lists the keys defined by the override blocks naming
// identifier.
func (m *Model) OverrideKeys(identifier string) []string {
	return m.overrideKeys(identifier)
}

func (m *Model) overrideKeys(identifier string) []string {
	if m == nil {
		return nil
	}
	var lists [][]string
	for _, o := range m.overrides {
		if o.matches(identifier) {
			lists = append(lists, o.Keys)
		}
	}
	return UniqueKeys(lists...)
}

// Override returns the model as seen for identifier: the override block is
// applied atop the base tree, merging objects and replacing everything else.
func (m *Model) Override(identifier string) *Model {
	oc := m.overrideContents(identifier)
	if len(oc) == 0 {
		return m
	}
	contents := make(map[string]any, len(m.contents)+len(oc))
	for k, v := range m.contents {
		contents[k] = v
	}
	for k, ov := range oc {
		base, has := contents[k]
		bm, baseIsObj := base.(map[string]any)
		om, overrideIsObj := ov.(map[string]any)
		if has && baseIsObj && overrideIsObj {
			merged := cloneTree(bm)
			mergeContents(merged, om)
			contents[k] = merged
			continue
		}
		contents[k] = ov
	}
	return &Model{
		contents:  contents,
		keys:      UniqueKeys(m.keys, m.overrideKeys(identifier)),
		overrides: m.overrides,
	}
}

// Merge layers others atop m in order and returns the result. Later models
// win; objects deep-merge, other values replace.
func (m *Model) Merge(others ...*Model) *Model {
	if m == nil {
		m = Empty()
	}
	contents := cloneTree(m.contents)
	overrides := m.Overrides()
	keys := newKeySet(len(m.keys))
	keys.add(m.keys...)
	for _, other := range others {
		if other == nil {
			continue
		}
		mergeContents(contents, other.contents)
		for _, oo := range other.overrides {
			idx := slices.IndexFunc(overrides, func(o Override) bool {
				return slices.Equal(o.Identifiers, oo.Identifiers)
			})
			if idx < 0 {
				overrides = append(overrides, oo.clone())
				continue
			}
			mergeContents(overrides[idx].Contents, oo.Contents)
			overrides[idx].Keys = UniqueKeys(overrides[idx].Keys, oo.Keys)
		}
		keys.add(other.keys...)
	}
	return &Model{contents: contents, keys: keys.list, overrides: overrides}
}

// With returns a copy of m where key holds value. Keys nested under key are
// dropped because the new value replaces them.
func (m *Model) With(key string, value any) *Model {
	if m == nil {
		m = Empty()
	}
	contents := cloneTree(m.contents)
	SetInTree(contents, key, Clone(value))
	keys := dropShadowed(m.keys, key)
	return &Model{contents: contents, keys: keys, overrides: m.Overrides()}
}

// Without returns a copy of m with key and everything below it removed.
func (m *Model) Without(key string) *Model {
	if m == nil {
		return Empty()
	}
	contents := cloneTree(m.contents)
	RemoveFromTree(contents, key)
	keys := slices.DeleteFunc(slices.Clone(m.keys), func(k string) bool {
		return k == key || IsDescendant(k, key)
	})
	return &Model{contents: contents, keys: keys, overrides: m.Overrides()}
}

// WithOverride sets key inside the single-identifier block for identifier.
func (m *Model) WithOverride(identifier, key string, value any) *Model {
	if m == nil {
		m = Empty()
	}
	overrides := m.Overrides()
	idx := slices.IndexFunc(overrides, func(o Override) bool {
		return len(o.Identifiers) == 1 && o.Identifiers[0] == identifier
	})
	if idx < 0 {
		overrides = append(overrides, Override{Identifiers: []string{identifier}, Contents: make(map[string]any)})
		idx = len(overrides) - 1
	}
	SetInTree(overrides[idx].Contents, key, Clone(value))
	overrides[idx].Keys = dropShadowed(overrides[idx].Keys, key)
	return &Model{contents: cloneTree(m.contents), keys: slices.Clone(m.keys), overrides: overrides}
}

// WithoutOverride removes key from the single-identifier block for identifier.
func (m *Model) WithoutOverride(identifier, key string) *Model {
	if m == nil {
		return Empty()
	}
	overrides := m.Overrides()
	for i := range overrides {
		o := &overrides[i]
		if len(o.Identifiers) != 1 || o.Identifiers[0] != identifier {
			continue
		}
		RemoveFromTree(o.Contents, key)
		o.Keys = slices.DeleteFunc(o.Keys, func(k string) bool {
			return k == key || IsDescendant(k, key)
		})
	}
	overrides = slices.DeleteFunc(overrides, func(o Override) bool {
		return len(o.Keys) == 0 && len(o.Contents) == 0
	})
	return &Model{contents: cloneTree(m.contents), keys: slices.Clone(m.keys), overrides: overrides}
}

func dropShadowed(keys []string, key string) []string {
	out := slices.DeleteFunc(slices.Clone(keys), func(k string) bool {
		return IsDescendant(k, key)
	})
	if !slices.Contains(out, key) {
		out = append(out, key)
	}
	return out
}

// IsOverrideKey reports whether key names an override block, e.g. "[go]" or
// "[go][rust]".
func IsOverrideKey(key string) bool {
	return overrideKeyPattern.MatchString(key)
}

// OverrideIdentifiers extracts the identifiers from an override key.
func OverrideIdentifiers(key string) []string {
	matches := overrideSegmentPattern.FindAllStringSubmatch(key, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if id := strings.TrimSpace(m[1]); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// OverrideKey renders identifiers back into an override key.
func OverrideKey(identifiers ...string) string {
	var b strings.Builder
	for _, id := range identifiers {
		b.WriteString("[")
		b.WriteString(id)
		b.WriteString("]")
	}
	return b.String()
}

func sortedEntries(raw map[string]any) []Entry {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: k, Value: raw[k]})
	}
	return out
}
