// Package change describes configuration change events: which keys changed,
// for which resource, and from which update source.
package change

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/compozy/strata/engine/model"
	"github.com/compozy/strata/engine/workspace"
)

// Target names the layer an update came from.
type Target int

const (
	TargetDefault Target = iota + 1
	TargetUser
	TargetWorkspace
	TargetWorkspaceFolder
	TargetMemory
)

func (t Target) String() string {
	switch t {
	case TargetDefault:
		return "default"
	case TargetUser:
		return "user"
	case TargetWorkspace:
		return "workspace"
	case TargetWorkspaceFolder:
		return "workspaceFolder"
	case TargetMemory:
		return "memory"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Event is what listeners receive after a layer replacement.
type Event interface {
	// ChangedConfiguration holds the new effective values of globally changed
	// keys. Removed keys are present with a nil value unless an added or
	// updated key covers the same path; AffectedKeys still lists them.
	ChangedConfiguration() *model.Model
	ChangedConfigurationByResource() map[workspace.Resource]*model.Model
	AffectedKeys() []string
	Source() Target
	SourceConfig() any
	// AffectsConfiguration reports whether key, one of its ancestors or one of
	// its descendants changed. A zero resource checks every resource.
	AffectsConfiguration(key string, resource workspace.Resource) bool
}

// ValueFunc returns the effective value of a key after the change.
type ValueFunc func(key string) any

type section struct {
	keys      []string
	overrides []model.OverrideDiff
	changed   *model.Model
}

func newSection(diff model.Diff, valueOf ValueFunc) section {
	keys := model.UniqueKeys(diff.Keys())
	present := model.UniqueKeys(diff.Added, diff.Updated)
	entries := make([]model.Entry, 0, len(keys))
	for _, k := range keys {
		if !slices.Contains(present, k) && overlaps(k, present) {
			continue
		}
		var v any
		if valueOf != nil {
			v = valueOf(k)
		}
		entries = append(entries, model.Entry{Key: k, Value: model.Clone(v)})
	}
	return section{
		keys:      keys,
		overrides: diff.Overrides,
		changed:   model.FromEntries(entries, nil),
	}
}

// overlaps reports whether key contains or sits under one of keys.
func overlaps(key string, keys []string) bool {
	for _, k := range keys {
		if model.IsDescendant(key, k) || model.IsDescendant(k, key) {
			return true
		}
	}
	return false
}

func (s section) merge(o section) section {
	return section{
		keys:      model.UniqueKeys(s.keys, o.keys),
		overrides: mergeOverrides(s.overrides, o.overrides),
		changed:   s.changed.Merge(o.changed),
	}
}

func (s section) isEmpty() bool {
	return len(s.keys) == 0 && len(s.overrides) == 0
}

func mergeOverrides(a, b []model.OverrideDiff) []model.OverrideDiff {
	var out []model.OverrideDiff
	index := map[string]int{}
	for _, d := range slices.Concat(a, b) {
		if i, ok := index[d.Identifier]; ok {
			out[i].Keys = model.UniqueKeys(out[i].Keys, d.Keys)
			continue
		}
		index[d.Identifier] = len(out)
		out = append(out, model.OverrideDiff{Identifier: d.Identifier, Keys: slices.Clone(d.Keys)})
	}
	return out
}

// Change is the event produced by a single compare-and-update. It is
// immutable; Merge and WithSource return new values.
type Change struct {
	global       section
	byResource   map[workspace.Resource]section
	source       Target
	sourceConfig any
}

var _ Event = (*Change)(nil)

// Empty returns a change with no keys.
func Empty() *Change {
	return &Change{global: section{changed: model.Empty()}}
}

// New builds a global change from a layer diff. valueOf supplies the new
// effective values.
func New(diff model.Diff, valueOf ValueFunc) *Change {
	return &Change{global: newSection(diff, valueOf)}
}

// NewResource builds a change scoped to one folder resource.
func NewResource(resource workspace.Resource, diff model.Diff, valueOf ValueFunc) *Change {
	c := Empty()
	s := newSection(diff, valueOf)
	if !s.isEmpty() {
		c.byResource = map[workspace.Resource]section{resource: s}
	}
	return c
}

func (c *Change) ChangedConfiguration() *model.Model {
	return c.global.changed
}

func (c *Change) ChangedConfigurationByResource() map[workspace.Resource]*model.Model {
	out := make(map[workspace.Resource]*model.Model, len(c.byResource))
	for r, s := range c.byResource {
		out[r] = s.changed
	}
	return out
}

// Resources lists the resources with resource-scoped changes, sorted.
func (c *Change) Resources() []workspace.Resource {
	return slices.Sorted(maps.Keys(c.byResource))
}

// AffectedKeys is the union of global and resource-scoped changed keys.
func (c *Change) AffectedKeys() []string {
	lists := [][]string{c.global.keys}
	for _, r := range c.Resources() {
		lists = append(lists, c.byResource[r].keys)
	}
	return model.UniqueKeys(lists...)
}

// Overrides lists override keys that changed, merged across resources.
func (c *Change) Overrides() []model.OverrideDiff {
	out := mergeOverrides(nil, c.global.overrides)
	for _, r := range c.Resources() {
		out = mergeOverrides(out, c.byResource[r].overrides)
	}
	return out
}

func (c *Change) Source() Target    { return c.source }
func (c *Change) SourceConfig() any { return c.sourceConfig }

func (c *Change) IsEmpty() bool {
	if !c.global.isEmpty() {
		return false
	}
	for _, s := range c.byResource {
		if !s.isEmpty() {
			return false
		}
	}
	return true
}

func (c *Change) AffectsConfiguration(key string, resource workspace.Resource) bool {
	if Affects(c.global.keys, key) {
		return true
	}
	if !resource.IsZero() {
		s, ok := c.byResource[resource]
		return ok && Affects(s.keys, key)
	}
	for _, s := range c.byResource {
		if Affects(s.keys, key) {
			return true
		}
	}
	return false
}

// AffectsOverride reports whether key changed for the override identifier,
// either in the base tree or inside a matching override block.
func (c *Change) AffectsOverride(key, identifier string) bool {
	if c.AffectsConfiguration(key, "") {
		return true
	}
	for _, d := range c.Overrides() {
		if d.Identifier == identifier && Affects(d.Keys, key) {
			return true
		}
	}
	return false
}

// Merge combines changes. Source and source config come from c.
func (c *Change) Merge(others ...*Change) *Change {
	out := &Change{
		global:       c.global,
		byResource:   maps.Clone(c.byResource),
		source:       c.source,
		sourceConfig: c.sourceConfig,
	}
	for _, o := range others {
		if o == nil {
			continue
		}
		out.global = out.global.merge(o.global)
		for r, s := range o.byResource {
			if out.byResource == nil {
				out.byResource = make(map[workspace.Resource]section)
			}
			if prev, ok := out.byResource[r]; ok {
				s = prev.merge(s)
			}
			out.byResource[r] = s
		}
	}
	return out
}

// WithSource returns a copy tagged with its origin.
func (c *Change) WithSource(target Target, sourceConfig any) *Change {
	out := *c
	out.source = target
	out.sourceConfig = sourceConfig
	return &out
}

// Affects reports whether key is in keys, or is an ancestor or descendant of
// one of them on dotted segments.
func Affects(keys []string, key string) bool {
	for _, k := range keys {
		if k == key || model.IsDescendant(k, key) || model.IsDescendant(key, k) {
			return true
		}
	}
	return false
}

// AllKeysChange reports every key as changed. Used on a full reload.
type AllKeysChange struct {
	keys         []string
	valueOf      ValueFunc
	source       Target
	sourceConfig any

	once    sync.Once
	changed *model.Model
}

var _ Event = (*AllKeysChange)(nil)

func NewAllKeys(keys []string, valueOf ValueFunc, source Target, sourceConfig any) *AllKeysChange {
	return &AllKeysChange{
		keys:         model.UniqueKeys(keys),
		valueOf:      valueOf,
		source:       source,
		sourceConfig: sourceConfig,
	}
}

// ChangedConfiguration is built on first use.
func (a *AllKeysChange) ChangedConfiguration() *model.Model {
	a.once.Do(func() {
		a.changed = newSection(model.Diff{Updated: a.keys}, a.valueOf).changed
	})
	return a.changed
}

func (a *AllKeysChange) ChangedConfigurationByResource() map[workspace.Resource]*model.Model {
	return map[workspace.Resource]*model.Model{}
}

func (a *AllKeysChange) AffectedKeys() []string { return slices.Clone(a.keys) }
func (a *AllKeysChange) Source() Target         { return a.source }
func (a *AllKeysChange) SourceConfig() any      { return a.sourceConfig }

func (a *AllKeysChange) AffectsConfiguration(key string, _ workspace.Resource) bool {
	return Affects(a.keys, key)
}

// WorkspaceChange widens a base event to resources inside folders: a change
// recorded for a folder root affects every resource under it.
type WorkspaceChange struct {
	Event
	ws *workspace.Workspace
}

func NewWorkspaceChange(base Event, ws *workspace.Workspace) *WorkspaceChange {
	return &WorkspaceChange{Event: base, ws: ws}
}

func (w *WorkspaceChange) AffectsConfiguration(key string, resource workspace.Resource) bool {
	if w.Event.AffectsConfiguration(key, resource) {
		return true
	}
	if resource.IsZero() {
		return false
	}
	folder, ok := w.ws.GetFolder(resource)
	if !ok || folder.URI == resource {
		return false
	}
	return w.Event.AffectsConfiguration(key, folder.URI)
}
