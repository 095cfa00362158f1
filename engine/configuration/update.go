package configuration

import (
	"fmt"
	"maps"
	"slices"

	"github.com/compozy/strata/engine/change"
	"github.com/compozy/strata/engine/model"
	"github.com/compozy/strata/engine/workspace"
)

func (c *Configuration) valueFunc(o Overrides, ws *workspace.Workspace) change.ValueFunc {
	m := c.Consolidated(o, ws)
	return m.GetValue
}

// prune drops the keys whose effective value, seen through o, is the same in
// before and after. Override keys are checked under their own identifier.
func prune(diff model.Diff, before, after *Configuration, o Overrides, ws *workspace.Workspace) model.Diff {
	keep := func(keys []string, o Overrides) []string {
		b, a := before.Consolidated(o, ws), after.Consolidated(o, ws)
		var out []string
		for _, k := range keys {
			if !model.Equal(b.GetValue(k), a.GetValue(k)) {
				out = append(out, k)
			}
		}
		return out
	}
	out := model.Diff{
		Added:   keep(diff.Added, o),
		Updated: keep(diff.Updated, o),
		Removed: keep(diff.Removed, o),
	}
	for _, od := range diff.Overrides {
		qualified := Overrides{OverrideIdentifier: od.Identifier, Resource: o.Resource}
		if keys := keep(od.Keys, qualified); len(keys) > 0 {
			out.Overrides = append(out.Overrides, model.OverrideDiff{Identifier: od.Identifier, Keys: keys})
		}
	}
	return out
}

func (c *Configuration) replaceGlobal(
	current, next *model.Model,
	set func(*Configuration, *model.Model),
	target change.Target,
	ws *workspace.Workspace,
) (*Configuration, *change.Change) {
	next = orEmpty(next)
	diff := model.Compare(current, next)
	updated := c.clone()
	set(updated, next)
	pruned := prune(diff, c, updated, Overrides{}, ws)
	return updated, change.New(pruned, updated.valueFunc(Overrides{}, ws)).WithSource(target, nil)
}

// CompareAndUpdateDefaults replaces the default layer.
func (c *Configuration) CompareAndUpdateDefaults(m *model.Model, ws *workspace.Workspace) (*Configuration, *change.Change) {
	return c.replaceGlobal(c.defaults, m, func(n *Configuration, m *model.Model) { n.defaults = m }, change.TargetDefault, ws)
}

// CompareAndUpdateUser replaces the user layer. Keys whose effective value
// is unchanged, because a higher layer shadows them, are not reported.
func (c *Configuration) CompareAndUpdateUser(m *model.Model, ws *workspace.Workspace) (*Configuration, *change.Change) {
	return c.replaceGlobal(c.user, m, func(n *Configuration, m *model.Model) { n.user = m }, change.TargetUser, ws)
}

// CompareAndUpdateWorkspace replaces the workspace layer.
func (c *Configuration) CompareAndUpdateWorkspace(m *model.Model, ws *workspace.Workspace) (*Configuration, *change.Change) {
	return c.replaceGlobal(c.workspace, m, func(n *Configuration, m *model.Model) { n.workspace = m }, change.TargetWorkspace, ws)
}

// CompareAndUpdateFolder replaces the layer of a folder root. A folder with
// no previous layer reports every key of m. Resources that are not a folder
// root of ws yield ErrUnknownFolder.
func (c *Configuration) CompareAndUpdateFolder(folder workspace.Resource, m *model.Model, ws *workspace.Workspace) (*Configuration, *change.Change, error) {
	if f, ok := ws.GetFolder(folder); !ok || f.URI != folder {
		return c, nil, fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}
	m = orEmpty(m)
	current, existed := c.folders[folder]
	updated := c.clone()
	updated.folders[folder] = m

	diff := model.Compare(current, m)
	if existed {
		diff = prune(diff, c, updated, Overrides{Resource: folder}, ws)
	}
	ev := change.NewResource(folder, diff, updated.valueFunc(Overrides{Resource: folder}, ws))
	return updated, ev.WithSource(change.TargetWorkspaceFolder, folder), nil
}

// CompareAndDeleteFolder drops the layer of a folder root. The root folder
// keeps its layer and an empty change is returned. Folders that are neither
// stored nor in ws yield ErrUnknownFolder.
func (c *Configuration) CompareAndDeleteFolder(folder workspace.Resource, ws *workspace.Workspace) (*Configuration, *change.Change, error) {
	empty := change.Empty().WithSource(change.TargetWorkspaceFolder, folder)
	if ws.IsRoot(folder) {
		return c, empty, nil
	}
	current, ok := c.folders[folder]
	if !ok {
		if f, in := ws.GetFolder(folder); in && f.URI == folder {
			return c, empty, nil
		}
		return c, nil, fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}
	updated := c.clone()
	delete(updated.folders, folder)
	diff := model.Compare(current, nil)
	ev := change.NewResource(folder, diff, updated.valueFunc(Overrides{Resource: folder}, ws))
	return updated, ev.WithSource(change.TargetWorkspaceFolder, folder), nil
}

// CompareAndUpdateMemory writes key into the memory layer, or the memory
// layer of o.Resource when set. A nil value removes the key. An override
// identifier targets that override block.
func (c *Configuration) CompareAndUpdateMemory(key string, value any, o Overrides, ws *workspace.Workspace) (*Configuration, *change.Change) {
	current := c.memory
	if !o.Resource.IsZero() {
		current = orEmpty(c.memoryByResource[o.Resource])
	}
	var next *model.Model
	switch {
	case o.OverrideIdentifier != "" && value == nil:
		next = current.WithoutOverride(o.OverrideIdentifier, key)
	case o.OverrideIdentifier != "":
		next = current.WithOverride(o.OverrideIdentifier, key, model.Clone(value))
	case value == nil:
		next = current.Without(key)
	default:
		next = current.With(key, model.Clone(value))
	}

	updated := c.clone()
	view := Overrides{Resource: o.Resource}
	if o.Resource.IsZero() {
		updated.memory = next
	} else if next.IsEmpty() {
		delete(updated.memoryByResource, o.Resource)
	} else {
		updated.memoryByResource[o.Resource] = next
	}

	diff := prune(model.Compare(current, next), c, updated, view, ws)
	var ev *change.Change
	if o.Resource.IsZero() {
		ev = change.New(diff, updated.valueFunc(view, ws))
	} else {
		ev = change.NewResource(o.Resource, diff, updated.valueFunc(view, ws))
	}
	return updated, ev.WithSource(change.TargetMemory, nil)
}

// Diff is the difference between two snapshots. Overrides lists, per
// identifier, the keys whose value seen through that identifier changed.
type Diff struct {
	Added     []string
	Removed   []string
	Updated   []string
	Overrides []model.OverrideDiff
}

// Keys returns added, removed and updated keys in that order.
func (d Diff) Keys() []string {
	out := make([]string, 0, len(d.Added)+len(d.Removed)+len(d.Updated))
	out = append(out, d.Added...)
	out = append(out, d.Removed...)
	return append(out, d.Updated...)
}

func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0 && len(d.Overrides) == 0
}

// Compare diffs previous against c. A key counts as updated when its
// effective value differs globally or in any folder of ws. Keys of override
// blocks are compared under their identifier in the same views.
func (c *Configuration) Compare(previous *Configuration, ws *workspace.Workspace) Diff {
	if previous == nil {
		previous = Empty()
	}
	before := previous.AllKeys(ws)
	after := c.AllKeys(ws)
	beforeSet := make(map[string]struct{}, len(before))
	for _, k := range before {
		beforeSet[k] = struct{}{}
	}
	afterSet := make(map[string]struct{}, len(after))
	for _, k := range after {
		afterSet[k] = struct{}{}
	}

	views := []Overrides{{}}
	for _, f := range ws.Folders() {
		views = append(views, Overrides{Resource: f.URI})
	}
	changed := func(k, id string) bool {
		for _, v := range views {
			q := Overrides{OverrideIdentifier: id, Resource: v.Resource}
			if !model.Equal(previous.Consolidated(q, ws).GetValue(k), c.Consolidated(q, ws).GetValue(k)) {
				return true
			}
		}
		return false
	}

	var d Diff
	for _, k := range after {
		if _, ok := beforeSet[k]; !ok {
			d.Added = append(d.Added, k)
		}
	}
	for _, k := range before {
		if _, ok := afterSet[k]; !ok {
			d.Removed = append(d.Removed, k)
			continue
		}
		if changed(k, "") {
			d.Updated = append(d.Updated, k)
		}
	}

	layers := slices.Concat(previous.layers(ws), c.layers(ws))
	ids := make([][]string, 0, len(layers))
	for _, m := range layers {
		ids = append(ids, m.OverrideIdentifiers())
	}
	for _, id := range model.UniqueKeys(ids...) {
		lists := make([][]string, 0, len(layers))
		for _, m := range layers {
			lists = append(lists, m.OverrideKeys(id))
		}
		var keys []string
		for _, k := range model.UniqueKeys(lists...) {
			if changed(k, id) {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			d.Overrides = append(d.Overrides, model.OverrideDiff{Identifier: id, Keys: keys})
		}
	}
	return d
}

// layers lists every layer visible through ws, lowest precedence first.
func (c *Configuration) layers(ws *workspace.Workspace) []*model.Model {
	out := []*model.Model{c.defaults, c.user, c.workspace}
	for _, f := range ws.Folders() {
		if m, ok := c.folders[f.URI]; ok {
			out = append(out, m)
		}
	}
	out = append(out, c.memory)
	for _, r := range slices.Sorted(maps.Keys(c.memoryByResource)) {
		out = append(out, c.memoryByResource[r])
	}
	return out
}

// AllKeysChange reports every defined key as changed, with values read
// lazily from c.
func (c *Configuration) AllKeysChange(ws *workspace.Workspace, source change.Target, sourceConfig any) *change.AllKeysChange {
	return change.NewAllKeys(c.AllKeys(ws), c.valueFunc(Overrides{}, ws), source, sourceConfig)
}
