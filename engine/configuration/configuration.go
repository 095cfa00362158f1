// Package configuration merges the configuration layers into effective
// values and computes minimal change events when a layer is replaced.
//
// A Configuration is an immutable snapshot. Every CompareAndUpdate operation
// returns a new snapshot together with the event describing the difference;
// the receiver is left untouched, so readers holding the old snapshot never
// observe a partial update. Callers serialize writers.
//
// Precedence, lowest first: defaults, user, workspace, the folder owning the
// queried resource, memory, memory for the queried resource.
package configuration

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/go-viper/mapstructure/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/compozy/strata/engine/model"
	"github.com/compozy/strata/engine/workspace"
)

// ErrUnknownFolder is returned when updating the layer of a resource that is
// not a workspace folder root, or deleting one that is neither stored nor
// part of the workspace.
var ErrUnknownFolder = errors.New("unknown workspace folder")

const consolidatedCacheSize = 128

// Overrides qualifies a lookup.
type Overrides struct {
	OverrideIdentifier string
	Resource           workspace.Resource
}

// Inspection is the per-layer breakdown of one key. A nil field means the
// layer does not define the key.
type Inspection struct {
	Key             string
	Default         any
	User            any
	Workspace       any
	WorkspaceFolder any
	Memory          any
	Value           any
}

// LayerKeys lists the keys each layer defines, unmerged.
type LayerKeys struct {
	Default         []string
	User            []string
	Workspace       []string
	WorkspaceFolder []string
	Memory          []string
}

type cacheKey struct {
	folder     workspace.Resource
	resource   workspace.Resource
	identifier string
}

type Configuration struct {
	defaults         *model.Model
	user             *model.Model
	workspace        *model.Model
	memory           *model.Model
	folders          map[workspace.Resource]*model.Model
	memoryByResource map[workspace.Resource]*model.Model

	consolidated *lru.Cache[cacheKey, *model.Model]
}

// New builds a snapshot from the three file-backed global layers. Nil models
// are treated as empty.
func New(defaults, user, ws *model.Model) *Configuration {
	return newConfiguration(&Configuration{
		defaults:  orEmpty(defaults),
		user:      orEmpty(user),
		workspace: orEmpty(ws),
		memory:    model.Empty(),
	})
}

func Empty() *Configuration {
	return New(nil, nil, nil)
}

func newConfiguration(c *Configuration) *Configuration {
	cache, err := lru.New[cacheKey, *model.Model](consolidatedCacheSize)
	if err != nil {
		panic(fmt.Sprintf("consolidated cache: %v", err))
	}
	c.consolidated = cache
	if c.folders == nil {
		c.folders = make(map[workspace.Resource]*model.Model)
	}
	if c.memoryByResource == nil {
		c.memoryByResource = make(map[workspace.Resource]*model.Model)
	}
	return c
}

func orEmpty(m *model.Model) *model.Model {
	if m == nil {
		return model.Empty()
	}
	return m
}

// clone copies the layer references into a fresh snapshot with an empty cache.
func (c *Configuration) clone() *Configuration {
	return newConfiguration(&Configuration{
		defaults:         c.defaults,
		user:             c.user,
		workspace:        c.workspace,
		memory:           c.memory,
		folders:          maps.Clone(c.folders),
		memoryByResource: maps.Clone(c.memoryByResource),
	})
}

func (c *Configuration) Defaults() *model.Model  { return c.defaults }
func (c *Configuration) User() *model.Model      { return c.user }
func (c *Configuration) Workspace() *model.Model { return c.workspace }
func (c *Configuration) Memory() *model.Model    { return c.memory }

// Folder returns the stored layer for a folder root.
func (c *Configuration) Folder(folder workspace.Resource) (*model.Model, bool) {
	m, ok := c.folders[folder]
	return m, ok
}

// Folders lists the folder roots with a stored layer, sorted.
func (c *Configuration) Folders() []workspace.Resource {
	return slices.Sorted(maps.Keys(c.folders))
}

func (c *Configuration) folderModel(resource workspace.Resource, ws *workspace.Workspace) (workspace.Resource, *model.Model) {
	if resource.IsZero() {
		return "", nil
	}
	f, ok := ws.GetFolder(resource)
	if !ok {
		return "", nil
	}
	return f.URI, c.folders[f.URI]
}

func (c *Configuration) memoryModel(o Overrides) *model.Model {
	if o.Resource.IsZero() {
		return c.memory.Override(o.OverrideIdentifier)
	}
	if m, ok := c.memoryByResource[o.Resource]; ok {
		return c.memory.Merge(m).Override(o.OverrideIdentifier)
	}
	return c.memory.Override(o.OverrideIdentifier)
}

// Consolidated returns the merged model for o. Results are cached per
// snapshot and must not be modified.
func (c *Configuration) Consolidated(o Overrides, ws *workspace.Workspace) *model.Model {
	folder, folderModel := c.folderModel(o.Resource, ws)
	key := cacheKey{folder: folder, identifier: o.OverrideIdentifier}
	if _, ok := c.memoryByResource[o.Resource]; ok {
		key.resource = o.Resource
	}
	if m, ok := c.consolidated.Get(key); ok {
		return m
	}
	id := o.OverrideIdentifier
	layers := []*model.Model{c.user.Override(id), c.workspace.Override(id)}
	if folderModel != nil {
		layers = append(layers, folderModel.Override(id))
	}
	layers = append(layers, c.memory.Override(id))
	if key.resource != "" {
		layers = append(layers, c.memoryByResource[key.resource].Override(id))
	}
	merged := c.defaults.Override(id).Merge(layers...)
	c.consolidated.Add(key, merged)
	return merged
}

// GetValue returns a copy of the effective value of section. An empty section
// returns the whole tree.
func (c *Configuration) GetValue(section string, o Overrides, ws *workspace.Workspace) any {
	return model.Clone(c.Consolidated(o, ws).GetValue(section))
}

// GetSection returns the effective sub-tree at section, or nil when the
// section is missing or not an object.
func (c *Configuration) GetSection(section string, o Overrides, ws *workspace.Workspace) map[string]any {
	m, _ := c.GetValue(section, o, ws).(map[string]any)
	return m
}

// Decode decodes the effective section into out using mapstructure.
func (c *Configuration) Decode(section string, o Overrides, ws *workspace.Workspace, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(c.GetValue(section, o, ws)); err != nil {
		return fmt.Errorf("failed to decode %q: %w", section, err)
	}
	return nil
}

// Lookup reports what each layer contributes to key, using the same
// precedence as GetValue.
func (c *Configuration) Lookup(key string, o Overrides, ws *workspace.Workspace) Inspection {
	id := o.OverrideIdentifier
	in := Inspection{
		Key:       key,
		Default:   model.Clone(c.defaults.Override(id).GetValue(key)),
		User:      model.Clone(c.user.Override(id).GetValue(key)),
		Workspace: model.Clone(c.workspace.Override(id).GetValue(key)),
		Memory:    model.Clone(c.memoryModel(o).GetValue(key)),
		Value:     c.GetValue(key, o, ws),
	}
	if _, fm := c.folderModel(o.Resource, ws); fm != nil {
		in.WorkspaceFolder = model.Clone(fm.Override(id).GetValue(key))
	}
	return in
}

// Keys lists the keys each layer defines. The folder entry is the layer of
// the folder owning resource.
func (c *Configuration) Keys(resource workspace.Resource, ws *workspace.Workspace) LayerKeys {
	lk := LayerKeys{
		Default:   c.defaults.Keys(),
		User:      c.user.Keys(),
		Workspace: c.workspace.Keys(),
		Memory:    c.memory.Keys(),
	}
	if _, fm := c.folderModel(resource, ws); fm != nil {
		lk.WorkspaceFolder = fm.Keys()
	}
	return lk
}

// AllKeys is the union of keys across every layer. Folder layers are
// visited in workspace order.
func (c *Configuration) AllKeys(ws *workspace.Workspace) []string {
	lists := [][]string{c.defaults.Keys(), c.user.Keys(), c.workspace.Keys()}
	for _, f := range ws.Folders() {
		if m, ok := c.folders[f.URI]; ok {
			lists = append(lists, m.Keys())
		}
	}
	lists = append(lists, c.memory.Keys())
	for _, r := range slices.Sorted(maps.Keys(c.memoryByResource)) {
		lists = append(lists, c.memoryByResource[r].Keys())
	}
	return model.UniqueKeys(lists...)
}
