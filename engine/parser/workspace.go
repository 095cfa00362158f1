package parser

import (
	"path"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/compozy/strata/engine/model"
	"github.com/compozy/strata/engine/schema"
	"github.com/compozy/strata/engine/workspace"
)

// StoredFolder is a folder entry as written in a workspace file. Either Path
// or URI is set; nothing here checks that. Raw holds the whole entry,
// including members this package does not interpret.
type StoredFolder struct {
	Path string
	URI  string
	Name string
	Raw  map[string]any
}

// Resource resolves the entry against the directory holding the workspace
// file. Relative paths are joined onto base.
func (f StoredFolder) Resource(base workspace.Resource) (workspace.Resource, error) {
	if f.URI != "" {
		return workspace.ParseResource(f.URI)
	}
	if path.IsAbs(f.Path) {
		return workspace.FileResource(f.Path), nil
	}
	if base.IsZero() {
		return "", workspace.ErrInvalidResource
	}
	return base.Join(f.Path), nil
}

// WorkspaceParser parses a workspace file: its folders list, its settings
// block (filtered with workspace scopes) and its launch and tasks blocks.
type WorkspaceParser struct {
	name     string
	settings *Parser
	launch   *Parser
	tasks    *Parser
	folders  []StoredFolder
	errs     []error
}

func NewWorkspaceParser(name string, props PropertyLookup, opts ...Option) *WorkspaceParser {
	return &WorkspaceParser{
		name:     name,
		settings: New(name, FolderPolicy(props, schema.WorkspaceScopes...), opts...),
		launch:   New(name+"#launch", StandalonePolicy("launch"), opts...),
		tasks:    New(name+"#tasks", StandalonePolicy("tasks"), opts...),
	}
}

// Parse reads the workspace file. On malformed content the settings, launch
// and tasks models become empty while Folders keeps the last good list.
func (w *WorkspaceParser) Parse(data []byte) error {
	w.errs = nil
	result, ok, err := parseObject(data)
	if err != nil {
		w.errs = append(w.errs, err)
		w.settings.fail(err)
		w.parseBlock(w.launch, gjson.Result{})
		w.parseBlock(w.tasks, gjson.Result{})
		return err
	}
	if !ok {
		w.folders = nil
		w.parseBlock(w.settings, gjson.Result{})
		w.parseBlock(w.launch, gjson.Result{})
		w.parseBlock(w.tasks, gjson.Result{})
		return nil
	}
	w.folders = readFolders(result.Get("folders"))
	w.parseBlock(w.settings, result.Get("settings"))
	w.parseBlock(w.launch, result.Get("launch"))
	w.parseBlock(w.tasks, result.Get("tasks"))
	return nil
}

func (w *WorkspaceParser) parseBlock(p *Parser, block gjson.Result) {
	p.errs = nil
	if !block.IsObject() {
		p.raw = nil
		p.process()
		return
	}
	p.parseResult(block)
}

func readFolders(list gjson.Result) []StoredFolder {
	var out []StoredFolder
	list.ForEach(func(_, v gjson.Result) bool {
		f := StoredFolder{
			Path: v.Get("path").String(),
			URI:  v.Get("uri").String(),
			Name: v.Get("name").String(),
		}
		if raw, ok := v.Value().(map[string]any); ok {
			f.Raw = raw
		}
		out = append(out, f)
		return true
	})
	return out
}

func (w *WorkspaceParser) Name() string { return w.name }

func (w *WorkspaceParser) Folders() []StoredFolder {
	out := slices.Clone(w.folders)
	for i := range out {
		if out[i].Raw != nil {
			out[i].Raw = model.Clone(out[i].Raw).(map[string]any)
		}
	}
	return out
}

func (w *WorkspaceParser) SettingsModel() *SettingsModel {
	return w.settings.Model()
}

func (w *WorkspaceParser) LaunchModel() *model.Model {
	return w.launch.Model().Model
}

func (w *WorkspaceParser) TasksModel() *model.Model {
	return w.tasks.Model().Model
}

// Model is the workspace layer: settings merged with launch and tasks.
func (w *WorkspaceParser) Model() *model.Model {
	return w.SettingsModel().Merge(w.LaunchModel(), w.TasksModel())
}

// ReprocessWorkspaceSettings re-applies the settings policy, typically after
// the schema registry changed.
func (w *WorkspaceParser) ReprocessWorkspaceSettings() {
	w.settings.Reprocess()
}

func (w *WorkspaceParser) Errors() []error {
	return slices.Clone(w.errs)
}

func (w *WorkspaceParser) Conflicts() []string {
	out := w.settings.Conflicts()
	out = append(out, w.launch.Conflicts()...)
	return append(out, w.tasks.Conflicts()...)
}
