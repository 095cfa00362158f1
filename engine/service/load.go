package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/compozy/strata/engine/change"
	"github.com/compozy/strata/engine/configuration"
	"github.com/compozy/strata/engine/model"
	"github.com/compozy/strata/engine/parser"
	"github.com/compozy/strata/engine/schema"
	"github.com/compozy/strata/engine/workspace"
)

// folderMode reports whether the workspace is opened from a folder list
// rather than a workspace file. The root folder's settings are then the
// workspace layer too.
func (s *Service) folderMode() bool {
	return s.layout.WorkspaceFile == ""
}

func (s *Service) workspacePath() (string, error) {
	abs, err := filepath.Abs(s.layout.WorkspaceFile)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace file: %w", err)
	}
	return abs, nil
}

// Load reads every layer and replaces the current snapshot. Memory values are
// discarded. The returned event reports every defined key.
func (s *Service) Load(ctx context.Context) (change.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.loadSchema(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.parseFile(ctx, s.user, s.layout.UserFile); err != nil {
		return nil, err
	}
	ws, err := s.resolveWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	layers := make([]*folderLayer, 0, len(ws.Folders()))
	for _, f := range ws.Folders() {
		layers = append(layers, s.newFolderLayer(f, s.folderPolicy(f, ws)))
	}
	if err := s.loadFolders(ctx, layers); err != nil {
		return nil, err
	}
	s.folders = make(map[workspace.Resource]*folderLayer, len(layers))
	for _, fl := range layers {
		s.folders[fl.folder.URI] = fl
	}

	cfg := configuration.New(s.defaultsModel(), s.user.Model().Model, s.workspaceModel(ws))
	for _, f := range ws.Folders() {
		if cfg, _, err = cfg.CompareAndUpdateFolder(f.URI, s.folders[f.URI].model(), ws); err != nil {
			return nil, err
		}
	}
	s.current.Store(&Snapshot{Configuration: cfg, Workspace: ws})
	s.log.Info("configuration loaded", "workspace", ws.ID(), "folders", len(ws.Folders()))

	ev := change.NewWorkspaceChange(cfg.AllKeysChange(ws, change.TargetDefault, nil), ws)
	s.notify(ev)
	if err := s.rewatch(); err != nil {
		return ev, err
	}
	return ev, nil
}

// ReloadDefaults rereads the defaults file into the registry and updates
// the default layer. Settings filtered by the schema are reprocessed.
func (s *Service) ReloadDefaults(ctx context.Context) (change.Event, error) {
	if err := s.loadSchema(ctx); err != nil {
		return nil, err
	}
	return s.ReprocessSettings(ctx)
}

// ReloadUser rereads the user settings file.
func (s *Service) ReloadUser(ctx context.Context) (change.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.parseFile(ctx, s.user, s.layout.UserFile); err != nil {
		return nil, err
	}
	snap := s.Current()
	cfg, ev := snap.Configuration.CompareAndUpdateUser(s.user.Model().Model, snap.Workspace)
	return s.publish(cfg, snap.Workspace, ev), nil
}

// ReloadWorkspace rereads the workspace file. Folders removed from it lose
// their layer, new folders are read and the workspace layer is replaced. In
// folder mode the root folder is reloaded instead.
func (s *Service) ReloadWorkspace(ctx context.Context) (change.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.folderMode() {
		root, ok := s.Current().Workspace.Root()
		if !ok {
			snap := s.Current()
			return change.NewWorkspaceChange(change.Empty().WithSource(change.TargetWorkspace, nil), snap.Workspace), nil
		}
		return s.ReloadFolder(ctx, root.URI)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.Current()
	ws, err := s.resolveWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	cfg := snap.Configuration
	keep := make(map[workspace.Resource]struct{}, len(ws.Folders()))
	for _, f := range ws.Folders() {
		keep[f.URI] = struct{}{}
	}

	var folderEvents []*change.Change
	for _, f := range snap.Workspace.Folders() {
		if _, ok := keep[f.URI]; ok {
			continue
		}
		next, ev, err := cfg.CompareAndDeleteFolder(f.URI, ws)
		if err != nil {
			return nil, err
		}
		cfg = next
		folderEvents = append(folderEvents, ev)
		delete(s.folders, f.URI)
	}
	var added []*folderLayer
	for _, f := range ws.Folders() {
		if fl, ok := s.folders[f.URI]; ok {
			fl.folder = f
			continue
		}
		added = append(added, s.newFolderLayer(f, s.folderPolicy(f, ws)))
	}
	if err := s.loadFolders(ctx, added); err != nil {
		return nil, err
	}
	for _, fl := range added {
		s.folders[fl.folder.URI] = fl
		var ev *change.Change
		if cfg, ev, err = cfg.CompareAndUpdateFolder(fl.folder.URI, fl.model(), ws); err != nil {
			return nil, err
		}
		folderEvents = append(folderEvents, ev)
	}
	cfg, ev := cfg.CompareAndUpdateWorkspace(s.workspaceFile.Model(), ws)
	out := s.publish(cfg, ws, ev.Merge(folderEvents...))
	if err := s.rewatch(); err != nil {
		return out, err
	}
	return out, nil
}

// ReloadFolder rereads the files of one workspace folder. Folders outside
// the current workspace yield configuration.ErrUnknownFolder.
func (s *Service) ReloadFolder(ctx context.Context, folder workspace.Resource) (change.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fl, ok := s.folders[folder]
	if !ok {
		return nil, fmt.Errorf("%w: %s", configuration.ErrUnknownFolder, folder)
	}
	if err := s.loadFolder(ctx, fl); err != nil {
		return nil, err
	}
	snap := s.Current()
	ws := snap.Workspace
	cfg, ev, err := snap.Configuration.CompareAndUpdateFolder(folder, fl.model(), ws)
	if err != nil {
		return nil, err
	}
	if s.folderMode() && ws.IsRoot(folder) {
		var wev *change.Change
		cfg, wev = cfg.CompareAndUpdateWorkspace(fl.model(), ws)
		ev = ev.Merge(wev)
	}
	return s.publish(cfg, ws, ev), nil
}

// ReprocessSettings reapplies the schema: the default layer is rebuilt from
// the registry and every settings parser refilters its raw content.
func (s *Service) ReprocessSettings(ctx context.Context) (change.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.Current()
	ws := snap.Workspace

	cfg, ev := snap.Configuration.CompareAndUpdateDefaults(s.defaultsModel(), ws)
	s.workspaceFile.ReprocessWorkspaceSettings()
	for _, fl := range s.folders {
		fl.reprocess()
	}
	var wev *change.Change
	cfg, wev = cfg.CompareAndUpdateWorkspace(s.workspaceModel(ws), ws)
	events := []*change.Change{wev}
	for _, f := range ws.Folders() {
		fl, ok := s.folders[f.URI]
		if !ok {
			continue
		}
		var (
			fev *change.Change
			err error
		)
		if cfg, fev, err = cfg.CompareAndUpdateFolder(f.URI, fl.model(), ws); err != nil {
			return nil, err
		}
		events = append(events, fev)
	}
	return s.publish(cfg, ws, ev.Merge(events...)), nil
}

func (s *Service) defaultsModel() *model.Model {
	return s.registry.DefaultsModel(s.conflictReporter("defaults"))
}

func (s *Service) workspaceModel(ws *workspace.Workspace) *model.Model {
	if !s.folderMode() {
		return s.workspaceFile.Model()
	}
	root, ok := ws.Root()
	if !ok {
		return model.Empty()
	}
	fl, ok := s.folders[root.URI]
	if !ok {
		return model.Empty()
	}
	return fl.model()
}

// folderPolicy filters folder settings by scope. The root folder in folder
// mode also accepts window scoped settings.
func (s *Service) folderPolicy(f workspace.Folder, ws *workspace.Workspace) parser.Policy {
	if s.folderMode() && ws.IsRoot(f.URI) {
		return parser.FolderPolicy(s.registry, schema.WorkspaceScopes...)
	}
	return parser.FolderPolicy(s.registry, schema.FolderScopes...)
}

// resolveWorkspace builds the folder topology from the workspace file or the
// configured folder list.
func (s *Service) resolveWorkspace(ctx context.Context) (*workspace.Workspace, error) {
	opt := workspace.WithLookupCacheSize(s.lookupSize)
	if s.folderMode() {
		folders, err := s.resolveFolders(s.layout.Folders)
		if err != nil {
			return nil, err
		}
		id := ""
		if len(folders) > 0 {
			id = folders[0].URI.String()
		}
		return workspace.New(id, folders, opt)
	}

	abs, err := s.workspacePath()
	if err != nil {
		return nil, err
	}
	data, err := s.readLayer(ctx, abs)
	if err != nil {
		return nil, err
	}
	_ = s.workspaceFile.Parse(data)

	base := workspace.FileResource(filepath.Dir(abs))
	seen := make(map[workspace.Resource]struct{})
	var folders []workspace.Folder
	for _, sf := range s.workspaceFile.Folders() {
		r, err := sf.Resource(base)
		if err != nil {
			s.log.Warn("skipping workspace folder", "path", sf.Path, "uri", sf.URI, "error", err)
			continue
		}
		if _, dup := seen[r]; dup {
			s.log.Debug("skipping duplicate workspace folder", "uri", r)
			continue
		}
		seen[r] = struct{}{}
		folders = append(folders, workspace.Folder{URI: r, Name: sf.Name})
	}
	return workspace.New(workspace.FileResource(abs).String(), folders, opt)
}

// loadSchema reads the defaults file into the registry. Settings the file no
// longer declares are deregistered. Malformed or invalid files leave the
// registry as is.
func (s *Service) loadSchema(ctx context.Context) error {
	data, err := s.readLayer(ctx, s.layout.DefaultsFile)
	if err != nil {
		return err
	}
	props, err := parseSchemaFile(data)
	if err != nil {
		s.log.Error("failed to parse defaults file", "path", s.layout.DefaultsFile, "error", err)
		return nil
	}

	s.mu.Lock()
	previous := s.schemaKeys
	s.mu.Unlock()

	if len(props) > 0 {
		if err := s.registry.Register(props); err != nil {
			s.log.Error("failed to register defaults", "path", s.layout.DefaultsFile, "error", err)
			return nil
		}
	}
	var dropped []string
	for _, k := range previous {
		if _, ok := props[k]; !ok {
			dropped = append(dropped, k)
		}
	}
	if len(dropped) > 0 {
		s.registry.Deregister(dropped...)
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	s.mu.Lock()
	s.schemaKeys = keys
	s.mu.Unlock()
	return nil
}
