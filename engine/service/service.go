// Package service hosts a live configuration: it reads layer files, keeps
// one parser per layer, swaps the current snapshot atomically after each
// layer replacement and fans the resulting change events out to listeners.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	"github.com/romdo/go-debounce"
	"github.com/spf13/afero"

	"github.com/compozy/strata/engine/change"
	"github.com/compozy/strata/engine/configuration"
	"github.com/compozy/strata/engine/model"
	"github.com/compozy/strata/engine/parser"
	"github.com/compozy/strata/engine/schema"
	"github.com/compozy/strata/engine/workspace"
	"github.com/compozy/strata/pkg/config"
	"github.com/compozy/strata/pkg/logger"
)

// Layout locates the layer files.
type Layout struct {
	// DefaultsFile declares settings: type, default, scope, executable.
	DefaultsFile  string
	UserFile      string
	WorkspaceFile string
	// Folders is used when WorkspaceFile is empty. The first is the root.
	// Entries may be glob patterns.
	Folders []string
	// FolderSettings is the settings file inside each folder.
	FolderSettings string
	// Standalone maps a scope to a file inside each folder whose content is
	// namespaced under that scope, e.g. "tasks" -> ".vscode/tasks.json".
	Standalone map[string]string
}

// DefaultLayout holds the per-folder file names used when a Layout leaves
// them empty.
func DefaultLayout() Layout {
	d := config.Default().Settings
	return Layout{FolderSettings: d.FolderSettings, Standalone: d.Standalone}
}

// LayoutFromConfig maps the tool configuration onto a Layout.
func LayoutFromConfig(cfg *config.Config) Layout {
	s := cfg.Settings
	return Layout{
		DefaultsFile:   s.DefaultsFile,
		UserFile:       s.UserFile,
		WorkspaceFile:  s.WorkspaceFile,
		Folders:        s.Folders,
		FolderSettings: s.FolderSettings,
		Standalone:     s.Standalone,
	}
}

// Listener receives every non-empty change event.
type Listener func(change.Event)

// Snapshot pairs a configuration with the topology it was built for.
type Snapshot struct {
	Configuration *configuration.Configuration
	Workspace     *workspace.Workspace
}

func (s *Snapshot) GetValue(key string, o configuration.Overrides) any {
	return s.Configuration.GetValue(key, o, s.Workspace)
}

func (s *Snapshot) Lookup(key string, o configuration.Overrides) configuration.Inspection {
	return s.Configuration.Lookup(key, o, s.Workspace)
}

func (s *Snapshot) Keys(resource workspace.Resource) configuration.LayerKeys {
	return s.Configuration.Keys(resource, s.Workspace)
}

func (s *Snapshot) AllKeys() []string {
	return s.Configuration.AllKeys(s.Workspace)
}

type Option func(*Service)

// WithFs sets the filesystem layer files are read from.
func WithFs(fs afero.Fs) Option {
	return func(s *Service) { s.fs = fs }
}

// WithRegistry shares a schema registry with the caller.
func WithRegistry(r *schema.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithLogger overrides the logger taken from the context.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithLookupCacheSize bounds the resource to folder cache.
func WithLookupCacheSize(n int) Option {
	return func(s *Service) { s.lookupSize = n }
}

// WithDebounce sets how long file events are coalesced before a reload.
func WithDebounce(wait, maxWait time.Duration) Option {
	return func(s *Service) {
		s.debounceWait = wait
		s.maxWait = maxWait
	}
}

// Service is safe for concurrent use. Reads go through Current; layer
// replacements are serialized.
type Service struct {
	fs           afero.Fs
	layout       Layout
	registry     *schema.Registry
	log          logger.Logger
	lookupSize   int
	debounceWait time.Duration
	maxWait      time.Duration

	mu            sync.Mutex
	current       atomic.Pointer[Snapshot]
	user          *parser.Parser
	workspaceFile *parser.WorkspaceParser
	folders       map[workspace.Resource]*folderLayer
	schemaKeys    []string

	listenersMu sync.RWMutex
	listeners   []Listener

	schemaChanged       func()
	cancelSchemaChanged func()

	watchMu     sync.Mutex
	watcher     *config.Watcher
	watchCtx    context.Context
	watchCancel context.CancelFunc
	watched     map[string]watchEntry
	closeOnce   sync.Once
}

// New creates a service for layout. Nothing is read until Load.
func New(ctx context.Context, layout Layout, opts ...Option) *Service {
	if err := mergo.Merge(&layout, DefaultLayout()); err != nil {
		logger.FromContext(ctx).Warn("failed to apply default layout", "error", err)
	}
	s := &Service{
		fs:           afero.NewOsFs(),
		layout:       layout,
		log:          logger.FromContext(ctx),
		lookupSize:   config.Default().Cache.FolderLookupSize,
		debounceWait: config.Default().Watch.Debounce,
		maxWait:      config.Default().Watch.MaxWait,
		folders:      make(map[workspace.Resource]*folderLayer),
		watched:      make(map[string]watchEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = schema.NewRegistry()
	}
	popts := []parser.Option{parser.WithLogger(s.log)}
	s.user = parser.New("user", parser.Unfiltered(), popts...)
	s.workspaceFile = parser.NewWorkspaceParser("workspace", s.registry, popts...)
	s.current.Store(&Snapshot{Configuration: configuration.Empty()})

	s.schemaChanged, s.cancelSchemaChanged = debounce.NewWithMaxWait(s.debounceWait, s.maxWait, func() {
		if _, err := s.ReprocessSettings(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("failed to reprocess settings", "error", err)
		}
	})
	s.registry.OnChange(func([]string) { s.schemaChanged() })
	return s
}

// Current returns the latest snapshot.
func (s *Service) Current() *Snapshot {
	return s.current.Load()
}

func (s *Service) Registry() *schema.Registry {
	return s.registry
}

func (s *Service) Layout() Layout {
	return s.layout
}

// OnChange registers a listener.
func (s *Service) OnChange(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// publish swaps in the new snapshot and notifies listeners when ev is not
// empty. The caller holds s.mu.
func (s *Service) publish(cfg *configuration.Configuration, ws *workspace.Workspace, ev *change.Change) change.Event {
	s.current.Store(&Snapshot{Configuration: cfg, Workspace: ws})
	wrapped := change.NewWorkspaceChange(ev, ws)
	if !ev.IsEmpty() {
		s.notify(wrapped)
	}
	return wrapped
}

func (s *Service) notify(ev change.Event) {
	s.listenersMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		if l != nil {
			l(ev)
		}
	}
}

// UpdateMemory writes an in-memory value. A nil value removes the key.
func (s *Service) UpdateMemory(key string, value any, o configuration.Overrides) change.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.Current()
	cfg, ev := snap.Configuration.CompareAndUpdateMemory(key, value, o, snap.Workspace)
	return s.publish(cfg, snap.Workspace, ev)
}

func (s *Service) conflictReporter(layer string) model.ConflictReporter {
	return func(msg string) {
		s.log.Error("conflict in settings file", "layer", layer, "detail", msg)
	}
}
