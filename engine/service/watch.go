package service

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/romdo/go-debounce"

	"github.com/compozy/strata/engine/configuration"
	"github.com/compozy/strata/pkg/config"
)

type watchEntry struct {
	cancel     context.CancelFunc
	stopReload func()
}

// Watch reloads layers when their files change until ctx is done or Close is
// called. Events for one file are coalesced using the debounce settings.
func (s *Service) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	if s.watcher != nil {
		s.watchMu.Unlock()
		return nil
	}
	w, err := config.NewWatcher(s.log)
	if err != nil {
		s.watchMu.Unlock()
		return err
	}
	s.watcher = w
	s.watchCtx, s.watchCancel = context.WithCancel(ctx)
	s.watchMu.Unlock()

	go func() {
		<-s.watchCtx.Done()
		s.stopWatching()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewatch()
}

// watchTargets maps each layer file to the reload it triggers. The caller
// holds s.mu.
func (s *Service) watchTargets() map[string]func(context.Context) error {
	targets := make(map[string]func(context.Context) error)
	add := func(path string, reload func(context.Context) error) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			s.log.Debug("skipping watch target", "path", path, "error", err)
			return
		}
		targets[abs] = reload
	}
	add(s.layout.DefaultsFile, func(ctx context.Context) error {
		_, err := s.ReloadDefaults(ctx)
		return err
	})
	add(s.layout.UserFile, func(ctx context.Context) error {
		_, err := s.ReloadUser(ctx)
		return err
	})
	if !s.folderMode() {
		add(s.layout.WorkspaceFile, func(ctx context.Context) error {
			_, err := s.ReloadWorkspace(ctx)
			return err
		})
	}
	for uri, fl := range s.folders {
		folder := uri
		reload := func(ctx context.Context) error {
			_, err := s.ReloadFolder(ctx, folder)
			return err
		}
		for _, p := range fl.files() {
			add(p, reload)
		}
	}
	return targets
}

// rewatch aligns the watched files with the current layers. The caller holds
// s.mu.
func (s *Service) rewatch() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher == nil {
		return nil
	}
	targets := s.watchTargets()
	for path, entry := range s.watched {
		if _, ok := targets[path]; ok {
			continue
		}
		entry.cancel()
		entry.stopReload()
		delete(s.watched, path)
	}
	for path, reload := range targets {
		if _, ok := s.watched[path]; ok {
			continue
		}
		ctx, cancel := context.WithCancel(s.watchCtx)
		file := path
		fire, stop := debounce.NewWithMaxWait(s.debounceWait, s.maxWait, func() {
			err := reload(ctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
			case errors.Is(err, configuration.ErrUnknownFolder):
				s.log.Debug("ignoring change for removed folder", "path", file)
			default:
				s.log.Error("failed to reload settings", "path", file, "error", err)
			}
		})
		if err := s.watcher.Watch(ctx, path, fire); err != nil {
			cancel()
			stop()
			s.log.Debug("cannot watch settings file", "path", path, "error", err)
			continue
		}
		s.watched[path] = watchEntry{cancel: cancel, stopReload: stop}
	}
	return nil
}

// WatchedFiles lists the files currently watched.
func (s *Service) WatchedFiles() []string {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Paths()
}

func (s *Service) stopWatching() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for path, entry := range s.watched {
		entry.cancel()
		entry.stopReload()
		delete(s.watched, path)
	}
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Close(); err != nil {
		s.log.Warn("failed to close settings watcher", "error", err)
	}
	s.watcher = nil
}

// Close stops watching and cancels pending reloads.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.watchMu.Lock()
		cancel := s.watchCancel
		s.watchMu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.stopWatching()
		s.cancelSchemaChanged()
	})
	return nil
}
