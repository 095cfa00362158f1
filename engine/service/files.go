package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/strata/engine/model"
	"github.com/compozy/strata/engine/parser"
	"github.com/compozy/strata/engine/schema"
	"github.com/compozy/strata/engine/workspace"
)

const (
	readRetries   = 3
	readBackoff   = 10 * time.Millisecond
	folderLoads   = 8
	globMetaChars = "*?[{"
)

// readLayer returns the content of a layer file. Missing files and empty
// paths read as no content. Other read errors are retried briefly since
// editors may hold the file while saving.
func (s *Service) readLayer(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	var data []byte
	missing := false
	backoff := retry.WithMaxRetries(readRetries, retry.NewExponential(readBackoff))
	err := retry.Do(ctx, backoff, func(context.Context) error {
		var err error
		data, err = afero.ReadFile(s.fs, path)
		switch {
		case err == nil:
			return nil
		case os.IsNotExist(err):
			missing = true
			return nil
		default:
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		s.log.Warn("failed to read layer file", "path", path, "error", err)
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if missing {
		s.log.Debug("layer file not found", "path", path)
		return nil, nil
	}
	return data, nil
}

// parseFile reads path into p. Malformed content is logged by the parser and
// leaves p with an empty model.
func (s *Service) parseFile(ctx context.Context, p *parser.Parser, path string) error {
	data, err := s.readLayer(ctx, path)
	if err != nil {
		return err
	}
	_ = p.Parse(data)
	return nil
}

type standaloneFile struct {
	path   string
	parser *parser.Parser
}

// folderLayer owns the parsers of one workspace folder.
type folderLayer struct {
	folder     workspace.Folder
	settings   *parser.Parser
	path       string
	standalone []standaloneFile
}

func (s *Service) newFolderLayer(f workspace.Folder, policy parser.Policy) *folderLayer {
	opts := []parser.Option{parser.WithLogger(s.log)}
	fl := &folderLayer{folder: f, settings: parser.New(f.Name, policy, opts...)}
	dir, ok := folderDir(f.URI)
	if !ok {
		return fl
	}
	fl.path = filepath.Join(dir, filepath.FromSlash(s.layout.FolderSettings))
	scopes := make([]string, 0, len(s.layout.Standalone))
	for scope := range s.layout.Standalone {
		scopes = append(scopes, scope)
	}
	slices.Sort(scopes)
	for _, scope := range scopes {
		fl.standalone = append(fl.standalone, standaloneFile{
			path:   filepath.Join(dir, filepath.FromSlash(s.layout.Standalone[scope])),
			parser: parser.New(f.Name+"#"+scope, parser.StandalonePolicy(scope), opts...),
		})
	}
	return fl
}

func (fl *folderLayer) files() []string {
	if fl.path == "" {
		return nil
	}
	out := []string{fl.path}
	for _, sf := range fl.standalone {
		out = append(out, sf.path)
	}
	return out
}

func (s *Service) loadFolder(ctx context.Context, fl *folderLayer) error {
	if fl.path == "" {
		return nil
	}
	if err := s.parseFile(ctx, fl.settings, fl.path); err != nil {
		return err
	}
	for _, sf := range fl.standalone {
		if err := s.parseFile(ctx, sf.parser, sf.path); err != nil {
			return err
		}
	}
	return nil
}

// loadFolders reads folder layers concurrently. Each layer owns its parsers.
func (s *Service) loadFolders(ctx context.Context, layers []*folderLayer) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(folderLoads)
	for _, fl := range layers {
		g.Go(func() error {
			return s.loadFolder(gctx, fl)
		})
	}
	return g.Wait()
}

func (fl *folderLayer) reprocess() {
	fl.settings.Reprocess()
}

// model merges the folder settings with its standalone files.
func (fl *folderLayer) model() *model.Model {
	others := make([]*model.Model, 0, len(fl.standalone))
	for _, sf := range fl.standalone {
		others = append(others, sf.parser.Model().Model)
	}
	return fl.settings.Model().Merge(others...)
}

// folderDir maps a file resource to a local directory.
func folderDir(r workspace.Resource) (string, bool) {
	if !r.IsFile() {
		return "", false
	}
	return filepath.FromSlash(r.Path()), true
}

// resolveFolders turns the configured folder list into workspace folders.
// Entries with glob patterns expand to the matching directories in name
// order; folders listed twice keep their first position.
func (s *Service) resolveFolders(paths []string) ([]workspace.Folder, error) {
	out := make([]workspace.Folder, 0, len(paths))
	seen := make(map[workspace.Resource]struct{}, len(paths))
	for _, p := range paths {
		expanded, err := s.expandFolder(p)
		if err != nil {
			return nil, err
		}
		for _, e := range expanded {
			r, err := resolvePath(e)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, workspace.Folder{URI: r})
		}
	}
	return out, nil
}

func (s *Service) expandFolder(p string) ([]string, error) {
	if !strings.ContainsAny(p, globMetaChars) {
		return []string{p}, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	pattern := strings.TrimPrefix(filepath.ToSlash(abs), "/")
	fsys := afero.NewIOFS(afero.NewBasePathFs(s.fs, "/"))
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid folder pattern %q: %w", p, err)
	}
	slices.Sort(matches)
	dirs := make([]string, 0, len(matches))
	for _, m := range matches {
		dir := "/" + m
		if ok, err := afero.IsDir(s.fs, dir); err != nil || !ok {
			continue
		}
		dirs = append(dirs, filepath.FromSlash(dir))
	}
	if len(dirs) == 0 {
		s.log.Warn("folder pattern matched no directories", "pattern", p)
	}
	return dirs, nil
}

func resolvePath(p string) (workspace.Resource, error) {
	if r, err := workspace.ParseResource(p); err == nil {
		return r, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return workspace.FileResource(abs), nil
}

// parseSchemaFile reads property descriptors keyed by setting:
//
//	{"editor.fontSize": {"type": "number", "default": 14, "scope": "language-overridable"}}
func parseSchemaFile(data []byte) (map[string]schema.Property, error) {
	clean := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(clean)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(clean) {
		return nil, fmt.Errorf("%w: invalid JSON", parser.ErrMalformed)
	}
	root := gjson.ParseBytes(clean)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level is not an object", parser.ErrMalformed)
	}
	props := make(map[string]schema.Property)
	var err error
	root.ForEach(func(key, v gjson.Result) bool {
		p := schema.Property{
			Type:        v.Get("type").String(),
			Description: v.Get("description").String(),
			Executable:  v.Get("executable").Bool(),
		}
		if d := v.Get("default"); d.Exists() {
			p.Default = d.Value()
		}
		if sc := v.Get("scope"); sc.Exists() {
			if p.Scope, err = schema.ParseScope(sc.String()); err != nil {
				err = fmt.Errorf("%s: %w", key.String(), err)
				return false
			}
		}
		props[key.String()] = p
		return true
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}
