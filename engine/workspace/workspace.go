// Package workspace models the folder topology a configuration is resolved
// against: which folders are open and which folder owns a given resource.
package workspace

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultLookupCacheSize = 256

// Folder is one workspace folder. Index is its position in the workspace;
// the folder at index 0 is the root folder.
type Folder struct {
	URI   Resource
	Name  string
	Index int
}

// Workspace is an immutable view of the open folders. A nil *Workspace is a
// valid empty workspace.
type Workspace struct {
	id      string
	folders []Folder
	lookups *lru.Cache[Resource, int]
}

// Option configures a Workspace.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithLookupCacheSize bounds the resource-to-folder resolution cache.
func WithLookupCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

// New builds a workspace from folders in order. Duplicate folder URIs are
// rejected.
func New(id string, folders []Folder, opts ...Option) (*Workspace, error) {
	o := options{cacheSize: defaultLookupCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	cache, err := lru.New[Resource, int](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create folder lookup cache: %w", err)
	}
	seen := make(map[Resource]struct{}, len(folders))
	out := make([]Folder, 0, len(folders))
	for i, f := range folders {
		if f.URI.IsZero() {
			return nil, fmt.Errorf("%w: folder %d has no uri", ErrInvalidResource, i)
		}
		if _, dup := seen[f.URI]; dup {
			return nil, fmt.Errorf("duplicate workspace folder %s", f.URI)
		}
		seen[f.URI] = struct{}{}
		if f.Name == "" {
			f.Name = baseName(f.URI)
		}
		f.Index = i
		out = append(out, f)
	}
	return &Workspace{id: id, folders: out, lookups: cache}, nil
}

// ID identifies the workspace, typically the workspace file resource.
func (w *Workspace) ID() string {
	if w == nil {
		return ""
	}
	return w.id
}

// Folders returns a copy of the folders in workspace order.
func (w *Workspace) Folders() []Folder {
	if w == nil {
		return nil
	}
	out := make([]Folder, len(w.folders))
	copy(out, w.folders)
	return out
}

// Root returns the first folder.
func (w *Workspace) Root() (Folder, bool) {
	if w == nil || len(w.folders) == 0 {
		return Folder{}, false
	}
	return w.folders[0], true
}

// IsRoot reports whether r is the root folder's URI.
func (w *Workspace) IsRoot(r Resource) bool {
	root, ok := w.Root()
	return ok && root.URI == r
}

// GetFolder returns the innermost folder containing r.
func (w *Workspace) GetFolder(r Resource) (Folder, bool) {
	if w == nil || r.IsZero() || len(w.folders) == 0 {
		return Folder{}, false
	}
	if idx, ok := w.lookups.Get(r); ok {
		if idx < 0 {
			return Folder{}, false
		}
		return w.folders[idx], true
	}
	idx := -1
	best := -1
	for i, f := range w.folders {
		if !f.URI.Contains(r) {
			continue
		}
		if l := len(f.URI); l > best {
			best = l
			idx = i
		}
	}
	w.lookups.Add(r, idx)
	if idx < 0 {
		return Folder{}, false
	}
	return w.folders[idx], true
}

func baseName(r Resource) string {
	p := r.Path()
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
